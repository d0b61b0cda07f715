// Package realtime pushes tenant-scoped events to connected dashboards. Every
// emitter is fire-and-forget: no delivery guarantee and no error to the caller.
package realtime

import "time"

type Emitter interface {
	Emit(tenantID, event string, payload any)
}

// Event is the frame written to websocket clients.
type Event struct {
	Event    string    `json:"event"`
	TenantID string    `json:"tenant_id"`
	Payload  any       `json:"payload,omitempty"`
	At       time.Time `json:"at"`
}

// Multi emits to every wrapped emitter in order.
type Multi []Emitter

func (m Multi) Emit(tenantID, event string, payload any) {
	for _, e := range m {
		if e != nil {
			e.Emit(tenantID, event, payload)
		}
	}
}

// Nop drops everything.
type Nop struct{}

func (Nop) Emit(string, string, any) {}
