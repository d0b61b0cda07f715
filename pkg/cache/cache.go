// Package cache holds the short-lived shared state of the bridge: pending
// pairing codes, the own-echo set and the per-tenant rate limiter. Each has
// an in-process and a redis implementation.
package cache

import (
	"context"
	"time"
)

// PendingPairing is a pairing code waiting to be scanned.
type PendingPairing struct {
	TenantID  string    `json:"tenant_id"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type PairingStore interface {
	Put(ctx context.Context, p PendingPairing) error
	// Get reports false when nothing is cached or the code expired.
	Get(ctx context.Context, tenantID string) (PendingPairing, bool, error)
	Delete(ctx context.Context, tenantID string) error
}

// EchoSet remembers ids of messages this process sent so their echo is not
// ingested again. Advisory only; entries expire on their own.
type EchoSet interface {
	Add(ctx context.Context, tenantID, externalID string) error
	Contains(ctx context.Context, tenantID, externalID string) (bool, error)
}

// RateLimiter consumes one unit for key. A rejection is returned as
// *errs.RateLimitError.
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, key string) error
}

func scopedKey(tenantID, id string) string {
	return tenantID + ":" + id
}
