package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Session is the in-memory handle of one tenant connection.
type Session struct {
	TenantID string

	mu          sync.RWMutex
	state       State
	accountID   string
	pairingCode string
	lastActive  time.Time

	conn     Connection
	ctx      context.Context
	cancel   func()
	done     chan struct{}
	stopping atomic.Bool
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) AccountID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountID
}

func (s *Session) PairingCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pairingCode
}

// Connection returns the connection every holder of this session shares.
func (s *Session) Connection() Connection {
	return s.conn
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Registry maps tenants to their live session. Acquisition is single-flight
// per tenant, so concurrent callers share one connect.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	group    singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

func (r *Registry) Get(tenantID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[tenantID]
	return s, ok
}

// Acquire returns the tenant's session, calling create at most once across
// concurrent callers when there is none. run is called once the new session
// is registered, so anything it starts can find and remove it.
func (r *Registry) Acquire(tenantID string, create func() (*Session, error), run func(*Session)) (*Session, error) {
	if s, ok := r.Get(tenantID); ok {
		return s, nil
	}
	v, err, _ := r.group.Do(tenantID, func() (any, error) {
		if s, ok := r.Get(tenantID); ok {
			return s, nil
		}
		s, err := create()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.sessions[tenantID] = s
		r.mu.Unlock()
		if run != nil {
			run(s)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Remove drops s if it is still the registered session for its tenant.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.TenantID]; ok && cur == s {
		delete(r.sessions, s.TenantID)
	}
}

func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
