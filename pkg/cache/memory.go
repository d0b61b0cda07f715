package cache

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/chatbridge/pkg/errs"
)

type clock func() time.Time

type MemoryPairingStore struct {
	mu      sync.Mutex
	entries map[string]PendingPairing
	now     clock
}

func NewMemoryPairingStore() *MemoryPairingStore {
	return &MemoryPairingStore{entries: map[string]PendingPairing{}, now: time.Now}
}

func (s *MemoryPairingStore) Put(_ context.Context, p PendingPairing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[p.TenantID] = p
	return nil
}

func (s *MemoryPairingStore) Get(_ context.Context, tenantID string) (PendingPairing, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[tenantID]
	if !ok {
		return PendingPairing{}, false, nil
	}
	if !s.now().Before(p.ExpiresAt) {
		delete(s.entries, tenantID)
		return PendingPairing{}, false, nil
	}
	return p, true, nil
}

func (s *MemoryPairingStore) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, tenantID)
	return nil
}

type MemoryEchoSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	expires map[string]time.Time
	now     clock
}

func NewMemoryEchoSet(ttl time.Duration) *MemoryEchoSet {
	return &MemoryEchoSet{ttl: ttl, expires: map[string]time.Time{}, now: time.Now}
}

func (s *MemoryEchoSet) Add(_ context.Context, tenantID, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweep(now)
	s.expires[scopedKey(tenantID, externalID)] = now.Add(s.ttl)
	return nil
}

func (s *MemoryEchoSet) Contains(_ context.Context, tenantID, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[scopedKey(tenantID, externalID)]
	return ok && s.now().Before(exp), nil
}

// caller holds mu
func (s *MemoryEchoSet) sweep(now time.Time) {
	for k, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, k)
		}
	}
}

type window struct {
	start time.Time
	count int
}

// MemoryRateLimiter is a fixed-window counter per key.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	limit    int
	interval time.Duration
	windows  map[string]*window
	now      clock
}

func NewMemoryRateLimiter(limit int, interval time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{limit: limit, interval: interval, windows: map[string]*window{}, now: time.Now}
}

func (l *MemoryRateLimiter) CheckAndConsume(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.interval {
		w = &window{start: now}
		l.windows[key] = w
	}
	if w.count >= l.limit {
		remaining := w.start.Add(l.interval).Sub(now)
		return &errs.RateLimitError{RetryAfterSeconds: int(math.Ceil(remaining.Seconds()))}
	}
	w.count++
	return nil
}
