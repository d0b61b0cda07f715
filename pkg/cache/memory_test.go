package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chatbridge/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryPairingStoreExpires(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	store := NewMemoryPairingStore()
	store.now = clk.now
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, PendingPairing{
		TenantID:  "t1",
		Code:      "2@abc",
		IssuedAt:  clk.t,
		ExpiresAt: clk.t.Add(3 * time.Minute),
	}))

	p, ok, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2@abc", p.Code)

	clk.advance(3 * time.Minute)
	_, ok, err = store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryEchoSetScopesAndExpires(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	set := NewMemoryEchoSet(2 * time.Minute)
	set.now = clk.now
	ctx := context.Background()

	require.NoError(t, set.Add(ctx, "t1", "M1"))

	ok, _ := set.Contains(ctx, "t1", "M1")
	assert.True(t, ok)
	ok, _ = set.Contains(ctx, "t2", "M1")
	assert.False(t, ok, "ids are scoped per tenant")

	clk.advance(2*time.Minute + time.Second)
	ok, _ = set.Contains(ctx, "t1", "M1")
	assert.False(t, ok)
}

func TestMemoryRateLimiter(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	limiter := NewMemoryRateLimiter(2, time.Minute)
	limiter.now = clk.now
	ctx := context.Background()

	require.NoError(t, limiter.CheckAndConsume(ctx, "t1"))
	require.NoError(t, limiter.CheckAndConsume(ctx, "t1"))

	clk.advance(20 * time.Second)
	err := limiter.CheckAndConsume(ctx, "t1")
	var rl *errs.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 40, rl.RetryAfterSeconds)

	require.NoError(t, limiter.CheckAndConsume(ctx, "t2"), "windows are per key")

	clk.advance(40 * time.Second)
	assert.NoError(t, limiter.CheckAndConsume(ctx, "t1"))
}
