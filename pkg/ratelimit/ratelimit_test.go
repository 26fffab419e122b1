package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	tb := newTokenBucket(2, 4, clk.now)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
	assert.Equal(t, clk.now().Add(250*time.Millisecond), tb.GetResetTime())

	clk.advance(250 * time.Millisecond)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	clk.advance(time.Hour)
	assert.Equal(t, 2, tb.GetRemaining())
}

func TestTokenBucket_WaitHonorsContext(t *testing.T) {
	tb := NewTokenBucket(1, 0)
	require.NoError(t, tb.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestManager_PerKeyBucketsAndEviction(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	m := NewManager(1, 1)
	m.now = clk.now

	assert.True(t, m.Allow("0xb1"))
	assert.False(t, m.Allow("0xb1"))
	assert.True(t, m.Allow("0xb2"))
	assert.Equal(t, 2, m.Len())

	clk.advance(time.Hour)
	assert.True(t, m.Allow("0xb3"))
	assert.Equal(t, 1, m.Len())
}
