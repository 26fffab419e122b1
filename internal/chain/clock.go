package chain

import (
	"sync"
	"time"
)

// Clock 区块时间来源
type Clock interface {
	Now() time.Time
}

// SystemClock 使用系统时间
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock 手动推进的时钟（测试与回放使用）
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set 设置当前时间
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance 向前推进 d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
