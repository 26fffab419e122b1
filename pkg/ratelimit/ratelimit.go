package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
	GetResetTime() time.Time
}

// TokenBucket 令牌桶速率限制器
type TokenBucket struct {
	capacity   float64 // 桶容量
	tokens     float64 // 当前令牌数
	refillRate float64 // 每秒补充的令牌数
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建新的令牌桶（初始为满）
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity int, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// refill 按经过的时间补充令牌
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 等待直到允许请求
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		wait := time.Until(tb.GetResetTime())
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// GetRemaining 获取剩余令牌数
func (tb *TokenBucket) GetRemaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}

// GetResetTime 下一个令牌可用的时间
func (tb *TokenBucket) GetResetTime() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	now := tb.now()
	if tb.tokens >= 1 || tb.refillRate <= 0 {
		return now
	}
	seconds := (1 - tb.tokens) / tb.refillRate
	return now.Add(time.Duration(seconds * float64(time.Second)))
}

// Manager 按 key（调用方地址）分桶的速率限制管理器
type Manager struct {
	capacity   int
	refillRate float64
	idleTTL    time.Duration
	now        func() time.Time

	mu       sync.Mutex
	limiters map[string]*entry
}

type entry struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// NewManager 每个 key 一个容量为 burst、每秒补充 rps 个令牌的桶
func NewManager(rps float64, burst int) *Manager {
	if burst <= 0 {
		burst = 1
	}
	return &Manager{
		capacity:   burst,
		refillRate: rps,
		idleTTL:    10 * time.Minute,
		now:        time.Now,
		limiters:   make(map[string]*entry),
	}
}

// GetLimiter 获取 key 对应的限制器，不存在时创建
func (m *Manager) GetLimiter(key string) RateLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.limiters[key]
	if !ok {
		m.evictIdleLocked(now)
		e = &entry{bucket: newTokenBucket(m.capacity, m.refillRate, m.now)}
		m.limiters[key] = e
	}
	e.lastSeen = now
	return e.bucket
}

// evictIdleLocked 清理长时间未使用的桶（空闲桶必然已经补满）
func (m *Manager) evictIdleLocked(now time.Time) {
	for k, e := range m.limiters {
		if now.Sub(e.lastSeen) > m.idleTTL {
			delete(m.limiters, k)
		}
	}
}

// Wait 等待直到允许请求
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}

// Allow 检查是否允许请求
func (m *Manager) Allow(key string) bool {
	return m.GetLimiter(key).Allow()
}

// GetRemaining 获取剩余请求数
func (m *Manager) GetRemaining(key string) int {
	return m.GetLimiter(key).GetRemaining()
}

// Len 当前跟踪的 key 数量
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}
