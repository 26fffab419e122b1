package cache

import (
	"math/big"
	"sync"
	"time"
)

// Cache 通用缓存接口
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Size() int
}

// InMemoryCache 带过期时间的内存缓存
type InMemoryCache[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]cacheItem[V]
	defaultTTL time.Duration
	now        func() time.Time
}

type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

// NewInMemoryCache 创建内存缓存；过期项在读取时惰性剔除
func NewInMemoryCache[K comparable, V any](defaultTTL time.Duration) *InMemoryCache[K, V] {
	return &InMemoryCache[K, V]{
		items:      make(map[K]cacheItem[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get 获取缓存值
func (c *InMemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || c.now().After(item.expiresAt) {
		if ok {
			c.Delete(key)
		}
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set 设置缓存值，ttl 为 0 时使用默认 TTL
func (c *InMemoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.items[key] = cacheItem[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Delete 删除缓存项
func (c *InMemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Size 当前条目数（含尚未剔除的过期项）
func (c *InMemoryCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// AmountCache 链上金额缓存（余额/授权），值以副本形式存取
type AmountCache struct {
	cache *InMemoryCache[string, *big.Int]
}

// NewAmountCache ttl <= 0 时不缓存
func NewAmountCache(ttl time.Duration) *AmountCache {
	if ttl <= 0 {
		return &AmountCache{}
	}
	return &AmountCache{cache: NewInMemoryCache[string, *big.Int](ttl)}
}

func (ac *AmountCache) Get(key string) (*big.Int, bool) {
	if ac.cache == nil {
		return nil, false
	}
	v, ok := ac.cache.Get(key)
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(v), true
}

func (ac *AmountCache) Set(key string, v *big.Int) {
	if ac.cache == nil || v == nil {
		return
	}
	ac.cache.Set(key, new(big.Int).Set(v), 0)
}
