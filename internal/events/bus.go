package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "event_bus")

// Handler 事件订阅者
type Handler interface {
	HandleEvent(ctx context.Context, env Envelope) error
}

// HandlerFunc 函数适配
type HandlerFunc func(ctx context.Context, env Envelope) error

func (f HandlerFunc) HandleEvent(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}

// Bus 有序扇出：事件按提交顺序逐个交给所有订阅者
// 订阅者的错误只记录日志，不影响已提交的状态迁移
type Bus struct {
	mu       sync.RWMutex
	handlers []namedHandler
}

type namedHandler struct {
	name string
	h    Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe 注册订阅者
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, namedHandler{name: name, h: h})
	b.mu.Unlock()
}

// Publish 依次分发一批事件
func (b *Bus) Publish(ctx context.Context, envs []Envelope) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, env := range envs {
		for _, nh := range handlers {
			if err := nh.h.HandleEvent(ctx, env); err != nil {
				log.WithError(err).Warnf("订阅者处理事件失败: subscriber=%s event=%s seq=%d", nh.name, env.Name(), env.Seq)
			}
		}
	}
}
