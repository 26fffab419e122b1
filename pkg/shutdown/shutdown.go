package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/betbot/sealedsale/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
// 回调按注册的逆序依次执行：先停接入层，再停订阅者，最后关闭存储
type Manager struct {
	mu        sync.Mutex
	callbacks []namedHandler
	done      bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）
// ctx 应该是一个带超时的 context，超时后剩余回调仍会执行，但会拿到已取消的 ctx
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		logger.Infof("没有注册的关闭回调")
		return
	}

	logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))
	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		start := time.Now()
		if err := cb.fn(ctx); err != nil {
			logger.Warnf("关闭 %s 失败: %v", cb.name, err)
			continue
		}
		logger.Debugf("已关闭 %s (%s)", cb.name, time.Since(start))
	}
	if err := ctx.Err(); err != nil {
		logger.Warnf("关闭超时: %v", err)
		return
	}
	logger.Infof("所有关闭回调已完成")
}

// WaitForSignal 阻塞直到收到 SIGINT/SIGTERM 或 ctx 结束
func WaitForSignal(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Infof("收到信号: %s", sig)
		return sig
	case <-ctx.Done():
		return nil
	}
}
