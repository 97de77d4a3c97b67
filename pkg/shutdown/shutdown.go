// Package shutdown 收拢进程退出时各组件的停机动作
// 发号器、缓存、推送通道等组件各自登记回调，退出信号到来时统一执行
package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/apigate/pkg/logger"
)

// Handler 单个组件的停机函数
type Handler func(ctx context.Context, wg *sync.WaitGroup)

// Manager 停机回调管理器
type Manager struct {
	callbacks []Handler
	mu        sync.Mutex
}

// NewManager 创建停机管理器
func NewManager() *Manager {
	return &Manager{
		callbacks: make([]Handler, 0),
	}
}

// OnShutdown 登记一个停机回调
func (m *Manager) OnShutdown(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, handler)
}

// Shutdown 并发执行所有停机回调并等待完成（阻塞调用）
// ctx 应带超时，避免某个组件卡死拖住整个进程
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		logger.Info("[shutdown] 没有需要执行的停机回调")
		return
	}

	logger.Infof("[shutdown] 开始停机，共 %d 个组件", len(callbacks))

	var wg sync.WaitGroup
	wg.Add(len(callbacks))

	for _, cb := range callbacks {
		go func(handler Handler) {
			defer wg.Done()
			handler(ctx, &wg)
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("[shutdown] 所有组件已停机")
	case <-ctx.Done():
		logger.Warnf("[shutdown] 停机超时: %v", ctx.Err())
	}
}
