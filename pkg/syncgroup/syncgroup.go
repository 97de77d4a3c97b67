package syncgroup

import (
	"sync"
)

type syncGroupFunc func()

// SyncGroup 是 sync.WaitGroup 的包装器，简化后台 goroutine 生命周期管理
// 自动管理 Add() 和 Done()，减少遗漏 Done() 的风险
type SyncGroup struct {
	wg sync.WaitGroup

	sgFuncsMu    sync.Mutex
	sgFuncs      []syncGroupFunc
	hasRun       bool
	runningCount int
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 添加一个 goroutine 函数
// Add() 应该在 Run() 之前调用；如果已经运行过，需要先调用 WaitAndClear()
func (w *SyncGroup) Add(fn syncGroupFunc) {
	if fn == nil {
		return
	}

	w.sgFuncsMu.Lock()
	defer w.sgFuncsMu.Unlock()

	// 已经运行且还有 goroutine 在运行时不允许追加，
	// 必须先 WaitAndClear() 等待全部完成
	if w.hasRun && w.runningCount > 0 {
		return
	}

	w.sgFuncs = append(w.sgFuncs, fn)
}

// Run 启动所有已添加的 goroutine，并清空函数列表避免重复启动
func (w *SyncGroup) Run() {
	w.sgFuncsMu.Lock()

	if w.hasRun && w.runningCount > 0 {
		w.sgFuncsMu.Unlock()
		return
	}

	fns := w.sgFuncs
	w.sgFuncs = []syncGroupFunc{}
	w.hasRun = true
	w.runningCount = len(fns)
	w.sgFuncsMu.Unlock()

	for _, fn := range fns {
		if fn == nil {
			continue
		}
		w.wg.Add(1)
		go func(doFunc syncGroupFunc) {
			defer func() {
				w.wg.Done()
				w.sgFuncsMu.Lock()
				w.runningCount--
				w.sgFuncsMu.Unlock()
			}()
			doFunc()
		}(fn)
	}
}

// WaitAndClear 等待所有 goroutine 完成并清空函数列表
func (w *SyncGroup) WaitAndClear() {
	w.wg.Wait()

	w.sgFuncsMu.Lock()
	w.sgFuncs = []syncGroupFunc{}
	w.hasRun = false
	w.runningCount = 0
	w.sgFuncsMu.Unlock()
}

// Wait 等待所有 goroutine 完成（不清空）
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}
