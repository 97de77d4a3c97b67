package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 速率限制器接口
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	Remaining() int
}

// TokenBucket 令牌桶速率限制器
type TokenBucket struct {
	capacity   int       // 桶容量
	tokens     int       // 当前令牌数
	refillRate int       // 每秒补充的令牌数
	lastRefill time.Time // 上次补充时间
	mu         sync.Mutex
}

// NewTokenBucket 创建令牌桶
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// refill 按流逝时间补充令牌，调用方必须持锁
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int(elapsed.Seconds()) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 阻塞等待直到允许请求或 ctx 取消
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}

		waitTime := time.Second
		if tb.refillRate > 0 {
			waitTime = time.Second / time.Duration(tb.refillRate)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// Remaining 剩余令牌数
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

// SlidingWindow 滑动窗口速率限制器
// 记录窗口内每次请求的时间戳，精确控制窗口内请求总数
type SlidingWindow struct {
	limit    int           // 窗口内允许的最大请求数
	window   time.Duration // 窗口长度
	requests []time.Time
	mu       sync.Mutex
}

// NewSlidingWindow 创建滑动窗口限流器
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
	}
}

// prune 移除窗口外的记录，调用方必须持锁
func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.window)
	idx := 0
	for idx < len(sw.requests) && sw.requests[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		sw.requests = sw.requests[idx:]
	}
}

// Allow 检查是否允许请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	sw.prune(now)

	if len(sw.requests) < sw.limit {
		sw.requests = append(sw.requests, now)
		return true
	}
	return false
}

// Wait 阻塞等待直到允许请求或 ctx 取消
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}

		sw.mu.Lock()
		waitTime := sw.window / 10
		if len(sw.requests) > 0 {
			// 等到最旧的一条滑出窗口
			if until := time.Until(sw.requests[0].Add(sw.window)); until > 0 {
				waitTime = until
			}
		}
		sw.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// Remaining 窗口内剩余可用请求数
func (sw *SlidingWindow) Remaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(time.Now())
	return sw.limit - len(sw.requests)
}

// 出站请求的端点类别
const (
	// EndpointPrivate 消耗 nonce 的签名请求
	EndpointPrivate = "private"
	// EndpointPublic 公开行情请求
	EndpointPublic = "public"
)

// Manager 按端点类别管理限流器
type Manager struct {
	limiters map[string]Limiter
	mu       sync.RWMutex
}

// NewManager 创建限流管理器并注册默认端点类别
func NewManager() *Manager {
	m := &Manager{
		limiters: make(map[string]Limiter),
	}

	// 签名请求留足余量（发号本身已有 1ms 步进的吞吐上限）
	m.limiters[EndpointPrivate] = NewTokenBucket(100, 50)
	m.limiters[EndpointPublic] = NewTokenBucket(200, 100)

	return m
}

// Register 注册/覆盖端点类别的限流器
func (m *Manager) Register(endpoint string, limiter Limiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[endpoint] = limiter
}

// Get 获取端点类别的限流器；未注册时回退到 private 类别
func (m *Manager) Get(endpoint string) Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limiter, ok := m.limiters[endpoint]; ok {
		return limiter
	}
	return m.limiters[EndpointPrivate]
}

// Wait 阻塞等待端点类别允许请求
func (m *Manager) Wait(ctx context.Context, endpoint string) error {
	return m.Get(endpoint).Wait(ctx)
}

// Allow 检查端点类别是否允许请求
func (m *Manager) Allow(endpoint string) bool {
	return m.Get(endpoint).Allow()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
