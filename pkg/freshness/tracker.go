// Package freshness 跟踪推送数据的新鲜度，决定缓存数据是否可以替代一次消耗 nonce 的 API 调用
package freshness

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/apigate/pkg/cache"
)

var log = logrus.WithField("component", "freshness")

// State 分类的推送状态
type State string

const (
	// StateNeverReceived 从未收到过该分类的推送
	StateNeverReceived State = "never_received"
	// StateFresh 最近一次推送仍在允许的新鲜期内
	StateFresh State = "fresh"
	// StateStale 最近一次推送已超龄
	StateStale State = "stale"
	// StateDisconnected 推送通道断开（外部信号，覆盖所有年龄判断）
	StateDisconnected State = "disconnected"
)

// Tracker 按分类记录推送时间戳，在 CacheStore 之上做独立的新鲜度判断
// 推送写入路径永远不触碰发号器
type Tracker struct {
	cache *cache.Store

	mu           sync.RWMutex
	lastPushAt   map[cache.Category]time.Time
	pushCount    map[cache.Category]int64
	disconnected bool

	nowFunc func() time.Time
}

// NewTracker 创建新鲜度跟踪器
func NewTracker(store *cache.Store) *Tracker {
	return &Tracker{
		cache:      store,
		lastPushAt: make(map[cache.Category]time.Time),
		pushCount:  make(map[cache.Category]int64),
		nowFunc:    time.Now,
	}
}

// ConsumePush 消费一条推送：按分类默认 TTL 写入缓存并刷新 last_push_at
func (t *Tracker) ConsumePush(category cache.Category, key string, payload interface{}) {
	if !category.Valid() {
		category = cache.CategoryStandard
	}

	t.cache.SetEntry(key, payload, category.DefaultTTL(), category)

	t.mu.Lock()
	t.lastPushAt[category] = t.nowFunc()
	t.pushCount[category]++
	t.mu.Unlock()

	log.Debugf("推送写入: category=%s key=%s", category, key)
}

// SetDisconnected 标记推送通道断开/恢复
// 断开期间 ShouldUseFallback 无条件为 true
func (t *Tracker) SetDisconnected(disconnected bool) {
	t.mu.Lock()
	changed := t.disconnected != disconnected
	t.disconnected = disconnected
	t.mu.Unlock()

	if changed {
		if disconnected {
			log.Warn("推送通道已断开，新鲜度判断全部失效")
		} else {
			log.Info("推送通道已恢复")
		}
	}
}

// Disconnected 当前是否处于断开状态
func (t *Tracker) Disconnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.disconnected
}

// GetIfFresh 仅当该分类最近一次推送在 maxAge 内时返回缓存值
// 这是独立于 CacheStore TTL 的更严格的判断
func (t *Tracker) GetIfFresh(category cache.Category, key string, maxAge time.Duration) (interface{}, bool) {
	if t.ShouldUseFallback(category, maxAge) {
		return nil, false
	}
	return t.cache.Get(key)
}

// ShouldUseFallback 判断是否需要发起一次消耗 nonce 的请求
// true 的条件：推送通道断开、该分类从未收到推送、或最近推送已超过 maxAge
func (t *Tracker) ShouldUseFallback(category cache.Category, maxAge time.Duration) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.disconnected {
		return true
	}
	last, ok := t.lastPushAt[category]
	if !ok {
		return true
	}
	return t.nowFunc().Sub(last) > maxAge
}

// StateOf 返回分类的当前状态（观测用）
func (t *Tracker) StateOf(category cache.Category, maxAge time.Duration) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.disconnected {
		return StateDisconnected
	}
	last, ok := t.lastPushAt[category]
	if !ok {
		return StateNeverReceived
	}
	if t.nowFunc().Sub(last) > maxAge {
		return StateStale
	}
	return StateFresh
}

// LastPushAt 返回分类最近一次推送时间
func (t *Tracker) LastPushAt(category cache.Category) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	last, ok := t.lastPushAt[category]
	return last, ok
}

// PushCount 返回分类累计收到的推送条数
func (t *Tracker) PushCount(category cache.Category) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pushCount[category]
}
