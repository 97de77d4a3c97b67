package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Store 进程内 TTL 缓存
// 单把互斥锁保护整个 map：条目小、操作近似 O(1)，粗粒度锁足够
type Store struct {
	mu    sync.Mutex
	items map[string]*entry
	rules []Rule

	hits   int64
	misses int64
	sets   int64

	sweepInterval time.Duration
	topKeys       int
	nowFunc       func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
	closed bool
}

// entry 缓存项
type entry struct {
	payload      interface{}
	createdAt    time.Time
	ttl          time.Duration
	category     Category
	accessCount  int64
	lastAccessAt time.Time
}

// Config 缓存配置
type Config struct {
	// Rules 静态规则表（优先于内置启发式规则）
	Rules []Rule
	// SweepInterval 定期清理间隔，默认 300 秒
	SweepInterval time.Duration
	// TopKeys Stats() 返回的热点 key 数量，默认 10
	TopKeys int
}

// NewStore 创建缓存并启动定期清理 goroutine
func NewStore(cfg Config) *Store {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 300 * time.Second
	}
	if cfg.TopKeys <= 0 {
		cfg.TopKeys = 10
	}

	s := &Store{
		items:         make(map[string]*entry),
		rules:         append(append([]Rule{}, cfg.Rules...), DefaultRules()...),
		sweepInterval: cfg.SweepInterval,
		topKeys:       cfg.TopKeys,
		nowFunc:       time.Now,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	go s.sweepLoop()

	return s
}

// Get 获取缓存值；过期条目当场删除并计为 miss
func (s *Store) Get(key string) (interface{}, bool) {
	return s.GetWithTTL(key, 0)
}

// GetWithTTL 获取缓存值，用 override 替代条目自身的 TTL 做有效性判断
// override <= 0 时使用条目自身的 TTL
func (s *Store) GetWithTTL(key string, override time.Duration) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, false
	}

	ttl := e.ttl
	if override > 0 {
		ttl = override
	}

	now := s.nowFunc()
	if now.Sub(e.createdAt) >= ttl {
		// 惰性清理：过期条目从存储中移除
		delete(s.items, key)
		s.misses++
		return nil, false
	}

	e.accessCount++
	e.lastAccessAt = now
	s.hits++
	return e.payload, true
}

// Set 写入缓存，TTL 和分类按规则表推断
func (s *Store) Set(key string, value interface{}) {
	s.SetEntry(key, value, 0, "")
}

// SetWithTTL 写入缓存并显式指定 TTL
func (s *Store) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	s.SetEntry(key, value, ttl, "")
}

// SetWithCategory 写入缓存并显式指定分类
func (s *Store) SetWithCategory(key string, value interface{}, category Category) {
	s.SetEntry(key, value, 0, category)
}

// SetEntry 写入缓存
// TTL 解析顺序：显式 ttl > 规则表（静态规则优先于内置启发式）> 分类默认 TTL > 30 秒
// 分类解析顺序：显式 category > 规则表 > standard
func (s *Store) SetEntry(key string, value interface{}, ttl time.Duration, category Category) {
	ruleTTL, ruleCategory, matched := Resolve(key, s.rules)

	if category == "" {
		category = ruleCategory
	}
	if ttl <= 0 {
		if matched {
			ttl = ruleTTL
		} else if category.Valid() {
			ttl = category.DefaultTTL()
		} else {
			ttl = DefaultTTLValue
		}
	}

	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sets++
	s.items[key] = &entry{
		payload:      value,
		createdAt:    now,
		ttl:          ttl,
		category:     category,
		lastAccessAt: now,
	}
}

// Delete 删除指定 key
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// InvalidatePattern 删除所有 key 包含 pattern 子串的条目，返回删除数量
// 没有命中任何 key 时返回 0，不改变任何状态
func (s *Store) InvalidatePattern(pattern string) int {
	if pattern == "" {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key := range s.items {
		if strings.Contains(key, pattern) {
			delete(s.items, key)
			count++
		}
	}
	return count
}

// Clear 清空缓存，返回删除数量
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.items)
	s.items = make(map[string]*entry)
	return count
}

// Size 当前条目数（含未被惰性清理的过期条目）
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// KeyStat 单个 key 的访问统计
type KeyStat struct {
	Key         string `json:"key"`
	AccessCount int64  `json:"access_count"`
}

// Stats 缓存统计快照
type Stats struct {
	Hits       int64            `json:"hits"`
	Misses     int64            `json:"misses"`
	Sets       int64            `json:"sets"`
	Total      int64            `json:"total"`
	HitRate    float64          `json:"hit_rate"`
	Entries    int              `json:"entries"`
	ByCategory map[Category]int `json:"by_category"`
	TopKeys    []KeyStat        `json:"top_keys"`
}

// GetStats 返回统计快照：命中率、分类分布、热点 key
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Hits:       s.hits,
		Misses:     s.misses,
		Sets:       s.sets,
		Total:      s.hits + s.misses,
		Entries:    len(s.items),
		ByCategory: make(map[Category]int),
	}
	if stats.Total > 0 {
		stats.HitRate = float64(s.hits) / float64(stats.Total)
	}

	all := make([]KeyStat, 0, len(s.items))
	for key, e := range s.items {
		stats.ByCategory[e.category]++
		all = append(all, KeyStat{Key: key, AccessCount: e.accessCount})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].AccessCount != all[j].AccessCount {
			return all[i].AccessCount > all[j].AccessCount
		}
		return all[i].Key < all[j].Key
	})
	if len(all) > s.topKeys {
		all = all[:s.topKeys]
	}
	stats.TopKeys = all

	return stats
}

// sweepLoop 定期清理过期条目
func (s *Store) sweepLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep 删除所有当前已过期的条目（无论是否被访问过），返回删除数量
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	count := 0
	for key, e := range s.items {
		if now.Sub(e.createdAt) >= e.ttl {
			delete(s.items, key)
			count++
		}
	}
	return count
}

// Close 停止定期清理 goroutine
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}
