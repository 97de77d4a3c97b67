package cache

import "time"

// EntrySnapshot 可序列化的缓存条目快照，用于落盘/恢复
type EntrySnapshot struct {
	Key       string      `json:"key"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
	TTLMs     int64       `json:"ttl_ms"`
	Category  Category    `json:"category"`
}

// Snapshot 导出所有未过期条目的快照
func (s *Store) Snapshot() []EntrySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	out := make([]EntrySnapshot, 0, len(s.items))
	for key, e := range s.items {
		if now.Sub(e.createdAt) >= e.ttl {
			continue
		}
		out = append(out, EntrySnapshot{
			Key:       key,
			Payload:   e.payload,
			CreatedAt: e.createdAt,
			TTLMs:     e.ttl.Milliseconds(),
			Category:  e.category,
		})
	}
	return out
}

// Restore 从快照恢复条目，保留原始 createdAt；已过期的条目跳过
// 返回实际恢复的条目数
func (s *Store) Restore(entries []EntrySnapshot) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	count := 0
	for _, snap := range entries {
		ttl := time.Duration(snap.TTLMs) * time.Millisecond
		if ttl <= 0 {
			ttl = DefaultTTLValue
		}
		if now.Sub(snap.CreatedAt) >= ttl {
			continue
		}
		category := snap.Category
		if !category.Valid() {
			category = CategoryStandard
		}
		s.items[snap.Key] = &entry{
			payload:      snap.Payload,
			createdAt:    snap.CreatedAt,
			ttl:          ttl,
			category:     category,
			lastAccessAt: now,
		}
		count++
	}
	return count
}
