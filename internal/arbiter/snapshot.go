package arbiter

import (
	"sync"
	"time"

	"github.com/betbot/apigate/internal/metrics"
	"github.com/betbot/apigate/pkg/cache"
	"github.com/betbot/apigate/pkg/nonce"
	"github.com/betbot/apigate/pkg/persistence"
	"github.com/betbot/apigate/pkg/syncgroup"
)

// snapshotState 缓存快照的落盘格式
type snapshotState struct {
	SavedAt time.Time             `json:"saved_at"`
	Entries []cache.EntrySnapshot `json:"entries"`
}

// SnapshotService 定期把缓存快照写入持久化存储
// 落盘失败只记录日志，绝不影响调用方的主流程
type SnapshotService struct {
	store    persistence.Store
	cache    *cache.Store
	issuer   *nonce.Issuer
	interval time.Duration

	sg       *syncgroup.SyncGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSnapshotService 创建快照服务
func NewSnapshotService(svc persistence.Service, store *cache.Store, issuer *nonce.Issuer, interval time.Duration) *SnapshotService {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &SnapshotService{
		store:    svc.NewStore("snapshot", "apigate", "cache"),
		cache:    store,
		issuer:   issuer,
		interval: interval,
		sg:       syncgroup.NewSyncGroup(),
		stopCh:   make(chan struct{}),
	}
}

// Start 恢复上次快照并启动定期落盘
func (s *SnapshotService) Start() {
	s.restore()
	s.sg.Add(s.loop)
	s.sg.Run()
}

// Stop 停止定期落盘并写一次最终快照
func (s *SnapshotService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.sg.Wait()
	s.save()
}

func (s *SnapshotService) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.save()
			s.syncIssuerMetrics()
		}
	}
}

func (s *SnapshotService) save() {
	state := snapshotState{
		SavedAt: time.Now(),
		Entries: s.cache.Snapshot(),
	}
	if err := s.store.Save(state); err != nil {
		metrics.SnapshotErrors.Add(1)
		log.Warnf("缓存快照落盘失败: %v", err)
		return
	}
	metrics.SnapshotSaves.Add(1)
}

func (s *SnapshotService) restore() {
	var state snapshotState
	if err := s.store.Load(&state); err != nil {
		if err != persistence.ErrNotExists {
			log.Warnf("缓存快照加载失败: %v", err)
		}
		return
	}
	restored := s.cache.Restore(state.Entries)
	log.Infof("已从快照恢复 %d 条缓存（保存于 %s）", restored, state.SavedAt.Format(time.RFC3339))
}

// syncIssuerMetrics 把发号器内部计数同步到 expvar
func (s *SnapshotService) syncIssuerMetrics() {
	if s.issuer == nil {
		return
	}
	status := s.issuer.GetStatus()
	metrics.NonceFallbacks.Set(status.Fallbacks)
}
