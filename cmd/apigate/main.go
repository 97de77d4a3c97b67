package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/apigate/internal/arbiter"
	"github.com/betbot/apigate/internal/controlplane/server"
	"github.com/betbot/apigate/internal/history"
	"github.com/betbot/apigate/internal/metrics"
	"github.com/betbot/apigate/pkg/apiclient"
	"github.com/betbot/apigate/pkg/cache"
	"github.com/betbot/apigate/pkg/config"
	"github.com/betbot/apigate/pkg/credstore"
	"github.com/betbot/apigate/pkg/freshness"
	"github.com/betbot/apigate/pkg/logger"
	"github.com/betbot/apigate/pkg/nonce"
	"github.com/betbot/apigate/pkg/persistence"
	"github.com/betbot/apigate/pkg/pushfeed"
	"github.com/betbot/apigate/pkg/ratelimit"
	"github.com/betbot/apigate/pkg/shutdown"
)

// meteredSink 在推送写入前累加 expvar 计数
type meteredSink struct {
	*freshness.Tracker
}

func (s meteredSink) ConsumePush(category cache.Category, key string, payload interface{}) {
	metrics.PushUpdates.Add(1)
	s.Tracker.ConsumePush(category, key, payload)
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（留空使用默认值 + 环境变量）")
	flag.Parse()

	// .env 不存在不是错误
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	logger.Info("apigate 启动中...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := shutdown.NewManager()

	// 缓存：静态规则表优先于内置启发式
	rules := make([]cache.Rule, 0, len(cfg.Cache.Rules))
	for _, r := range cfg.Cache.Rules {
		rules = append(rules, cache.Rule{
			Substring: r.Substring,
			TTL:       time.Duration(r.TTLSeconds) * time.Second,
			Category:  cache.Category(r.Category),
		})
	}

	store := cache.NewStore(cache.Config{
		Rules:         rules,
		SweepInterval: time.Duration(cfg.Cache.SweepIntervalSeconds) * time.Second,
		TopKeys:       cfg.Cache.TopKeys,
	})
	mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		store.Close()
	})

	tracker := freshness.NewTracker(store)

	issuer := nonce.NewIssuer(nonce.Config{
		QueueSize:          cfg.Nonce.QueueSize,
		RequestTimeout:     time.Duration(cfg.Nonce.RequestTimeoutMs) * time.Millisecond,
		MinRequestInterval: time.Duration(cfg.Nonce.MinRequestIntervalMs) * time.Millisecond,
		RingSize:           cfg.Nonce.RingSize,
	})
	mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		if err := issuer.Shutdown(); err != nil {
			logger.Warnf("发号器关闭异常: %v", err)
		}
	})

	// 发号历史（best-effort：打不开就退化为不落盘）
	var recorder *history.Recorder
	if cfg.History.Enabled {
		recorder, err = history.Open(cfg.History.Path)
		if err != nil {
			logger.Warnf("发号历史不可用: %v", err)
			recorder = nil
		} else {
			issuer.SetRecorder(recorder)
			mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
				if err := recorder.Close(); err != nil {
					logger.Warnf("发号历史关闭异常: %v", err)
				}
			})
		}
	}

	// 凭证登记：启动时把已登记的凭证重放进发号器
	var creds *credstore.Store
	if cfg.CredStore.Path != "" {
		creds, err = credstore.Open(credstore.OpenOptions{Path: cfg.CredStore.Path})
		if err != nil {
			logger.Warnf("凭证存储不可用: %v", err)
			creds = nil
		} else {
			if known, err := creds.List(); err != nil {
				logger.Warnf("凭证列表读取失败: %v", err)
			} else {
				for id, label := range known {
					issuer.RegisterCredential(id, label)
				}
				logger.Infof("已重放 %d 个已登记凭证", len(known))
			}
			mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
				if err := creds.Close(); err != nil {
					logger.Warnf("凭证存储关闭异常: %v", err)
				}
			})
		}
	}

	// 出站客户端（没有 base_url 时仲裁器运行在纯缓存模式）
	var fetcher arbiter.Fetcher
	if cfg.API.BaseURL != "" {
		fetcher = apiclient.New(apiclient.Config{
			BaseURL: cfg.API.BaseURL,
			Timeout: time.Duration(cfg.API.TimeoutSeconds) * time.Second,
		})
	}

	limiter := ratelimit.NewManager()

	arb := arbiter.New(arbiter.Config{
		DefaultMaxAge: time.Duration(cfg.Freshness.DefaultMaxAgeSeconds) * time.Second,
	}, store, tracker, issuer, fetcher, limiter)

	// 缓存快照
	if cfg.Snapshot.Enabled {
		svc := persistence.NewJSONFileService(cfg.Snapshot.Dir)
		snap := arbiter.NewSnapshotService(svc, store, issuer,
			time.Duration(cfg.Snapshot.IntervalSeconds)*time.Second)
		snap.Start()
		mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
			snap.Stop()
		})
	}

	// 推送通道
	if cfg.Push.Enabled && cfg.Push.URL != "" {
		pushCfg := pushfeed.DefaultConfig()
		pushCfg.URL = cfg.Push.URL
		pushCfg.ProxyURL = cfg.Push.ProxyURL
		if cfg.Push.PingIntervalSeconds > 0 {
			pushCfg.PingInterval = time.Duration(cfg.Push.PingIntervalSeconds) * time.Second
		}

		feed := pushfeed.New(meteredSink{tracker}, pushCfg)
		if err := feed.Start(ctx); err != nil {
			logger.Warnf("推送通道启动失败，走缓存/API 路径: %v", err)
			tracker.SetDisconnected(true)
		} else {
			go func() {
				for err := range feed.Errors() {
					logger.Warnf("推送通道错误: %v", err)
				}
			}()
			mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
				feed.Stop()
			})
		}
	} else {
		logger.Info("推送通道未配置，数据只走缓存/API 路径")
	}

	// metrics/debug 服务
	if cfg.Metrics.Enabled {
		if _, err := metrics.StartAsync(ctx, cfg.Metrics.ListenAddr); err != nil {
			logger.Warnf("metrics 服务启动失败: %v", err)
		} else {
			logger.Infof("metrics 服务监听 %s", cfg.Metrics.ListenAddr)
		}
	}

	// 控制面 API
	if cfg.Server.Enabled {
		srv, err := server.New(server.Config{ListenAddr: cfg.Server.ListenAddr}, server.Deps{
			Issuer:  issuer,
			Cache:   store,
			Tracker: tracker,
			History: recorder,
			Creds:   creds,
			Arbiter: arb,
		})
		if err != nil {
			logger.Errorf("控制面初始化失败: %v", err)
			os.Exit(1)
		}
		if _, err := srv.StartAsync(ctx); err != nil {
			logger.Errorf("控制面启动失败: %v", err)
			os.Exit(1)
		}
		logger.Infof("控制面监听 %s", cfg.Server.ListenAddr)
	}

	logger.Info("apigate 启动完成")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("收到退出信号，开始关闭...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)

	logger.Info("apigate 已退出")
}
