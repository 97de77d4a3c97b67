// Package arbiter 是出站请求的决策门面：
// 每次调用先问新鲜度（推送数据是否够新），再问缓存，最后才走消耗 nonce 的 API 路径。
package arbiter

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/apigate/internal/metrics"
	"github.com/betbot/apigate/pkg/cache"
	"github.com/betbot/apigate/pkg/freshness"
	"github.com/betbot/apigate/pkg/nonce"
	"github.com/betbot/apigate/pkg/ratelimit"
)

var log = logrus.WithField("component", "arbiter")

// Fetcher 执行一次消耗 nonce 的出站请求
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string, nonce int64) ([]byte, error)
}

// Source 数据来源
type Source string

const (
	// SourcePush 推送数据足够新，直接取缓存
	SourcePush Source = "push"
	// SourceCache 普通缓存命中
	SourceCache Source = "cache"
	// SourceAPI 消耗 nonce 的 API 请求
	SourceAPI Source = "api"
)

// Request 一次数据请求
type Request struct {
	Key          string         // 缓存 key
	Endpoint     string         // 出站端点（为空时用 Key）
	CredentialID string         // 发号凭证
	Label        string         // 请求方标签（观测用）
	Category     cache.Category // 数据分类
	MaxAge       time.Duration  // 推送数据可接受的最大年龄（0 用默认值）
}

// Config 仲裁器配置
type Config struct {
	DefaultMaxAge time.Duration // 默认推送新鲜期，默认 30 秒
}

// Arbiter 请求仲裁器
type Arbiter struct {
	cfg     Config
	cache   *cache.Store
	tracker *freshness.Tracker
	issuer  *nonce.Issuer
	fetcher Fetcher
	limiter *ratelimit.Manager
}

// New 创建仲裁器；fetcher 和 limiter 可以为 nil（纯缓存模式）
func New(cfg Config, store *cache.Store, tracker *freshness.Tracker, issuer *nonce.Issuer, fetcher Fetcher, limiter *ratelimit.Manager) *Arbiter {
	if cfg.DefaultMaxAge <= 0 {
		cfg.DefaultMaxAge = 30 * time.Second
	}
	return &Arbiter{
		cfg:     cfg,
		cache:   store,
		tracker: tracker,
		issuer:  issuer,
		fetcher: fetcher,
		limiter: limiter,
	}
}

// Resolve 解析一次数据请求
// 快路径：推送新鲜数据 > 缓存命中；慢路径：限流 → 发号 → 出站请求 → 回填缓存
func (a *Arbiter) Resolve(ctx context.Context, req Request) (interface{}, Source, error) {
	if req.Key == "" {
		return nil, "", fmt.Errorf("key 不能为空")
	}

	maxAge := req.MaxAge
	if maxAge <= 0 {
		maxAge = a.cfg.DefaultMaxAge
	}

	// 推送通道足够新鲜时优先用推送数据，完全避开发号
	if !a.tracker.ShouldUseFallback(req.Category, maxAge) {
		if v, ok := a.tracker.GetIfFresh(req.Category, req.Key, maxAge); ok {
			metrics.CacheHits.Add(1)
			return v, SourcePush, nil
		}
	}

	if v, ok := a.cache.Get(req.Key); ok {
		metrics.CacheHits.Add(1)
		return v, SourceCache, nil
	}
	metrics.CacheMisses.Add(1)

	if a.fetcher == nil {
		return nil, SourceAPI, fmt.Errorf("缓存未命中且没有配置出站客户端: key=%s", req.Key)
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, ratelimit.EndpointPrivate); err != nil {
			return nil, SourceAPI, err
		}
	}

	label := req.Label
	if label == "" {
		label = "arbiter"
	}
	n, err := a.issuer.RequestContext(ctx, req.CredentialID, label)
	if err != nil {
		return nil, SourceAPI, err
	}
	metrics.NoncesIssued.Add(1)

	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = req.Key
	}

	body, err := a.fetcher.Fetch(ctx, endpoint, n)
	if err != nil {
		metrics.APIErrors.Add(1)
		return nil, SourceAPI, err
	}
	metrics.APIFetches.Add(1)

	a.cache.SetEntry(req.Key, body, 0, req.Category)
	log.Debugf("API 回填缓存: key=%s nonce=%d bytes=%d", req.Key, n, len(body))

	return body, SourceAPI, nil
}
