package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/betbot/apigate/pkg/logger"
)

// NonceConfig 发号器配置
type NonceConfig struct {
	QueueSize            int `yaml:"queue_size"`              // 请求队列容量，默认 256
	RequestTimeoutMs     int `yaml:"request_timeout_ms"`      // 调用方等待上限（毫秒），默认 5000
	MinRequestIntervalMs int `yaml:"min_request_interval_ms"` // 同一凭证最小发号间隔（毫秒），默认 100
	RingSize             int `yaml:"ring_size"`               // 最近发号环形缓冲区大小，默认 1000
}

// CacheRuleConfig 单条 TTL/分类推断规则
type CacheRuleConfig struct {
	Substring  string `yaml:"substring"`   // key 包含该子串即命中
	TTLSeconds int    `yaml:"ttl_seconds"` // 命中后的 TTL
	Category   string `yaml:"category"`    // critical / standard / volatile
}

// CacheConfig 缓存配置
type CacheConfig struct {
	SweepIntervalSeconds int               `yaml:"sweep_interval_seconds"` // 定期清理间隔（秒），默认 300
	TopKeys              int               `yaml:"top_keys"`               // 统计返回的热点 key 数量
	Rules                []CacheRuleConfig `yaml:"rules"`                  // 静态规则表（优先于内置启发式）
}

// FreshnessConfig 新鲜度配置
type FreshnessConfig struct {
	DefaultMaxAgeSeconds int `yaml:"default_max_age_seconds"` // 默认新鲜期（秒），默认 30
}

// PushConfig 推送通道配置
type PushConfig struct {
	Enabled             bool   `yaml:"enabled"`
	URL                 string `yaml:"url"`
	ProxyURL            string `yaml:"proxy_url"`
	PingIntervalSeconds int    `yaml:"ping_interval_seconds"`
}

// APIConfig 出站请求配置
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ServerConfig 控制面 HTTP 服务配置
type ServerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// MetricsConfig metrics/debug 服务配置
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// HistoryConfig 发号历史落盘配置
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // SQLite 文件路径
}

// CredStoreConfig 凭证登记存储配置
type CredStoreConfig struct {
	Path string `yaml:"path"` // Badger 目录
}

// SnapshotConfig 缓存快照配置
type SnapshotConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Dir             string `yaml:"dir"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

// Config 应用配置
type Config struct {
	Log       logger.Config   `yaml:"log"`
	Nonce     NonceConfig     `yaml:"nonce"`
	Cache     CacheConfig     `yaml:"cache"`
	Freshness FreshnessConfig `yaml:"freshness"`
	Push      PushConfig      `yaml:"push"`
	API       APIConfig       `yaml:"api"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	History   HistoryConfig   `yaml:"history"`
	CredStore CredStoreConfig `yaml:"credstore"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Log: logger.Config{
			Level:      "info",
			OutputFile: "logs/apigate.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		Nonce: NonceConfig{
			QueueSize:            256,
			RequestTimeoutMs:     5000,
			MinRequestIntervalMs: 100,
			RingSize:             1000,
		},
		Cache: CacheConfig{
			SweepIntervalSeconds: 300,
			TopKeys:              10,
		},
		Freshness: FreshnessConfig{
			DefaultMaxAgeSeconds: 30,
		},
		Push: PushConfig{
			PingIntervalSeconds: 10,
		},
		API: APIConfig{
			TimeoutSeconds: 60,
		},
		Server: ServerConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:8086",
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:6061",
		},
		History: HistoryConfig{
			Path: "data/nonce_history.db",
		},
		CredStore: CredStoreConfig{
			Path: "data/credstore",
		},
		Snapshot: SnapshotConfig{
			Dir:             "data/snapshots",
			IntervalSeconds: 60,
		},
	}
}

// Load 从 YAML 文件加载配置（文件字段覆盖默认值，环境变量再覆盖文件）
// path 为空时只使用默认值 + 环境变量
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv 应用环境变量覆盖
func (c *Config) applyEnv() {
	if v := os.Getenv("APIGATE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("APIGATE_PUSH_URL"); v != "" {
		c.Push.URL = v
		c.Push.Enabled = true
	}
	if v := os.Getenv("APIGATE_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("APIGATE_SERVER_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("APIGATE_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
		c.Metrics.Enabled = true
	}
	if v := os.Getenv("APIGATE_NONCE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Nonce.RequestTimeoutMs = ms
		}
	}
	if v := os.Getenv("APIGATE_MIN_REQUEST_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			c.Nonce.MinRequestIntervalMs = ms
		}
	}
}
