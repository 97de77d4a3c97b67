package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Nonce.QueueSize != 256 || cfg.Nonce.RequestTimeoutMs != 5000 {
		t.Fatalf("unexpected nonce defaults: %+v", cfg.Nonce)
	}
	if cfg.Cache.SweepIntervalSeconds != 300 {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if !cfg.Server.Enabled || cfg.Server.ListenAddr == "" {
		t.Fatalf("control plane should be enabled by default: %+v", cfg.Server)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
nonce:
  queue_size: 32
  request_timeout_ms: 1000
cache:
  rules:
    - substring: "portfolio"
      ttl_seconds: 45
      category: critical
push:
  enabled: true
  url: "wss://example.test/feed"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Nonce.QueueSize != 32 || cfg.Nonce.RequestTimeoutMs != 1000 {
		t.Fatalf("file values not applied: %+v", cfg.Nonce)
	}
	// 未出现在文件里的字段保持默认值
	if cfg.Nonce.MinRequestIntervalMs != 100 {
		t.Fatalf("untouched field lost its default: %+v", cfg.Nonce)
	}
	if len(cfg.Cache.Rules) != 1 || cfg.Cache.Rules[0].Substring != "portfolio" {
		t.Fatalf("rules not loaded: %+v", cfg.Cache.Rules)
	}
	if !cfg.Push.Enabled || cfg.Push.URL != "wss://example.test/feed" {
		t.Fatalf("push config not loaded: %+v", cfg.Push)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("APIGATE_NONCE_TIMEOUT_MS", "250")
	t.Setenv("APIGATE_PUSH_URL", "wss://env.test/feed")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Nonce.RequestTimeoutMs != 250 {
		t.Fatalf("env override not applied: %+v", cfg.Nonce)
	}
	if !cfg.Push.Enabled || cfg.Push.URL != "wss://env.test/feed" {
		t.Fatalf("push env override not applied: %+v", cfg.Push)
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
