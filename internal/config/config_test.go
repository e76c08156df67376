package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func writeConfig(t *testing.T, root, setting, env string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if setting != "" {
		if err := os.WriteFile(filepath.Join(root, "config", "setting.ini"), []byte(setting), 0o644); err != nil {
			t.Fatalf("write setting: %v", err)
		}
	}
	if env != "" {
		if err := os.WriteFile(filepath.Join(root, "config", "dev", "chatd.ini"), []byte(env), 0o644); err != nil {
			t.Fatalf("write env config: %v", err)
		}
	}
}

func TestLoadChatConfig(t *testing.T) {
	tmp := t.TempDir()
	setting := "environment=dev\nlog_level=debug\nstore_driver=sqlite\nreaper_delay=5s\n"
	env := strings.Join([]string{
		"# chat daemon",
		"[server]",
		"http_address=:9090",
		"sql_dsn=/tmp/chatd-test.db",
		"cache_driver=memory",
		"reaper_delay=30s",
		"rate_limit_burst=3",
		"serper_key=from-file",
		"search_enabled=no",
	}, "\n")
	writeConfig(t, tmp, setting, env)
	t.Setenv("SERPER_KEY", "from-env")
	t.Setenv("KEY_ENCRYPTION_SECRET", testSecret)

	cfg, err := LoadChatConfig(tmp)
	if err != nil {
		t.Fatalf("LoadChatConfig: %v", err)
	}
	if cfg.HTTPAddress != ":9090" {
		t.Fatalf("unexpected http address %s", cfg.HTTPAddress)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from base config, got %s", cfg.LogLevel)
	}
	if cfg.StoreDriver != StoreSQLite || cfg.SQLDSN != "/tmp/chatd-test.db" {
		t.Fatalf("unexpected store %s %s", cfg.StoreDriver, cfg.SQLDSN)
	}
	if cfg.ReaperDelay != 30*time.Second {
		t.Fatalf("env file should override settings, got %v", cfg.ReaperDelay)
	}
	if cfg.BatchWindow != 100*time.Millisecond || cfg.SSEKeepAlive != 15*time.Second || cfg.CredentialTTL != time.Hour || cfg.StreamIdle != 2*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SerperKey != "from-env" {
		t.Fatalf("env var should win, got %s", cfg.SerperKey)
	}
	if cfg.SearchEnabled {
		t.Fatalf("search should be disabled")
	}
	if cfg.RateLimitBurst != 3 || cfg.RateLimitRPS != 0.5 {
		t.Fatalf("unexpected rate limit %v/%v", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.OpenRouterBaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("unexpected openrouter url %s", cfg.OpenRouterBaseURL)
	}
}

func TestLoadChatConfigMissingFiles(t *testing.T) {
	cfg, err := LoadChatConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadChatConfig: %v", err)
	}
	if cfg.Environment != "dev" || cfg.StoreDriver != StoreMongo || cfg.CacheDriver != CacheRedis {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MongoDatabase != "chat" {
		t.Fatalf("unexpected database %s", cfg.MongoDatabase)
	}
}

func TestLoadChatConfigBadDuration(t *testing.T) {
	tmp := t.TempDir()
	writeConfig(t, tmp, "", "batch_window=soon\n")
	if _, err := LoadChatConfig(tmp); err == nil || !strings.Contains(err.Error(), "batch_window") {
		t.Fatalf("expected batch_window error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := ChatConfig{
		StoreDriver:         StoreMemory,
		CacheDriver:         CacheMemory,
		KeyEncryptionSecret: testSecret,
		AuthDisabled:        true,
		BatchWindow:         time.Millisecond,
		ReaperDelay:         time.Second,
		SSEKeepAlive:        time.Second,
		TaskTimeout:         time.Second,
		StreamIdle:          time.Minute,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	bad := valid
	bad.StoreDriver = StoreMongo
	bad.CacheDriver = "memcached"
	bad.KeyEncryptionSecret = "abcd"
	bad.AuthDisabled = false
	bad.SearchEnabled = true
	bad.StreamIdle = 0
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"mongodb_uri", "cache_driver", "key_encryption_secret", "session_secret_key", "serper_key", "stream_idle_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}
