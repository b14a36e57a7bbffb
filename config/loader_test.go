package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("CAMPUSHUB_SESSION_AUTHENTICATION_KEY", strings.Repeat("a", 32))
	t.Setenv("CAMPUSHUB_SESSION_ENCRYPTION_KEY", strings.Repeat("b", 32))
	t.Setenv("CAMPUSHUB_PUSH_KEEPALIVE", "15s")

	if err := Load(t.TempDir(), false, nil); err != nil {
		t.Fatalf("loading config: %v", err)
	}
	cfg := Get()

	if cfg.Push.KeepAlive != 15*time.Second {
		t.Fatalf("expected env keepalive 15s, got %v", cfg.Push.KeepAlive)
	}
	if cfg.Push.FetchWindow != 20 || cfg.Push.Bus != BusLocal {
		t.Fatalf("unexpected push defaults %+v", cfg.Push)
	}
	if cfg.Client.BackoffBase != time.Second || cfg.Client.BackoffCap != 30*time.Second || cfg.Client.MaxRetries != 5 {
		t.Fatalf("unexpected client defaults %+v", cfg.Client)
	}
	if cfg.Retention.ReadAfter != 30*24*time.Hour {
		t.Fatalf("unexpected retention %v", cfg.Retention.ReadAfter)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validating: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campushub.yaml")
	content := `
push:
  bus: redis
  fetch_window: 50
client:
  max_retries: 3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if err := Load(path, true, nil); err != nil {
		t.Fatalf("loading config: %v", err)
	}
	cfg := Get()
	if cfg.Push.Bus != BusRedis || cfg.Push.FetchWindow != 50 || cfg.Client.MaxRetries != 3 {
		t.Fatalf("file values not applied: %+v %+v", cfg.Push, cfg.Client)
	}

	if err := Load(filepath.Join(t.TempDir(), "missing.yaml"), true, nil); err == nil {
		t.Fatal("expected an explicit missing file to fail")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Session: SessionConfig{
				AuthenticationKey: strings.Repeat("a", 32),
				EncryptionKey:     strings.Repeat("b", 32),
			},
			Push: PushConfig{Bus: BusLocal, FetchWindow: 20},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := map[string]func(*Config){
		"short key":    func(c *Config) { c.Session.AuthenticationKey = "short" },
		"unknown bus":  func(c *Config) { c.Push.Bus = "kafka" },
		"empty window": func(c *Config) { c.Push.FetchWindow = 0 },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}
