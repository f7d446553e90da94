package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chessd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:8088" || cfg.Engine.PoolSize != 2 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Engine.HasEngine() {
		t.Fatalf("no engine configured but HasEngine is true")
	}
}

func TestFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9000"
engine:
  path: /usr/bin/stockfish
  pool_size: 4
  startup_timeout: 3s
play:
  min_delay: 100ms
  max_delay: 200ms
redis:
  url: redis://localhost:6379/1
`)
	t.Setenv("ENGINE_POOL_SIZE", "6")
	t.Setenv("SESSION_TTL", "90")
	t.Setenv("ENGINE_HUMANIZE", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Fatalf("listen addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Engine.PoolSize != 6 {
		t.Fatalf("env should override file: pool size = %d", cfg.Engine.PoolSize)
	}
	if cfg.Engine.StartupTimeout != 3*time.Second || cfg.Play.MaxDelay != 200*time.Millisecond {
		t.Fatalf("durations = %s %s", cfg.Engine.StartupTimeout, cfg.Play.MaxDelay)
	}
	if cfg.Redis.SessionTTL != 90*time.Second {
		t.Fatalf("session ttl = %s", cfg.Redis.SessionTTL)
	}
	if cfg.Play.Humanize {
		t.Fatalf("humanize should be off")
	}
	if !cfg.Engine.HasEngine() {
		t.Fatalf("engine path not picked up")
	}
	// untouched keys keep their defaults
	if cfg.Engine.AnalysisLevel != "maximum" {
		t.Fatalf("analysis level = %q", cfg.Engine.AnalysisLevel)
	}
}

func TestConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_addr: \"127.0.0.1:7000\"\n")
	t.Setenv(EnvConfigPath, path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("listen addr = %q", cfg.Server.ListenAddr)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file accepted")
	}
	if _, err := Load(writeConfig(t, "server: [")); err == nil {
		t.Fatalf("broken yaml accepted")
	}

	t.Setenv("ENGINE_POOL_SIZE", "many")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "ENGINE_POOL_SIZE") {
		t.Fatalf("bad int = %v", err)
	}
	t.Setenv("ENGINE_POOL_SIZE", "")

	t.Setenv("ENGINE_URL", "http://engine.local")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "engine.url") {
		t.Fatalf("bad engine url = %v", err)
	}
	t.Setenv("ENGINE_URL", "")

	_, err := Load(writeConfig(t, "play:\n  min_delay: 2s\n  max_delay: 1s\n"))
	if err == nil || !strings.Contains(err.Error(), "delay") {
		t.Fatalf("inverted delay = %v", err)
	}
}
