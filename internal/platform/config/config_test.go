package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"plughost/internal/platform/config"
)

func TestNewDerivesPaths(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg, err := config.New(dir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if cfg.DBPath != filepath.Join(dir, ".plughost", "plughost.db") {
		t.Fatalf("unexpected db path: %s", cfg.DBPath)
	}
	if !strings.HasPrefix(cfg.PluginRoot, "file://") || !strings.HasSuffix(cfg.PluginRoot, "/plugins") {
		t.Fatalf("unexpected plugin root: %s", cfg.PluginRoot)
	}
	if cfg.FetchTimeout != config.DefaultFetchTimeout {
		t.Fatalf("unexpected fetch timeout: %s", cfg.FetchTimeout)
	}
	if cfg.RegistryDBPath() != filepath.Join(dir, ".plughost", "registry.db") || cfg.CacheDir() != filepath.Join(dir, ".plughost", "cache") {
		t.Fatalf("unexpected derived paths: %s %s", cfg.RegistryDBPath(), cfg.CacheDir())
	}
	if cfg.Token() != "user:local" {
		t.Fatalf("unexpected default token: %s", cfg.Token())
	}
	if _, err := config.New(""); err == nil {
		t.Fatalf("expected error for empty data dir")
	}
}

func TestLoadOverlaysFileAndDotenv(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlBody := "plugin_dir: ext\norigin: https://host.example\nfetch_timeout: 3s\nauto_grant: true\n"
	if err := os.WriteFile(filepath.Join(dir, "plughost.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PLUGHOST_USER_ID=alice\n"), 0o644); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	cfg, err := config.Load(dir, "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PluginDir != filepath.Join(dir, "ext") {
		t.Fatalf("unexpected plugin dir: %s", cfg.PluginDir)
	}
	if cfg.PluginRoot != config.FileRoot(filepath.Join(dir, "ext")) {
		t.Fatalf("plugin root should follow plugin dir, got %s", cfg.PluginRoot)
	}
	if cfg.Origin != "https://host.example" || cfg.FetchTimeout != 3*time.Second || !cfg.AutoGrant {
		t.Fatalf("file overlay not applied: %+v", cfg)
	}
	if cfg.UserID != "alice" {
		t.Fatalf("dotenv overlay not applied: %s", cfg.UserID)
	}
}

func TestLoadEnvironmentWins(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PLUGHOST_GRANT_BACKEND", "redis")
	t.Setenv("PLUGHOST_REDIS_URL", "redis://127.0.0.1:6379/0")
	t.Setenv("PLUGHOST_LOG_JSON", "true")

	cfg, err := config.Load(dir, "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.GrantBackend != config.GrantBackendRedis || cfg.RedisURL == "" || !cfg.LogJSON {
		t.Fatalf("env overlay not applied: %+v", cfg)
	}
}

func TestValidateRejectsIncompleteBackends(t *testing.T) {
	t.Parallel()
	cfg, err := config.New(t.TempDir())
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	cfg.GrantBackend = config.GrantBackendRedis
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected redis url error")
	}
	cfg.GrantBackend = "etcd"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestValidatePluginRootNeedsOrigin(t *testing.T) {
	t.Parallel()
	cfg, err := config.New(t.TempDir())
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	cfg.PluginRoot = "/plugins"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("page-relative root with an origin should validate: %v", err)
	}
	cfg.Origin = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for page-relative root without origin")
	}
	cfg.PluginRoot = "https://cdn.example.com/plugins"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("absolute root needs no origin: %v", err)
	}
}

func TestDefaultListenAddrIsLoopback(t *testing.T) {
	t.Parallel()
	cfg, err := config.New(t.TempDir())
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8080" {
		t.Fatalf("host API must default to loopback, got %q", cfg.ListenAddr)
	}
}
