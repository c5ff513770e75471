package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	GrantBackendSQLite = "sqlite"
	GrantBackendRedis  = "redis"

	DefaultFetchTimeout = 10 * time.Second
	envPrefix           = "PLUGHOST_"
)

type Config struct {
	DataDir       string
	DBPath        string
	PluginDir     string
	PluginRoot    string
	Origin        string
	RegistryURL   string
	RegistryToken string
	UserID        string
	GrantBackend  string
	RedisURL      string
	FetchTimeout  time.Duration
	ListenAddr    string
	LogLevel      string
	LogJSON       bool
	AutoGrant     bool
}

type fileConfig struct {
	PluginDir     string `yaml:"plugin_dir"`
	PluginRoot    string `yaml:"plugin_root"`
	Origin        string `yaml:"origin"`
	RegistryURL   string `yaml:"registry_url"`
	RegistryToken string `yaml:"registry_token"`
	UserID        string `yaml:"user_id"`
	GrantBackend  string `yaml:"grant_backend"`
	RedisURL      string `yaml:"redis_url"`
	FetchTimeout  string `yaml:"fetch_timeout"`
	ListenAddr    string `yaml:"listen_addr"`
	LogLevel      string `yaml:"log_level"`
	LogJSON       *bool  `yaml:"log_json"`
	AutoGrant     *bool  `yaml:"auto_grant"`
}

func New(dataDir string) (Config, error) {
	if dataDir == "" {
		return Config{}, fmt.Errorf("data dir is required")
	}
	pluginDir := filepath.Join(dataDir, "plugins")
	return Config{
		DataDir:      dataDir,
		DBPath:       filepath.Join(dataDir, ".plughost", "plughost.db"),
		PluginDir:    pluginDir,
		PluginRoot:   FileRoot(pluginDir),
		Origin:       "http://localhost:8080",
		UserID:       "local",
		GrantBackend: GrantBackendSQLite,
		FetchTimeout: DefaultFetchTimeout,
		ListenAddr:   "127.0.0.1:8080",
		LogLevel:     "info",
	}, nil
}

// Load derives defaults from dataDir, then overlays the YAML file at path (when
// present), the dataDir/.env file and finally PLUGHOST_* environment variables.
func Load(dataDir, path string) (Config, error) {
	cfg, err := New(dataDir)
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		path = filepath.Join(dataDir, "plughost.yaml")
	}
	if err := cfg.applyFile(path); err != nil {
		return Config{}, err
	}
	dotenv, err := readDotenv(filepath.Join(dataDir, ".env"))
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.GrantBackend {
	case GrantBackendSQLite:
	case GrantBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis url is required for grant backend %q", c.GrantBackend)
		}
	default:
		return fmt.Errorf("unknown grant backend: %s", c.GrantBackend)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.PluginRoot == "" {
		return fmt.Errorf("plugin root is required")
	}
	origin, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("parse origin: %w", err)
	}
	root, err := url.Parse(c.PluginRoot)
	if err != nil {
		return fmt.Errorf("parse plugin root: %w", err)
	}
	if !root.IsAbs() && !origin.IsAbs() {
		return fmt.Errorf("plugin root %q is page-relative and needs an absolute origin", c.PluginRoot)
	}
	return nil
}

// RegistryDBPath is the local registry database, kept beside the grant
// ledger database.
func (c Config) RegistryDBPath() string {
	return filepath.Join(filepath.Dir(c.DBPath), "registry.db")
}

// CacheDir holds downloaded compiled plugin binaries.
func (c Config) CacheDir() string {
	return filepath.Join(filepath.Dir(c.DBPath), "cache")
}

// Token is the registry bearer token, derived from the user id when unset.
func (c Config) Token() string {
	if c.RegistryToken != "" {
		return c.RegistryToken
	}
	return "user:" + c.UserID
}

// FileRoot turns a local directory into a file:// plugin root.
func FileRoot(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("decode config file: %w", err)
	}
	if fc.PluginDir != "" {
		c.setPluginDir(fc.PluginDir)
	}
	setString(&c.PluginRoot, fc.PluginRoot)
	setString(&c.Origin, fc.Origin)
	setString(&c.RegistryURL, fc.RegistryURL)
	setString(&c.RegistryToken, fc.RegistryToken)
	setString(&c.UserID, fc.UserID)
	setString(&c.GrantBackend, fc.GrantBackend)
	setString(&c.RedisURL, fc.RedisURL)
	setString(&c.ListenAddr, fc.ListenAddr)
	setString(&c.LogLevel, fc.LogLevel)
	if fc.FetchTimeout != "" {
		d, err := time.ParseDuration(fc.FetchTimeout)
		if err != nil {
			return fmt.Errorf("parse fetch_timeout: %w", err)
		}
		c.FetchTimeout = d
	}
	if fc.LogJSON != nil {
		c.LogJSON = *fc.LogJSON
	}
	if fc.AutoGrant != nil {
		c.AutoGrant = *fc.AutoGrant
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}
	if v, ok := get("PLUGIN_DIR"); ok {
		c.setPluginDir(v)
	}
	for name, dst := range map[string]*string{
		"PLUGIN_ROOT":    &c.PluginRoot,
		"ORIGIN":         &c.Origin,
		"REGISTRY_URL":   &c.RegistryURL,
		"REGISTRY_TOKEN": &c.RegistryToken,
		"USER_ID":        &c.UserID,
		"GRANT_BACKEND":  &c.GrantBackend,
		"REDIS_URL":      &c.RedisURL,
		"LISTEN_ADDR":    &c.ListenAddr,
		"LOG_LEVEL":      &c.LogLevel,
	} {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	if v, ok := get("FETCH_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sFETCH_TIMEOUT: %w", envPrefix, err)
		}
		c.FetchTimeout = d
	}
	for name, dst := range map[string]*bool{
		"LOG_JSON":   &c.LogJSON,
		"AUTO_GRANT": &c.AutoGrant,
	} {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
			}
			*dst = b
		}
	}
	return nil
}

// setPluginDir moves the plugin root along with the directory unless the root
// was pointed somewhere else explicitly.
func (c *Config) setPluginDir(dir string) {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.DataDir, dir)
	}
	if c.PluginRoot == FileRoot(c.PluginDir) {
		c.PluginRoot = FileRoot(dir)
	}
	c.PluginDir = dir
}

func readDotenv(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read dotenv: %w", err)
	}
	return values, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
