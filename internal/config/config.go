package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the YAML file when --config is not given.
const EnvConfigPath = "CHESSD_CONFIG"

type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Play     PlayConfig     `yaml:"play"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
}

type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// EngineConfig selects the engine transport: a local binary (Path) or a
// remote websocket bridge (URL). URL wins when both are set.
type EngineConfig struct {
	Path           string        `yaml:"path"`
	Args           []string      `yaml:"args"`
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	PoolSize       int           `yaml:"pool_size"`
	Threads        int           `yaml:"threads"`
	HashMB         int           `yaml:"hash_mb"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
	Grace          time.Duration `yaml:"grace"`
	EvalDepth      int           `yaml:"eval_depth"`
	AnalysisLevel  string        `yaml:"analysis_level"`
	AnalysisDepth  int           `yaml:"analysis_depth"`
}

type PlayConfig struct {
	MinDelay     time.Duration `yaml:"min_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MoveBudget   time.Duration `yaml:"move_budget"`
	HintBudget   time.Duration `yaml:"hint_budget"`
	Humanize     bool          `yaml:"humanize"`
	BookPath     string        `yaml:"book_path"`
	TickInterval time.Duration `yaml:"tick_interval"`
	PGNSite      string        `yaml:"pgn_site"`
}

type RedisConfig struct {
	URL        string        `yaml:"url"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// HasEngine reports whether any engine transport is configured.
func (c EngineConfig) HasEngine() bool {
	return strings.TrimSpace(c.URL) != "" || strings.TrimSpace(c.Path) != ""
}

func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			ListenAddr:     "127.0.0.1:8088",
			RequestTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			PoolSize:       2,
			Threads:        1,
			HashMB:         16,
			StartupTimeout: 10 * time.Second,
			Grace:          2 * time.Second,
			EvalDepth:      12,
			AnalysisLevel:  "maximum",
			AnalysisDepth:  22,
		},
		Play: PlayConfig{
			MinDelay:     400 * time.Millisecond,
			MaxDelay:     1200 * time.Millisecond,
			MoveBudget:   time.Second,
			HintBudget:   time.Second,
			Humanize:     true,
			TickInterval: 100 * time.Millisecond,
			PGNSite:      "cheese-board",
		},
		Redis: RedisConfig{SessionTTL: 24 * time.Hour},
	}
}

// Load layers defaults, the YAML file at path (or $CHESSD_CONFIG), and
// environment overrides, then validates the result.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() error {
	setString(&c.Server.ListenAddr, "LISTEN_ADDR")
	setString(&c.Engine.Path, "ENGINE_PATH")
	setString(&c.Engine.URL, "ENGINE_URL")
	setString(&c.Engine.Token, "ENGINE_TOKEN")
	setString(&c.Engine.AnalysisLevel, "ENGINE_ANALYSIS_LEVEL")
	setString(&c.Play.BookPath, "OPENING_BOOK")
	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Database.URL, "DATABASE_URL")

	if v := strings.TrimSpace(os.Getenv("ENGINE_ARGS")); v != "" {
		c.Engine.Args = strings.Fields(v)
	}

	ints := []struct {
		dst *int
		key string
	}{
		{&c.Engine.PoolSize, "ENGINE_POOL_SIZE"},
		{&c.Engine.Threads, "ENGINE_THREADS"},
		{&c.Engine.HashMB, "ENGINE_HASH_MB"},
		{&c.Engine.AnalysisDepth, "ENGINE_ANALYSIS_DEPTH"},
	}
	for _, it := range ints {
		if err := setInt(it.dst, it.key); err != nil {
			return err
		}
	}

	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&c.Server.RequestTimeout, "REQUEST_TIMEOUT"},
		{&c.Engine.StartupTimeout, "ENGINE_STARTUP_TIMEOUT"},
		{&c.Play.MoveBudget, "ENGINE_MOVE_BUDGET"},
		{&c.Redis.SessionTTL, "SESSION_TTL"},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}

	if v := strings.TrimSpace(os.Getenv("ENGINE_HUMANIZE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENGINE_HUMANIZE: %w", err)
		}
		c.Play.Humanize = b
	}
	return nil
}

func (c *AppConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if c.Engine.PoolSize <= 0 {
		errs = append(errs, errors.New("engine.pool_size must be positive"))
	}
	if c.Play.MinDelay < 0 || c.Play.MaxDelay < c.Play.MinDelay {
		errs = append(errs, fmt.Errorf("play delay range %s..%s is invalid", c.Play.MinDelay, c.Play.MaxDelay))
	}
	if c.Redis.SessionTTL <= 0 {
		errs = append(errs, errors.New("redis.session_ttl must be positive"))
	}
	if u := strings.TrimSpace(c.Engine.URL); u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		errs = append(errs, fmt.Errorf("engine.url must be ws:// or wss://, got %q", u))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// setDuration accepts Go durations ("90s") or plain seconds ("90").
func setDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
