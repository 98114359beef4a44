// Package config loads process configuration from YAML with environment
// overrides for the secrets that must not land in files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luv91/tariffstack/internal/infrastructure/db"
)

// Config is the full process configuration. One file drives every command;
// each command reads the sections it needs.
type Config struct {
	Database db.Config      `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	HTTP     HTTPConfig     `yaml:"http"`
	Worker   WorkerConfig   `yaml:"worker"`
	Watch    WatchConfig    `yaml:"watch"`
	Review   ReviewConfig   `yaml:"review"`
	Evidence EvidenceConfig `yaml:"evidence"`
}

// RedisConfig controls the read-side rate cache. Disabled means the
// evaluator reads Postgres directly.
type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// HTTPConfig controls the admin server bind.
type HTTPConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// WorkerConfig controls the ingest worker loop.
type WorkerConfig struct {
	ID           string        `yaml:"id"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StageTimeout time.Duration `yaml:"stage_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	ReapInterval time.Duration `yaml:"reap_interval"`
	ReapBound    time.Duration `yaml:"reap_bound"`
}

// WatchConfig controls the watcher scheduler.
type WatchConfig struct {
	SchedulePath string `yaml:"schedule_path"`
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// ReviewConfig controls the review queue surface.
type ReviewConfig struct {
	SLABound time.Duration `yaml:"sla_bound"`
}

// EvidenceConfig controls ingest fetch behavior. Allowlists, when set,
// replace the built-in per-source host lists.
type EvidenceConfig struct {
	FetchRatePerSec float64             `yaml:"fetch_rate_per_sec"`
	FetchBurst      int                 `yaml:"fetch_burst"`
	Allowlists      map[string][]string `yaml:"allowlists,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			RequestTimeout: 25 * time.Second,
		},
		Worker: WorkerConfig{
			PollInterval: 5 * time.Second,
			StageTimeout: 2 * time.Minute,
			MaxAttempts:  3,
			ReapInterval: time.Minute,
			ReapBound:    10 * time.Minute,
		},
		Watch: WatchConfig{
			ArtifactsDir: "artifacts/runs",
		},
		Review: ReviewConfig{
			SLABound: 48 * time.Hour,
		},
		Evidence: EvidenceConfig{
			FetchRatePerSec: 1,
			FetchBurst:      2,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path loads defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays the environment. The DSN and redis address are the
// values that differ between deployments, so they get dedicated variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("TARIFFSTACK_PG_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("TARIFFSTACK_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("TARIFFSTACK_HTTP_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.HTTP.Port = port
		}
	}
	if v := os.Getenv("TARIFFSTACK_WORKER_ID"); v != "" {
		c.Worker.ID = v
	}
}
