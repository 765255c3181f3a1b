package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SourceConfig configures the CRM source client and the fetcher in front of
// it.
type SourceConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	PageSize       int     `yaml:"page_size"`
	TimeoutSecs    int     `yaml:"timeout_secs"`
	MaxRetries     int     `yaml:"max_retries"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

// DatabaseConfig configures the relational libSQL store.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	AuthTokenEnv string `yaml:"auth_token_env"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// EmbedderConfig selects the embedding provider used by the vector index.
type EmbedderConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	BaseURL     string `yaml:"base_url"`
	Dimensions  int    `yaml:"dimensions"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// VectorConfig configures the vector index backend and the projector.
type VectorConfig struct {
	Backend    string         `yaml:"backend"`
	URL        string         `yaml:"url"`
	APIKeyEnv  string         `yaml:"api_key_env"`
	Collection string         `yaml:"collection"`
	BatchSize  int            `yaml:"batch_size"`
	Embedder   EmbedderConfig `yaml:"embedder"`
}

// ServerConfig configures the admin HTTP surface.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Config is the root configuration for the sync daemon.
type Config struct {
	Source       SourceConfig   `yaml:"source"`
	Database     DatabaseConfig `yaml:"database"`
	Vector       VectorConfig   `yaml:"vector"`
	Server       ServerConfig   `yaml:"server"`
	IntervalHrs  int            `yaml:"sync_interval_hours"`
	RunOnStartup bool           `yaml:"run_on_startup"`
}

// Interval returns the orchestrator cycle interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalHrs) * time.Hour
}

// SourceAPIKey resolves the source API key from the configured env var.
func (c *Config) SourceAPIKey() string {
	return os.Getenv(c.Source.APIKeyEnv)
}

// DatabaseAuthToken resolves the libSQL auth token, if any.
func (c *Config) DatabaseAuthToken() string {
	if c.Database.AuthTokenEnv == "" {
		return ""
	}
	return os.Getenv(c.Database.AuthTokenEnv)
}

// Load reads the config from path, falling back to defaults when the file
// does not exist. A .env file next to the working directory is honored so
// secrets stay out of the YAML.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Source.BaseURL == "" {
		cfg.Source.BaseURL = "https://api.hubapi.com"
	}
	if cfg.Source.APIKeyEnv == "" {
		cfg.Source.APIKeyEnv = "CRM_API_KEY"
	}
	if cfg.Source.PageSize == 0 {
		cfg.Source.PageSize = 100
	}
	if cfg.Source.TimeoutSecs == 0 {
		cfg.Source.TimeoutSecs = 30
	}
	if cfg.Source.MaxRetries == 0 {
		cfg.Source.MaxRetries = 3
	}
	if cfg.Source.RequestsPerSec == 0 {
		cfg.Source.RequestsPerSec = 5
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = "file:./crmsync.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "libsql"
	}
	if cfg.Vector.URL == "" {
		cfg.Vector.URL = "file:./crmsync-vectors.db"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "business_data"
	}
	if cfg.Vector.BatchSize == 0 {
		cfg.Vector.BatchSize = 50
	}
	if cfg.Vector.Embedder.Provider == "" {
		cfg.Vector.Embedder.Provider = "local"
	}
	if cfg.Vector.Embedder.Dimensions == 0 {
		cfg.Vector.Embedder.Dimensions = 256
	}
	if cfg.Vector.Embedder.TimeoutSecs == 0 {
		cfg.Vector.Embedder.TimeoutSecs = 15
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.IntervalHrs == 0 {
		cfg.IntervalHrs = 24
	}
}

// applyEnvOverrides keeps parity with the container deployment, where a few
// knobs are set through the environment rather than the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CRMSYNC_DB_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("CRMSYNC_VECTOR_URL"); v != "" {
		cfg.Vector.URL = v
	}
	if v := os.Getenv("CRMSYNC_SOURCE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("CRMSYNC_INTERVAL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.IntervalHrs = n
		}
	}
}
