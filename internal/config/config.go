package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devkdas/causeway/internal/engine"
)

// Config captures the settings required to boot the correlation engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Correlation CorrelationConfig `yaml:"correlation"`
	NATS        NATSConfig        `yaml:"nats"`
	Enrichment  EnrichmentConfig  `yaml:"enrichment"`
	Actions     ActionsConfig     `yaml:"actions"`
	Logging     LoggingConfig     `yaml:"logging"`
	Cache       CacheConfig       `yaml:"cache"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// CorrelationConfig tunes the matching and scoring engine.
type CorrelationConfig struct {
	Window              time.Duration  `yaml:"window"`
	DedupWindow         time.Duration  `yaml:"dedupWindow"`
	Retention           time.Duration  `yaml:"retention"`
	EvictionInterval    time.Duration  `yaml:"evictionInterval"`
	MitigationThreshold float64        `yaml:"mitigationThreshold"`
	MaxResolvedRetained int            `yaml:"maxResolvedRetained"`
	HistoryEntries      int            `yaml:"historyEntries"`
	Weights             engine.Weights `yaml:"weights"`
}

// NATSConfig controls the lifecycle event stream. An empty URL disables
// publishing.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// EnrichmentConfig controls AI elaboration of applied analyses.
type EnrichmentConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"maxTokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ActionsConfig controls rule-pack loading for suggested actions.
type ActionsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed persistence of outcome history.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	HistoryTTL   time.Duration `yaml:"historyTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CAUSEWAY_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Correlation: CorrelationConfig{
			Window:              30 * time.Minute,
			Retention:           24 * time.Hour,
			EvictionInterval:    5 * time.Minute,
			MitigationThreshold: 0.7,
			MaxResolvedRetained: 1024,
			HistoryEntries:      512,
			Weights:             engine.DefaultWeights(),
		},
		NATS: NATSConfig{
			SubjectPrefix: "causeway",
		},
		Enrichment: EnrichmentConfig{
			MaxTokens: 1024,
			Timeout:   20 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			HistoryTTL:   7 * 24 * time.Hour,
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Correlation.Window <= 0 {
		return fmt.Errorf("correlation.window must be positive, got %s", cfg.Correlation.Window)
	}
	if cfg.Correlation.Retention < cfg.Correlation.Window {
		return fmt.Errorf("correlation.retention %s must cover the correlation window %s",
			cfg.Correlation.Retention, cfg.Correlation.Window)
	}
	if cfg.Correlation.MitigationThreshold <= 0 || cfg.Correlation.MitigationThreshold > 1 {
		return fmt.Errorf("correlation.mitigationThreshold must be in (0,1], got %.2f", cfg.Correlation.MitigationThreshold)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CAUSEWAY_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CAUSEWAY_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("CAUSEWAY_CORRELATION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlation.Window = d
		}
	}
	if v := os.Getenv("CAUSEWAY_DEDUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlation.DedupWindow = d
		}
	}
	if v := os.Getenv("CAUSEWAY_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlation.Retention = d
		}
	}
	if v := os.Getenv("CAUSEWAY_MITIGATION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Correlation.MitigationThreshold = f
		}
	}
	if v := os.Getenv("CAUSEWAY_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CAUSEWAY_NATS_SUBJECT_PREFIX"); v != "" {
		cfg.NATS.SubjectPrefix = v
	}
	if v := os.Getenv("CAUSEWAY_ENRICHMENT_ENABLED"); v != "" {
		cfg.Enrichment.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("CAUSEWAY_ENRICHMENT_MODEL"); v != "" {
		cfg.Enrichment.Model = v
	}
	if v := os.Getenv("CAUSEWAY_ACTIONS_PATH"); v != "" {
		cfg.Actions.Path = v
	}
	if v := os.Getenv("CAUSEWAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CAUSEWAY_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("CAUSEWAY_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("CAUSEWAY_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("CAUSEWAY_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("CAUSEWAY_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("CAUSEWAY_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("CAUSEWAY_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("CAUSEWAY_CACHE_HISTORY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.HistoryTTL = d
		}
	}
}
