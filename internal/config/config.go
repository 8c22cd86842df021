package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the correlation engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Correlator CorrelatorConfig `yaml:"correlator"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Scorer     ScorerConfig     `yaml:"scorer"`
	Retrain    RetrainConfig    `yaml:"retrain"`
	Watch      WatchConfig      `yaml:"watch"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StorageConfig locates the durable artifacts. Paths left empty are derived
// from DataDir.
type StorageConfig struct {
	DataDir      string `yaml:"dataDir"`
	AnomalyDir   string `yaml:"anomalyDir"`
	IncidentDir  string `yaml:"incidentDir"`
	SnapshotDir  string `yaml:"snapshotDir"`
	FeedbackFile string `yaml:"feedbackFile"`
	LedgerFile   string `yaml:"ledgerFile"`
	IndexFile    string `yaml:"indexFile"`
	MetaFile     string `yaml:"metaFile"`
}

// CorrelatorConfig tunes incident grouping.
type CorrelatorConfig struct {
	WindowMinutes int `yaml:"windowMinutes"`
}

// LedgerConfig tunes adaptive weight updates.
type LedgerConfig struct {
	Decay         float64 `yaml:"decay"`
	ImmediateStep float64 `yaml:"immediateStep"`
	Reward        float64 `yaml:"reward"`
	Penalty       float64 `yaml:"penalty"`
	SearchK       int     `yaml:"searchK"`
}

// EmbedderConfig configures the external text-embedding capability.
type EmbedderConfig struct {
	BaseURL  string        `yaml:"baseURL"`
	Path     string        `yaml:"path"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// ScorerConfig configures the external outlier-scoring model capability.
type ScorerConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	FitPath       string        `yaml:"fitPath"`
	ScorePath     string        `yaml:"scorePath"`
	PredictPath   string        `yaml:"predictPath"`
	Timeout       time.Duration `yaml:"timeout"`
	Contamination float64       `yaml:"contamination"`
	Seed          int64         `yaml:"seed"`
}

// RetrainConfig controls scheduled retraining. An empty schedule disables it.
type RetrainConfig struct {
	Schedule string `yaml:"schedule"`
}

// WatchConfig controls the anomaly drop-directory watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// CacheConfig controls Valkey-backed caching of similarity searches.
type CacheConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Addr             string        `yaml:"addr"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	DialTimeout      time.Duration `yaml:"dialTimeout"`
	ReadTimeout      time.Duration `yaml:"readTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout"`
	MaxRetries       int           `yaml:"maxRetries"`
	TLS              bool          `yaml:"tls"`
	SimilarSearchTTL time.Duration `yaml:"similarSearchTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTINEL_CORRELATE_CONFIG")
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
	deriveStoragePaths(&cfg.Storage)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8085",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Storage:    StorageConfig{DataDir: "data"},
		Correlator: CorrelatorConfig{WindowMinutes: 30},
		Ledger: LedgerConfig{
			Decay:         0.98,
			ImmediateStep: 0.1,
			Reward:        0.2,
			Penalty:       0.3,
			SearchK:       5,
		},
		Embedder: EmbedderConfig{
			Path:     "/api/v1/embed",
			Timeout:  5 * time.Second,
			CacheTTL: 10 * time.Minute,
		},
		Scorer: ScorerConfig{
			FitPath:       "/api/v1/model/fit",
			ScorePath:     "/api/v1/model/score",
			PredictPath:   "/api/v1/model/predict",
			Timeout:       30 * time.Second,
			Contamination: 0.08,
			Seed:          42,
		},
		Watch:   WatchConfig{Debounce: 2 * time.Second},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:          false,
			DialTimeout:      2 * time.Second,
			ReadTimeout:      500 * time.Millisecond,
			WriteTimeout:     500 * time.Millisecond,
			MaxRetries:       2,
			SimilarSearchTTL: 2 * time.Minute,
		},
	}
}

func deriveStoragePaths(s *StorageConfig) {
	if s.DataDir == "" {
		s.DataDir = "data"
	}
	if s.AnomalyDir == "" {
		s.AnomalyDir = filepath.Join(s.DataDir, "anomalies")
	}
	if s.IncidentDir == "" {
		s.IncidentDir = filepath.Join(s.DataDir, "correlations")
	}
	if s.SnapshotDir == "" {
		s.SnapshotDir = filepath.Join(s.DataDir, "snapshots")
	}
	if s.FeedbackFile == "" {
		s.FeedbackFile = filepath.Join(s.DataDir, "feedback_store.json")
	}
	if s.LedgerFile == "" {
		s.LedgerFile = filepath.Join(s.DataDir, "adaptive_weights.json")
	}
	if s.IndexFile == "" {
		s.IndexFile = filepath.Join(s.DataDir, "feedback_index.json")
	}
	if s.MetaFile == "" {
		s.MetaFile = filepath.Join(s.DataDir, "feedback_meta.json")
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_CORRELATE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SENTINEL_CORRELATE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SENTINEL_CORRELATE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SENTINEL_CORRELATE_SNAPSHOT_DIR"); v != "" {
		cfg.Storage.SnapshotDir = v
	}
	if v := os.Getenv("SENTINEL_CORRELATE_WINDOW_MINUTES"); v != "" {
		if mins, err := strconv.Atoi(v); err == nil && mins > 0 {
			cfg.Correlator.WindowMinutes = mins
		}
	}
	if v := os.Getenv("SENTINEL_CORRELATE_LEDGER_DECAY"); v != "" {
		if decay, err := strconv.ParseFloat(v, 64); err == nil && decay > 0 && decay <= 1 {
			cfg.Ledger.Decay = decay
		}
	}
	if v := os.Getenv("SENTINEL_CORRELATE_EMBEDDER_URL"); v != "" {
		cfg.Embedder.BaseURL = v
	}
	if v := os.Getenv("SENTINEL_CORRELATE_EMBEDDER_API_KEY"); v != "" {
		cfg.Embedder.APIKey = v
	}
	if v := os.Getenv("SENTINEL_CORRELATE_SCORER_URL"); v != "" {
		cfg.Scorer.BaseURL = v
	}
	if v := os.Getenv("SENTINEL_CORRELATE_RETRAIN_SCHEDULE"); v != "" {
		cfg.Retrain.Schedule = v
	}
	if v := os.Getenv("SENTINEL_CORRELATE_WATCH_ENABLED"); v != "" {
		cfg.Watch.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SENTINEL_CORRELATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_CORRELATE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SENTINEL_CORRELATE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SENTINEL_CORRELATE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SENTINEL_CORRELATE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("SENTINEL_CORRELATE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SENTINEL_CORRELATE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("SENTINEL_CORRELATE_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("SENTINEL_CORRELATE_CACHE_SIMILAR_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.SimilarSearchTTL = d
		}
	}
}
