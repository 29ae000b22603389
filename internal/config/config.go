// Package config loads chunkloader configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openjurist/chunkloader/internal/logging"
)

// RechunkPolicy controls what happens when chunk records already exist for a
// (table, dataset date) pair.
type RechunkPolicy string

const (
	RechunkRefuse    RechunkPolicy = "refuse"
	RechunkOverwrite RechunkPolicy = "overwrite"
	RechunkAppend    RechunkPolicy = "append"
)

// Valid reports whether the policy is one of the known values.
func (p RechunkPolicy) Valid() bool {
	switch p {
	case RechunkRefuse, RechunkOverwrite, RechunkAppend:
		return true
	}
	return false
}

type Config struct {
	DataDir  string         `yaml:"data_dir"`
	ChunkDir string         `yaml:"chunk_dir"`
	Database DatabaseConfig `yaml:"database"`
	Source   SourceConfig   `yaml:"source"`
	Import   ImportConfig   `yaml:"import"`
	Logging  logging.Config `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	API      APIConfig      `yaml:"api"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// SourceConfig describes where source extracts live before chunking.
type SourceConfig struct {
	Mode     string `yaml:"mode"` // "local" | "s3" | "gcs"
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"` // custom S3 endpoint (MinIO etc.)
	Region   string `yaml:"region"`
}

type ImportConfig struct {
	Method         string        `yaml:"method"`     // "strict" | "permissive" | "bulk"
	ChunkSize      int           `yaml:"chunk_size"` // rows per chunk
	BatchSize      int           `yaml:"batch_size"` // rows per destination sub-batch
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	ChunkTimeout   time.Duration `yaml:"chunk_timeout"` // 0 = no per-chunk deadline
	Resume         bool          `yaml:"resume"`
	RechunkPolicy  RechunkPolicy `yaml:"rechunk_policy"`
	AnalyzeOnDone  bool          `yaml:"analyze_on_done"`
	ConflictColumn string        `yaml:"conflict_column"` // destination primary key, default "id"
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type APIConfig struct {
	Address string `yaml:"address"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:  "./data",
		ChunkDir: "./data/chunks",
		Database: DatabaseConfig{
			MaxConns: 5,
		},
		Source: SourceConfig{
			Mode: "local",
		},
		Import: ImportConfig{
			Method:         "strict",
			ChunkSize:      1_000_000,
			BatchSize:      5_000,
			MaxRetries:     3,
			RetryBackoff:   2 * time.Second,
			ChunkTimeout:   0,
			Resume:         true,
			RechunkPolicy:  RechunkRefuse,
			AnalyzeOnDone:  true,
			ConflictColumn: "id",
		},
		Logging: logging.Config{
			Format: "text",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		API: APIConfig{
			Address: ":8080",
		},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment variable overrides. An empty path skips the file step.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// MustLoad is Load that exits on error.
func MustLoad(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

// Validate checks invariants that would otherwise surface deep in a run.
func (c Config) Validate() error {
	if c.Import.ChunkSize <= 0 {
		return fmt.Errorf("import.chunk_size must be > 0, got %d", c.Import.ChunkSize)
	}
	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("import.batch_size must be > 0, got %d", c.Import.BatchSize)
	}
	if c.Import.MaxRetries < 1 {
		return fmt.Errorf("import.max_retries must be >= 1, got %d", c.Import.MaxRetries)
	}
	if !c.Import.RechunkPolicy.Valid() {
		return fmt.Errorf("import.rechunk_policy must be refuse, overwrite or append, got %q", c.Import.RechunkPolicy)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DataDir = getenvDefault("CHUNKLOADER_DATA_DIR", cfg.DataDir)
	cfg.ChunkDir = getenvDefault("CHUNKLOADER_CHUNK_DIR", cfg.ChunkDir)
	cfg.Database.DSN = getenvDefault("CHUNKLOADER_DATABASE_DSN", cfg.Database.DSN)
	cfg.Source.Mode = getenvDefault("CHUNKLOADER_SOURCE_MODE", cfg.Source.Mode)
	cfg.Source.Bucket = getenvDefault("CHUNKLOADER_SOURCE_BUCKET", cfg.Source.Bucket)
	cfg.Source.Prefix = getenvDefault("CHUNKLOADER_SOURCE_PREFIX", cfg.Source.Prefix)
	cfg.Source.Endpoint = getenvDefault("CHUNKLOADER_SOURCE_ENDPOINT", cfg.Source.Endpoint)
	cfg.Source.Region = getenvDefault("CHUNKLOADER_SOURCE_REGION", cfg.Source.Region)
	cfg.Import.Method = getenvDefault("CHUNKLOADER_IMPORT_METHOD", cfg.Import.Method)
	cfg.Logging.Format = getenvDefault("CHUNKLOADER_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Level = getenvDefault("CHUNKLOADER_LOG_LEVEL", cfg.Logging.Level)
	cfg.Metrics.Address = getenvDefault("CHUNKLOADER_METRICS_ADDRESS", cfg.Metrics.Address)
	cfg.API.Address = getenvDefault("CHUNKLOADER_API_ADDRESS", cfg.API.Address)

	if v := os.Getenv("CHUNKLOADER_CHUNK_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Import.ChunkSize = parsed
		}
	}
	if v := os.Getenv("CHUNKLOADER_BATCH_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Import.BatchSize = parsed
		}
	}
	if v := os.Getenv("CHUNKLOADER_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Import.MaxRetries = parsed
		}
	}
	if v := os.Getenv("CHUNKLOADER_RECHUNK_POLICY"); v != "" {
		cfg.Import.RechunkPolicy = RechunkPolicy(v)
	}
	if v := os.Getenv("CHUNKLOADER_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true"
	}
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
