// Package config provides configuration management for dex.
//
// This package has no I/O dependencies (no file operations, no network
// calls) other than returning sensible defaults.
//
// # Configuration Sources
//
// Precedence (highest to lowest): CLI flags > env vars > dex.yaml > defaults.
//
// # Design Principles
//
//   - The default config (from New()) is always valid — no validation needed.
//   - All mutations go through Option functions; that is the only supported
//     way to modify a Config after construction.
//   - Environment variables use the DEX_ prefix, with underscores for
//     nesting: DEX_DATABASE_HOST, DEX_VISION_MODEL, DEX_HTTP_PORT, ...
package config

import (
	"fmt"
	"runtime"
)

// Config is the complete dex configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Vision   VisionConfig   `mapstructure:"vision"   yaml:"vision"`
	Cache    CacheConfig    `mapstructure:"cache"    yaml:"cache"`
	HTTP     HTTPConfig     `mapstructure:"http"     yaml:"http"`
	Import   ImportConfig   `mapstructure:"import"   yaml:"import"`
	Log      LogConfig      `mapstructure:"log"      yaml:"log"`

	// JobsNumber is the number of concurrent workers for the job executor
	// and reference importer. Defaults to the number of available threads.
	JobsNumber int `mapstructure:"jobs_number" yaml:"jobs_number"`

	// HomeDir is set once at startup; it has no default value.
	HomeDir string `mapstructure:"-" yaml:"-"`
}

// DatabaseConfig contains PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host      string `mapstructure:"host"       yaml:"host"`
	Port      int    `mapstructure:"port"       yaml:"port"`
	User      string `mapstructure:"user"       yaml:"user"`
	Password  string `mapstructure:"password"   yaml:"password"`
	Database  string `mapstructure:"database"   yaml:"database"`
	SSLMode   string `mapstructure:"ssl_mode"   yaml:"ssl_mode"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"`
}

// VisionConfig configures the external vision-model client (C3).
type VisionConfig struct {
	// Model is the default model name; callers may override per job.
	Model string `mapstructure:"model" yaml:"model"`
	// DetailLevel is the default detail parameter ("low"|"high"|"auto").
	DetailLevel string `mapstructure:"detail_level" yaml:"detail_level"`
	// TimeoutSeconds is the configured per-call bound (default 30). The
	// vision client does not read it; Identify always applies its own
	// 30s iovision.SoftTimeout.
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	// MaxRetries is the configured Transient-failure retry limit (default
	// 3). The Job Executor does not read it; it uses its own
	// iojob.MaxRetries constant (3).
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `mapstructure:"api_key_env" yaml:"api_key_env"`
}

// CacheConfig configures the Redis-backed cache (C12).
type CacheConfig struct {
	Addr     string `mapstructure:"addr"     yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db"       yaml:"db"`
}

// HTTPConfig configures the external API transport (out of core scope,
// but part of the ambient stack — see spec §6).
type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"             yaml:"addr"`
	JWTSigningKey  string   `mapstructure:"jwt_signing_key"   yaml:"jwt_signing_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"  yaml:"allowed_origins"`
	// AdminUserIDs lists the user ids permitted to request the global tree
	// projection (spec §4.10: "global requires the viewer to be an
	// administrator"). Admin/role management is out of core scope (spec
	// §1); this is the simplest external collaborator that satisfies
	// iotree.AdminChecker without inventing a roles subsystem.
	AdminUserIDs []string `mapstructure:"admin_user_ids" yaml:"admin_user_ids"`
}

// ImportConfig contains settings specific to the Reference Importer (C6).
type ImportConfig struct {
	// SourceIDs restricts an import run to specific sources; empty means all.
	SourceIDs []string `mapstructure:"source_ids" yaml:"source_ids"`
	// StagingBatchSize is the bulk-insert batch for raw rows (spec §4.6: 5000).
	StagingBatchSize int `mapstructure:"staging_batch_size" yaml:"staging_batch_size"`
	// NormalizeBatchSize is the batch size for the normalization pass (spec: 1000).
	NormalizeBatchSize int `mapstructure:"normalize_batch_size" yaml:"normalize_batch_size"`
	// WorkDir is where archives are downloaded/extracted.
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Format is one of "json", "text", "tint" (colored, human-facing).
	Format string `mapstructure:"format" yaml:"format"`
	// Level is one of "debug", "info", "warn", "error".
	Level string `mapstructure:"level" yaml:"level"`
	// Destination is "stdout", "stderr", or "file".
	Destination string `mapstructure:"destination" yaml:"destination"`
}

// New returns a Config with sensible default values. The result is always
// valid; further changes go through Option funcs via Update.
func New() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:      "localhost",
			Port:      5432,
			User:      "postgres",
			Password:  "postgres",
			Database:  "dex",
			SSLMode:   "disable",
			BatchSize: 5_000,
		},
		Vision: VisionConfig{
			Model:          "claude-sonnet-4-5",
			DetailLevel:    "high",
			TimeoutSeconds: 30,
			MaxRetries:     3,
			APIKeyEnv:      "ANTHROPIC_API_KEY",
		},
		Cache: CacheConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Import: ImportConfig{
			StagingBatchSize:   5_000,
			NormalizeBatchSize: 1_000,
			WorkDir:            "",
		},
		Log: LogConfig{
			Format:      "tint",
			Level:       "info",
			Destination: "stderr",
		},
		JobsNumber: runtime.NumCPU(),
	}
}

// DSN builds a PostgreSQL connection string from DatabaseConfig.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}
