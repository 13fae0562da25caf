package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

// Config is the engine configuration, loaded from environment variables.
// The per-table catalog lives in a separate YAML file (see tables.go).
type Config struct {
	// Load settings
	ParallelJobs    int           `env:"PARALLEL_JOBS" envDefault:"4"`
	BatchSize       int           `env:"BATCH_SIZE" envDefault:"5000"`
	ChunkThreshold  int64         `env:"CHUNK_THRESHOLD" envDefault:"50000"`
	StreamThreshold int64         `env:"STREAM_THRESHOLD" envDefault:"500000"`
	TableTimeout    time.Duration `env:"TABLE_TIMEOUT" envDefault:"10m"` // Max time for one table (reconcile+extract+write)
	TargetSchema    string        `env:"TARGET_SCHEMA" envDefault:"raw"`
	TablesFile      string        `env:"TABLES_FILE" envDefault:"tables.yml"`
	ReportPath      string        `env:"REPORT_PATH" envDefault:"run_report.json"`

	// Retry logic for recoverable write errors
	MaxRetries    int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryInterval time.Duration `env:"RETRY_INTERVAL" envDefault:"5s"`

	// Connection pool
	ConnPoolSize    int           `env:"CONN_POOL_SIZE" envDefault:"20"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`

	// Observability & debugging
	EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
	EnablePprof       bool `env:"ENABLE_PPROF" envDefault:"false"`
	MetricsPort       int  `env:"METRICS_PORT" envDefault:"9091"`
	DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`

	// Vault-backed credentials (optional)
	VaultEnabled    bool   `env:"VAULT_ENABLED" envDefault:"false"`
	VaultAddr       string `env:"VAULT_ADDR" envDefault:""`
	VaultToken      string `env:"VAULT_TOKEN" envDefault:""`
	VaultCACert     string `env:"VAULT_CACERT" envDefault:""`
	VaultSkipVerify bool   `env:"VAULT_SKIP_VERIFY" envDefault:"false"`
	SrcSecretPath   string `env:"SRC_SECRET_PATH" envDefault:""`
	SrcUsernameKey  string `env:"SRC_USERNAME_KEY" envDefault:"username"`
	SrcPasswordKey  string `env:"SRC_PASSWORD_KEY" envDefault:"password"`
	DstSecretPath   string `env:"DST_SECRET_PATH" envDefault:""`
	DstUsernameKey  string `env:"DST_USERNAME_KEY" envDefault:"username"`
	DstPasswordKey  string `env:"DST_PASSWORD_KEY" envDefault:"password"`

	// Database configurations
	SrcDB DatabaseConfig `envPrefix:"SRC_"`
	DstDB DatabaseConfig `envPrefix:"DST_"`
}

type DatabaseConfig struct {
	Dialect  string `env:"DIALECT,required"`
	Host     string `env:"HOST,required"`
	Port     int    `env:"PORT,required"`
	User     string `env:"USER,required"`
	Password string `env:"PASSWORD" envDefault:""` // May instead come from Vault
	DBName   string `env:"DBNAME,required"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"` // Use "require" or higher in prod
}

func Load() (*Config, error) {
	cfg := &Config{}
	opts := env.Options{RequiredIfNoDef: true}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config parsing error: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validateConfig(cfg *Config) error {
	// The source is always an OpenDental MySQL instance. The target is the
	// analytics Postgres store, or SQLite for local development.
	srcDialect := strings.ToLower(cfg.SrcDB.Dialect)
	if srcDialect != "mysql" {
		return fmt.Errorf("unsupported source dialect: %s (only mysql is supported)", cfg.SrcDB.Dialect)
	}
	dstDialect := strings.ToLower(cfg.DstDB.Dialect)
	if dstDialect != "postgres" && dstDialect != "sqlite" {
		return fmt.Errorf("unsupported target dialect: %s (valid: postgres, sqlite)", cfg.DstDB.Dialect)
	}

	validatePort := func(port int, name string) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s port: %d", name, port)
		}
		return nil
	}
	if err := validatePort(cfg.SrcDB.Port, "source"); err != nil {
		return err
	}
	if dstDialect != "sqlite" {
		if err := validatePort(cfg.DstDB.Port, "target"); err != nil {
			return err
		}
	}
	if err := validatePort(cfg.MetricsPort, "metrics"); err != nil {
		return err
	}

	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if cfg.ParallelJobs <= 0 {
		return fmt.Errorf("parallel jobs must be positive")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if cfg.ConnPoolSize <= 0 {
		return fmt.Errorf("connection pool size must be positive")
	}
	if cfg.ChunkThreshold <= 0 || cfg.StreamThreshold <= 0 {
		return fmt.Errorf("load strategy thresholds must be positive")
	}
	if cfg.ChunkThreshold >= cfg.StreamThreshold {
		return fmt.Errorf("chunk threshold (%d) must be below stream threshold (%d)",
			cfg.ChunkThreshold, cfg.StreamThreshold)
	}
	if cfg.TargetSchema == "" {
		return fmt.Errorf("target schema must not be empty")
	}

	validSSL := map[string]bool{
		"disable":     true,
		"allow":       true,
		"prefer":      true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSL[strings.ToLower(cfg.SrcDB.SSLMode)] {
		return fmt.Errorf("invalid SSL mode for source DB: %s", cfg.SrcDB.SSLMode)
	}
	if dstDialect == "postgres" && !validSSL[strings.ToLower(cfg.DstDB.SSLMode)] {
		return fmt.Errorf("invalid SSL mode for target DB: %s", cfg.DstDB.SSLMode)
	}

	return nil
}
