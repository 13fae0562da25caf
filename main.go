package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dentalytics/dentasync/internal/config"
	"github.com/dentalytics/dentasync/internal/db"
	"github.com/dentalytics/dentasync/internal/logger"
	"github.com/dentalytics/dentasync/internal/metrics"
	"github.com/dentalytics/dentasync/internal/pipeline"
	"github.com/dentalytics/dentasync/internal/secrets"
	"github.com/dentalytics/dentasync/internal/server"
	"github.com/dentalytics/dentasync/internal/utils"
)

var (
	tablesFlag           string
	fullFlag             bool
	forceFlag            bool
	dryRunFlag           bool
	catalogPathOverride  string
	parallelJobsOverride int
	batchSizeOverride    int
)

func main() {
	flag.StringVar(&tablesFlag, "tables", "", "Comma-separated subset of catalog tables to load (default: all)")
	flag.BoolVar(&fullFlag, "full", false, "Load every table in the catalog (explicit form of the default)")
	flag.BoolVar(&forceFlag, "force", false, "Reset watermarks before loading, forcing a full reload")
	flag.BoolVar(&dryRunFlag, "dry-run", false, "Extract and count rows without any DDL, writes, or watermark changes")
	flag.StringVar(&catalogPathOverride, "config", "", "Override TABLES_FILE (path to the YAML table catalog)")
	flag.IntVar(&parallelJobsOverride, "parallel-jobs", 0, "Override PARALLEL_JOBS (must be > 0)")
	flag.IntVar(&batchSizeOverride, "batch-size", 0, "Override BATCH_SIZE (must be > 0)")
	flag.Parse()

	if err := godotenv.Overload(".env"); err != nil {
		stdlog.Printf("Warning: Could not load .env file: %v. Relying on environment variables.\n", err)
	}

	// Minimal pre-config so the logger exists before full config validation.
	preCfg := &struct {
		EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
		DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	}{}
	if err := env.Parse(preCfg); err != nil {
		stdlog.Fatalf("Failed to parse pre-configuration for logger: %v", err)
	}
	if err := logger.Init(preCfg.DebugMode, preCfg.EnableJsonLogging); err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal("Configuration loading error from environment", zap.Error(err))
	}
	applyCliOverrides(cfg)

	catalog, err := config.LoadTableCatalog(cfg.TablesFile)
	if err != nil {
		logger.Log.Fatal("Table catalog loading error", zap.Error(err))
	}
	catalog = selectTables(catalog)
	logLoadedConfig(cfg, catalog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsStore := metrics.NewStore()

	vaultMgr, vaultErr := secrets.NewVaultManager(cfg, logger.Log)
	if vaultErr != nil {
		if cfg.VaultEnabled {
			logger.Log.Fatal("Failed to initialize Vault secret manager", zap.Error(vaultErr))
		}
		logger.Log.Warn("Could not initialize Vault secret manager", zap.Error(vaultErr))
	}
	secretManagers := make([]secrets.SecretManager, 0, 1)
	if vaultMgr != nil && vaultMgr.IsEnabled() {
		secretManagers = append(secretManagers, vaultMgr)
	}

	logger.Log.Info("Loading database credentials")
	srcCreds, err := loadCredentials(ctx, &cfg.SrcDB, "source", cfg.SrcSecretPath, cfg.SrcUsernameKey, cfg.SrcPasswordKey, secretManagers)
	if err != nil {
		logger.Log.Fatal("Failed to load source DB credentials", zap.Error(err))
	}
	dstCreds, err := loadCredentials(ctx, &cfg.DstDB, "target", cfg.DstSecretPath, cfg.DstUsernameKey, cfg.DstPasswordKey, secretManagers)
	if err != nil {
		logger.Log.Fatal("Failed to load target DB credentials", zap.Error(err))
	}

	logger.Log.Info("Connecting to databases")
	var srcConn, dstConn *db.Connector
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var cerr error
		srcConn, cerr = connectDBWithRetry(gctx, cfg.SrcDB, srcCreds.Username, srcCreds.Password, cfg.MaxRetries, cfg.RetryInterval, "source", metricsStore)
		return cerr
	})
	g.Go(func() error {
		var cerr error
		dstConn, cerr = connectDBWithRetry(gctx, cfg.DstDB, dstCreds.Username, dstCreds.Password, cfg.MaxRetries, cfg.RetryInterval, "target", metricsStore)
		return cerr
	})
	if err := g.Wait(); err != nil {
		logger.Log.Fatal("Failed to establish database connections", zap.Error(err))
	}
	defer func() {
		logger.Log.Info("Closing database connections")
		if err := srcConn.Close(); err != nil {
			logger.Log.Error("Error closing source DB", zap.Error(err))
		}
		if err := dstConn.Close(); err != nil {
			logger.Log.Error("Error closing target DB", zap.Error(err))
		}
	}()

	if err := srcConn.Optimize(cfg.ConnPoolSize, cfg.ConnMaxLifetime); err != nil {
		logger.Log.Warn("Failed to optimize source DB pool", zap.Error(err))
	}
	if err := dstConn.Optimize(cfg.ConnPoolSize, cfg.ConnMaxLifetime); err != nil {
		logger.Log.Warn("Failed to optimize target DB pool", zap.Error(err))
	}

	if cfg.DstDB.Dialect == "postgres" && cfg.TargetSchema != "" && !dryRunFlag {
		if err := dstConn.DB.WithContext(ctx).
			Exec("CREATE SCHEMA IF NOT EXISTS " + utils.QuoteIdentifier(cfg.TargetSchema, "postgres")).Error; err != nil {
			logger.Log.Fatal("Failed to ensure target schema exists",
				zap.String("schema", cfg.TargetSchema), zap.Error(err))
		}
	}

	go server.RunHTTPServer(ctx, cfg, metricsStore, srcConn, dstConn, logger.Log)

	tracker, err := pipeline.NewGormTracker(dstConn, cfg.TargetSchema, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize watermark tracker", zap.Error(err))
	}

	reconciler := pipeline.NewSchemaReconciler(srcConn, dstConn, cfg.TargetSchema, tracker, metricsStore, logger.Log, dryRunFlag)
	extractor := pipeline.NewIncrementalExtractor(srcConn, logger.Log)
	writer := pipeline.NewTargetWriter(dstConn, cfg.TargetSchema, cfg, metricsStore, logger.Log)
	loader := pipeline.NewTableLoader(cfg, reconciler, extractor, writer, tracker, metricsStore, logger.Log, dryRunFlag, forceFlag)
	orchestrator := pipeline.NewOrchestrator(cfg, catalog, loader, srcConn, metricsStore, logger.Log, dryRunFlag)

	logger.Log.Info("Starting replication run",
		zap.Int("tables", len(catalog.Tables)),
		zap.Bool("dry_run", dryRunFlag),
		zap.Bool("force", forceFlag))
	report := orchestrator.Run(ctx)

	report.LogSummary(logger.Log)
	if err := report.Write(cfg.ReportPath); err != nil {
		logger.Log.Error("Failed to write run report", zap.Error(err))
	} else {
		logger.Log.Info("Run report written", zap.String("path", cfg.ReportPath))
	}

	exitCode := report.ExitCode()
	logger.Log.Info("Exiting", zap.Int("exit_code", exitCode))
	stop()
	os.Exit(exitCode)
}

func applyCliOverrides(cfg *config.Config) {
	if catalogPathOverride != "" {
		logger.Log.Info("Overriding TABLES_FILE with CLI flag",
			zap.String("env_value", cfg.TablesFile), zap.String("cli_value", catalogPathOverride))
		cfg.TablesFile = catalogPathOverride
	}
	if parallelJobsOverride > 0 {
		logger.Log.Info("Overriding PARALLEL_JOBS with CLI flag",
			zap.Int("env_value", cfg.ParallelJobs), zap.Int("cli_value", parallelJobsOverride))
		cfg.ParallelJobs = parallelJobsOverride
	}
	if batchSizeOverride > 0 {
		logger.Log.Info("Overriding BATCH_SIZE with CLI flag",
			zap.Int("env_value", cfg.BatchSize), zap.Int("cli_value", batchSizeOverride))
		cfg.BatchSize = batchSizeOverride
	}
}

// selectTables applies the -tables / -full selection to the catalog. Names
// requested but not configured are fatal; a typo silently loading nothing
// would be worse.
func selectTables(catalog *config.TableCatalog) *config.TableCatalog {
	if tablesFlag == "" || fullFlag {
		return catalog
	}
	var keep []string
	for _, name := range strings.Split(tablesFlag, ",") {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			keep = append(keep, trimmed)
		}
	}
	filtered, missing := catalog.Filter(keep)
	if len(missing) > 0 {
		logger.Log.Fatal("Requested tables are not in the catalog",
			zap.Strings("tables", missing))
	}
	return filtered
}

func logLoadedConfig(cfg *config.Config, catalog *config.TableCatalog) {
	srcPassSource := "not set"
	if cfg.SrcDB.Password != "" {
		srcPassSource = "env var"
	} else if cfg.VaultEnabled && cfg.SrcSecretPath != "" {
		srcPassSource = "vault"
	}
	dstPassSource := "not set"
	if cfg.DstDB.Password != "" {
		dstPassSource = "env var"
	} else if cfg.VaultEnabled && cfg.DstSecretPath != "" {
		dstPassSource = "vault"
	}

	logger.Log.Info("Final configuration in use",
		zap.Int("parallel_jobs", cfg.ParallelJobs),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int64("chunk_threshold", cfg.ChunkThreshold),
		zap.Int64("stream_threshold", cfg.StreamThreshold),
		zap.Duration("table_timeout", cfg.TableTimeout),
		zap.String("target_schema", cfg.TargetSchema),
		zap.String("tables_file", cfg.TablesFile),
		zap.Int("catalog_tables", len(catalog.Tables)),
		zap.String("report_path", cfg.ReportPath),
		zap.Int("max_retries", cfg.MaxRetries), zap.Duration("retry_interval", cfg.RetryInterval),
		zap.Int("conn_pool_size", cfg.ConnPoolSize), zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		zap.String("src_dialect", cfg.SrcDB.Dialect), zap.String("src_host", cfg.SrcDB.Host), zap.Int("src_port", cfg.SrcDB.Port),
		zap.String("src_user", cfg.SrcDB.User), zap.String("src_password_source", srcPassSource), zap.String("src_dbname", cfg.SrcDB.DBName),
		zap.String("dst_dialect", cfg.DstDB.Dialect), zap.String("dst_host", cfg.DstDB.Host), zap.Int("dst_port", cfg.DstDB.Port),
		zap.String("dst_user", cfg.DstDB.User), zap.String("dst_password_source", dstPassSource), zap.String("dst_dbname", cfg.DstDB.DBName),
		zap.Bool("json_logging", cfg.EnableJsonLogging), zap.Bool("enable_pprof", cfg.EnablePprof),
		zap.Int("metrics_port", cfg.MetricsPort), zap.Bool("debug_mode", cfg.DebugMode),
		zap.Bool("vault_enabled", cfg.VaultEnabled),
		zap.Bool("dry_run", dryRunFlag), zap.Bool("force", forceFlag),
	)
}

func loadCredentials(
	ctx context.Context,
	dbCfg *config.DatabaseConfig,
	dbLabel string,
	secretPath string,
	usernameKey string,
	passwordKey string,
	secretManagers []secrets.SecretManager,
) (*secrets.Credentials, error) {
	log := logger.Log.With(zap.String("db", dbLabel))

	if strings.ToLower(dbCfg.Dialect) == "sqlite" {
		return &secrets.Credentials{}, nil
	}

	if dbCfg.Password != "" {
		log.Info("Using password from environment variable")
		if dbCfg.User == "" {
			return nil, fmt.Errorf("password provided for %s DB, but username is missing", dbLabel)
		}
		return &secrets.Credentials{Username: dbCfg.User, Password: dbCfg.Password}, nil
	}

	if secretPath != "" {
		if len(secretManagers) == 0 {
			log.Warn("Secret path is configured, but no secret managers are enabled")
		}
		for _, sm := range secretManagers {
			getCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			creds, err := sm.GetCredentials(getCtx, secretPath, usernameKey, passwordKey)
			cancel()
			if err != nil || creds == nil {
				log.Warn("Failed to retrieve credentials from secret manager",
					zap.String("manager_type", fmt.Sprintf("%T", sm)),
					zap.Error(err))
				continue
			}
			if creds.Username == "" {
				creds.Username = dbCfg.User
			}
			if creds.Username == "" {
				return nil, fmt.Errorf("password retrieved for %s DB, but username is missing in both secret and config", dbLabel)
			}
			return creds, nil
		}
	}

	envPrefix := "SRC"
	if dbLabel == "target" {
		envPrefix = "DST"
	}
	return nil, fmt.Errorf("could not load credentials for %s DB: set %s_PASSWORD or configure Vault with %s_SECRET_PATH",
		dbLabel, envPrefix, envPrefix)
}

func connectDBWithRetry(
	ctx context.Context,
	dbCfg config.DatabaseConfig,
	username string,
	password string,
	maxRetries int,
	retryInterval time.Duration,
	dbLabel string,
	metricsStore *metrics.Store,
) (*db.Connector, error) {
	gl := logger.GetGormLogger()
	var lastErr error

	dsn := buildDSN(dbCfg, username, password)
	if dsn == "" {
		metricsStore.LoadErrorsTotal.WithLabelValues("connection", dbLabel).Inc()
		return nil, fmt.Errorf("could not build DSN for %s DB (unsupported dialect: %s)", dbLabel, dbCfg.Dialect)
	}

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			logger.Log.Warn("Retrying database connection",
				zap.String("db", dbLabel),
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", maxRetries+1),
				zap.Duration("wait_interval", retryInterval),
				zap.NamedError("previous_error", lastErr))
			timer := time.NewTimer(retryInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				metricsStore.LoadErrorsTotal.WithLabelValues("connection_cancelled", dbLabel).Inc()
				return nil, fmt.Errorf("context cancelled while waiting to retry %s DB connection: %w; last error: %v", dbLabel, ctx.Err(), lastErr)
			}
		}

		start := time.Now()
		conn, err := db.New(dbCfg.Dialect, dsn, gl)
		if err != nil {
			lastErr = fmt.Errorf("connect attempt %d/%d failed for %s: %w", i+1, maxRetries+1, dbLabel, err)
			continue
		}

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr := conn.Ping(pingCtx)
		pingCancel()
		if pingErr != nil {
			lastErr = fmt.Errorf("ping attempt %d/%d failed for %s: %w", i+1, maxRetries+1, dbLabel, pingErr)
			_ = conn.Close()
			continue
		}

		logger.Log.Info("Database connection successful",
			zap.String("db", dbLabel),
			zap.String("dialect", conn.Dialect),
			zap.Duration("connect_duration", time.Since(start)))
		return conn, nil
	}

	metricsStore.LoadErrorsTotal.WithLabelValues("connection_failed", dbLabel).Inc()
	return nil, fmt.Errorf("failed to connect to %s DB (%s at %s:%d) after %d attempts: %w",
		dbLabel, dbCfg.Dialect, dbCfg.Host, dbCfg.Port, maxRetries+1, lastErr)
}

func buildDSN(cfg config.DatabaseConfig, username, password string) string {
	sslmode := strings.ToLower(cfg.SSLMode)

	switch strings.ToLower(cfg.Dialect) {
	case "mysql":
		sslParam := "tls=false"
		if sslmode != "disable" && sslmode != "" {
			switch sslmode {
			case "skip-verify", "preferred":
				sslParam = "tls=skip-verify"
			default:
				sslParam = "tls=true"
			}
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=10s&readTimeout=60s&writeTimeout=60s&%s",
			username, password, cfg.Host, cfg.Port, cfg.DBName, sslParam)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
			cfg.Host, cfg.Port, username, password, cfg.DBName, sslmode)
	case "sqlite":
		return fmt.Sprintf("file:%s?cache=shared&_journal_mode=WAL&_busy_timeout=5000", cfg.DBName)
	default:
		logger.Log.Error("Cannot build DSN: unsupported database dialect", zap.String("dialect", cfg.Dialect))
		return ""
	}
}
