package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/triage-intake-server/internal/api"
	"github.com/triage-intake-server/internal/cache"
	"github.com/triage-intake-server/internal/config"
	"github.com/triage-intake-server/internal/database"
	"github.com/triage-intake-server/internal/divergence"
	"github.com/triage-intake-server/internal/domain"
	"github.com/triage-intake-server/internal/repository"
	"github.com/triage-intake-server/internal/retrieval"
	"github.com/triage-intake-server/internal/service"
	"github.com/triage-intake-server/pkg/external"
)

func main() {
	// Load and validate configuration
	configManager, err := config.NewManager()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting triage intake server")

	// Shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database and migrations
	db, err := database.NewConnection(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		Database:    cfg.Database.Database,
		Username:    cfg.Database.Username,
		Password:    cfg.Database.Password,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    int32(cfg.Database.MaxOpenConns),
		MinConns:    int32(cfg.Database.MaxIdleConns),
		MaxConnLife: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := runMigrations(ctx, configManager, logger); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Session cache is optional; the server degrades to database-only reads.
	var sessionCache domain.SessionCache
	var cacheHealth api.HealthChecker
	if redisCache, err := cache.NewSessionCache(ctx, cfg.Cache.RedisURL, cfg.Cache.SessionTTL, logger); err != nil {
		logger.WithError(err).Warn("Session cache unavailable, continuing without it")
	} else {
		sessionCache = redisCache
		cacheHealth = redisCache
		defer redisCache.Close()
	}

	// Divergence audit log
	recorder, closeRecorder, err := newDivergenceRecorder(cfg, configManager)
	if err != nil {
		logger.Fatalf("Failed to open divergence audit log: %v", err)
	}
	defer closeRecorder()

	// Text generator is optional; without an API key every dialogue turn,
	// extraction, and narrative uses the deterministic fallback paths.
	var generator domain.TextGenerator
	if cfg.Generator.APIKey == "" {
		logger.Warn("No generator API key configured, running fully deterministic")
	} else {
		client := external.NewOpenAIClient(external.OpenAIConfig{
			APIKey:    cfg.Generator.APIKey,
			Model:     cfg.Generator.Model,
			Timeout:   cfg.Generator.Timeout,
			RateLimit: cfg.Generator.RateLimit,
		})
		generator = external.NewResilientGenerator(client, logger)
	}

	retriever, err := retrieval.NewRetriever(retrieval.Config{
		TopK:      cfg.Retrieval.TopK,
		CacheSize: cfg.Retrieval.CacheSize,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to create retriever: %v", err)
	}

	// Core services
	rules := service.NewRulesEngine(logger)
	redFlags := service.NewRedFlagEvaluator(logger)
	facts := service.NewFactService(generator, &cfg.Generator, logger)
	dialogue := service.NewDialogueService(generator, retriever, rules, facts, &cfg.Generator, logger)
	handoff := service.NewHandoffService(generator, facts, rules, redFlags, recorder, &cfg.Generator, logger)

	sessionRepo := repository.NewSessionRepository(db.Pool, logger)
	submissionRepo := repository.NewSubmissionRepository(db.Pool, logger)
	sessions := service.NewSessionService(sessionRepo, submissionRepo, sessionCache, dialogue, handoff, facts, rules, logger)

	server := api.NewServer(cfg, sessions, db, cacheHealth, logger)
	if err := server.Start(ctx); err != nil {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Info("Server stopped")
}

// newLogger builds the application logger from the logging configuration.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if strings.ToLower(cfg.Output) == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return logger
}

// runMigrations applies pending schema migrations and releases the runner's
// own database handle.
func runMigrations(ctx context.Context, configManager *config.Manager, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(
		configManager.GetDatabaseURL(),
		configManager.GetDatabaseConfig().MigrationsPath,
		logger,
	)
	if err != nil {
		return err
	}
	defer runner.Close()

	return runner.Up(ctx)
}

// newDivergenceRecorder opens the configured audit backend. SQLite keeps the
// append-only log in a local file; postgres shares the main database.
func newDivergenceRecorder(cfg *domain.Config, configManager *config.Manager) (domain.DivergenceRecorder, func(), error) {
	switch strings.ToLower(cfg.Audit.Backend) {
	case "postgres":
		db, err := sql.Open("postgres", configManager.GetDatabaseConnectionString())
		if err != nil {
			return nil, nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, err
		}
		return divergence.NewPostgresStore(db), func() { db.Close() }, nil
	default:
		store, err := divergence.NewSQLiteStore(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
}
