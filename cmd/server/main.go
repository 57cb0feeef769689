package main

import (
	"os"
	"path/filepath"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"hometrack/server/config"
	"hometrack/server/internal/api"
	"hometrack/server/internal/archive"
	"hometrack/server/internal/database"
	"hometrack/server/internal/ledger"
	"hometrack/server/internal/processor"
	"hometrack/server/internal/queue"
	"hometrack/server/internal/rollup"
	"hometrack/server/internal/scheduler"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// .env is optional; environment variables win either way
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		logger.WithError(err).Fatal("Failed to create database directory")
	}
	logger.Infof("Using database at: %s", cfg.DatabasePath)

	// Initialize store
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	journal, err := database.NewGormDB(cfg.DatabasePath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize journal database")
	}
	if err := database.MigrateSchema(journal); err != nil {
		logger.WithError(err).Fatal("Failed to migrate journal schema")
	}

	// Core components
	ledgerStore := ledger.NewStore(db, cfg.Aggregation.Windows, logger)
	aggregator := rollup.NewAggregator(db, cfg.Aggregation.Windows, cfg.Aggregation.RetentionDays, logger)
	engine := archive.NewEngine(db, ledgerStore, logger)

	// Ingestion pipeline
	observationQueue := queue.NewObservationQueue(cfg.BatchProcessing.QueueSize, logger)
	batchProcessor := processor.NewBatchProcessor(journal, ledgerStore, observationQueue, cfg, logger)
	batchProcessor.Start()
	observationQueue.Start()
	defer func() {
		observationQueue.Close()
		batchProcessor.Stop()
	}()

	// Periodic aggregation and archival sweep
	sched := scheduler.NewScheduler(aggregator, engine, cfg, logger)
	sched.Start()
	defer sched.Stop()

	// HTTP API
	handler := api.NewHandler(db, journal, ledgerStore, aggregator, engine, observationQueue, logger)
	router := gin.Default()
	router.Use(cors.Default())
	api.SetupRoutes(router, handler)

	logger.Infof("Starting server on port %s", cfg.HTTPPort)
	if err := router.Run(":" + cfg.HTTPPort); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}
