package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cryptorafts/platform/internal/api"
	"cryptorafts/platform/internal/common"
	"cryptorafts/platform/internal/config"
	"cryptorafts/platform/internal/db"
	"cryptorafts/platform/internal/logging"
	"cryptorafts/platform/internal/metrics"
	"cryptorafts/platform/internal/routes"
	"cryptorafts/platform/internal/workers"
)

const shutdownTimeout = 15 * time.Second

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logging.Init(cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Close()

	logging.Info("Cryptorafts platform starting up",
		"environment", cfg.AppEnv,
		"db_driver", cfg.DBDriver,
		"timestamp", time.Now().Format(time.RFC3339),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orm, sqlDB, err := openDatabase(cfg)
	if err != nil {
		logging.Fatal("Failed to open document store", "error", err)
	}
	defer sqlDB.Close()

	if err := db.Migrate(orm); err != nil {
		logging.Fatal("Failed to migrate document store", "error", err)
	}

	var (
		redisClient *redis.Client
		hub         common.ChangeHub
	)
	if cfg.RedisEnabled {
		redisClient = common.NewRedisClient(common.RedisOptions{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()

		redisHub := common.NewRedisChangeHub(redisClient, common.DefaultChangeChannel)
		if err := redisHub.Start(ctx); err != nil {
			logging.Warn("Cross-instance change feed unavailable, listeners only see local writes", "error", err)
		}
		hub = redisHub
	}

	metricsReg := metrics.NewMetricsRegistry(nil)
	workersContainer := workers.InitWorkers(ctx, cfg.ExecutorConfig(), metricsReg)

	deps, err := api.InitDependencies(cfg, api.Infra{
		ORM:   orm,
		SQL:   sqlDB,
		Redis: redisClient,
		Hub:   hub,
		Tasks: workersContainer.Executor,
	}, metricsReg)
	if err != nil {
		logging.Fatal("Failed to initialize dependencies", "error", err)
	}

	upSince := time.Now()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           routes.RegisterRoutes(deps, nil, upSince),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info("Server starting", "addr", cfg.HTTPAddr, "environment", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("HTTP server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logging.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("HTTP server shutdown failed", "error", err)
	}
	if err := workersContainer.Executor.Shutdown(shutdownCtx); err != nil {
		logging.Error("Task executor shutdown failed", "error", err)
	}
	logging.Info("Server stopped")
}

// openDatabase opens the gorm document store and the sqlx handle sharing its pool
func openDatabase(cfg *config.Config) (*gorm.DB, *sqlx.DB, error) {
	switch cfg.DBDriver {
	case "sqlite":
		orm, err := db.InitSQLiteORM(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.WrapORM(orm, "sqlite3")
		return orm, sqlDB, err
	default:
		dsn := db.PostgresDSN(cfg.PGHost, cfg.PGPort, cfg.PGUser, cfg.PGPassword, cfg.PGDB)
		sqlDB, err := db.InitPostgres(dsn)
		if err != nil {
			return nil, nil, err
		}
		orm, err := db.InitPostgresORM(dsn)
		if err != nil {
			return nil, nil, err
		}
		return orm, sqlDB, nil
	}
}
