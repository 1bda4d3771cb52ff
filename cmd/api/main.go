package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"schoolops/internal/app"
	"schoolops/internal/attendance"
	"schoolops/internal/auth"
	"schoolops/internal/config"
	"schoolops/internal/httpapi"
	"schoolops/internal/pickup"
	"schoolops/internal/queue"
	"schoolops/internal/scan"
	"schoolops/internal/schedule"
	"schoolops/internal/store"
)

func main() {
	cfg := config.Load()
	logger := app.NewLogger(cfg.Env)
	defer logger.Sync()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	loc := cfg.Location()

	deps := httpapi.Deps{Config: cfg, Logger: logger}

	var (
		db          *store.DB
		redisClient *store.Redis
	)

	if cfg.StoreBackend == "memory" {
		deps.Scans = scan.NewService(scan.NewMemoryLedger(loc), logger)
		deps.Attendance = attendance.NewAggregator(attendance.NewMemoryStore(), logger)
		scheduleStore := schedule.NewMemoryStore()
		deps.ScheduleStore = scheduleStore
		deps.Schedule = schedule.NewResolver(scheduleStore, logger)
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL, store.Pool{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer db.Close()

		if cfg.MigrateOnStart {
			migrator, err := app.NewMigrator(db.Client, cfg.MigrationsDir, logger)
			if err != nil {
				return err
			}
			if err := migrator.Run(context.Background()); err != nil {
				return err
			}
		}

		deps.DB = db
		deps.Scans = scan.NewService(scan.NewPostgresLedger(db.Client, loc), logger)
		deps.Attendance = attendance.NewAggregator(attendance.NewPostgresStore(db.Client), logger)
		scheduleStore := schedule.NewPostgresStore(db.Client)
		deps.ScheduleStore = scheduleStore
		deps.Schedule = schedule.NewResolver(scheduleStore, logger)
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		redisClient = store.NewRedis(cfg.RedisAddr)
		deps.Redis = redisClient
		deps.Refresh = auth.NewRedisRefreshStore(redisClient.Client)
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	var pickupStore pickup.Store
	if cfg.StoreBackend == "memory" {
		pickupStore = pickup.NewMemoryStore()
	} else {
		pickupStore = pickup.NewPostgresStore(db.Client)
	}
	deps.Pickups = pickup.NewWorkflow(pickupStore, q, logger, cfg.PickupDailyQuota, pickup.WithLocation(loc))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      httpapi.New(deps).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api listening", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}
