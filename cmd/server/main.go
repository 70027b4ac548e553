package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parleychat/parley/internal/api"
	"github.com/parleychat/parley/internal/app"
	"github.com/parleychat/parley/internal/app/maintenance"
	"github.com/parleychat/parley/internal/cache"
	"github.com/parleychat/parley/internal/database"
	"github.com/parleychat/parley/internal/delivery"
	"github.com/parleychat/parley/internal/gateway"
	"github.com/parleychat/parley/internal/presence"
	"github.com/parleychat/parley/internal/services"
	"github.com/parleychat/parley/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("parley-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	dbStore := cache.NewDatabaseStore(db)

	// Acknowledgment records prefer Redis so they survive restarts; the
	// database store is the fallback.
	var statusStore cache.Store = dbStore
	var redisClient *cache.RedisClient
	if cfg.Cache.Redis.Enabled {
		client, redisErr := cache.NewRedisClient(cfg.RedisClientConfig())
		if redisErr != nil {
			log.Warn("redis unavailable; using database-backed status records", zap.Error(redisErr))
		} else {
			redisClient = client
			statusStore = client
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	members, err := services.NewMemberService(db)
	if err != nil {
		return fmt.Errorf("initialise member service: %w", err)
	}
	chats, err := services.NewChatService(db)
	if err != nil {
		return fmt.Errorf("initialise chat service: %w", err)
	}
	messages, err := services.NewMessageService(db)
	if err != nil {
		return fmt.Errorf("initialise message service: %w", err)
	}

	registry := presence.NewRegistry()

	tracker, err := delivery.NewStatusTracker(statusStore, delivery.TrackerOptions{
		TTL:          cfg.Delivery.StatusTTL,
		PollInterval: cfg.Delivery.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("initialise status tracker: %w", err)
	}
	coordinator, err := delivery.NewCoordinator(registry, tracker, cfg.Delivery.AckTimeout)
	if err != nil {
		return fmt.Errorf("initialise delivery coordinator: %w", err)
	}

	controller, err := gateway.NewController(registry, coordinator, members, chats, messages)
	if err != nil {
		return fmt.Errorf("initialise gateway: %w", err)
	}

	// Redis-backed deployments skip the cache purge job; Redis expires its
	// own keys.
	purgeStore := dbStore
	if redisClient != nil {
		purgeStore = nil
	}
	cleaner := maintenance.NewCleaner(registry, purgeStore,
		maintenance.WithSweepSchedule(cfg.Presence.SweepSchedule))
	if err := cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		<-cleaner.Stop().Done()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := cleaner.RunOnce(cleanupCtx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}()

	router, err := api.NewRouter(api.Deps{
		Config:     cfg,
		DB:         db,
		Registry:   registry,
		Members:    members,
		Controller: controller,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected",
		zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("database handle unavailable at shutdown", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}
