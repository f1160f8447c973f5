package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/devrev/recordstore/internal/backend"
	"github.com/devrev/recordstore/internal/backend/memdb"
	"github.com/devrev/recordstore/internal/backend/postgres"
	"github.com/devrev/recordstore/internal/cache"
	"github.com/devrev/recordstore/internal/config"
	"github.com/devrev/recordstore/internal/database"
	"github.com/devrev/recordstore/internal/health"
	"github.com/devrev/recordstore/internal/metrics"
	"github.com/devrev/recordstore/internal/notify"
	"github.com/devrev/recordstore/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting recordstore",
		zap.String("database", cfg.Database.Name),
		zap.String("backend", cfg.Database.Backend),
		zap.Bool("sync_enabled", cfg.Database.SyncEnabled),
		zap.Int("port", cfg.Server.Port))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("recordstore failed", zap.Error(err))
	}
	logger.Info("recordstore stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	db := database.New(cfg.Database.Name, b, cache.New(cache.WithObserver(m.RecordCacheLookup)),
		database.WithLogger(logger),
		database.WithMetrics(m),
		database.WithSyncEnabled(cfg.Database.SyncEnabled),
		database.WithSaveSyncedRemoteActions(cfg.Database.SaveRemote()),
		database.WithSplitterDefaults(
			database.WithBatchSize(cfg.Migration.BatchSize),
			database.WithBatchRate(cfg.Migration.BatchesPerSecond),
		),
	)

	healthChecker := health.NewHealthChecker(db, logger)
	healthChecker.AddCheck("backend", b)

	if cfg.Redis.Enabled {
		publisher, err := notify.NewRedisPublisher(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer publisher.Close()
		notifier := notify.NewNotifier(publisher, cfg.Redis.Channel, logger)
		remove := db.Listeners().AddListener(db.Name(), notifier)
		defer remove()
		healthChecker.AddCheck("redis", notifier)
		logger.Info("Change notifications enabled", zap.String("channel", cfg.Redis.Channel))
	}

	if err := db.Open(ctx, nil, false); err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.Database.Name, err)
	}
	logger.Info("Database opened")

	srv := server.NewServer(cfg, db, healthChecker, registry, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.Backend, error) {
	switch cfg.Database.Backend {
	case config.BackendPostgres:
		pg := cfg.Postgres
		b, err := postgres.New(ctx, pg.Host, pg.Port, pg.Database, pg.User, pg.Password,
			pg.MaxConnections, pg.MinConnections, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres backend: %w", err)
		}
		logger.Info("PostgreSQL backend initialized",
			zap.String("host", pg.Host), zap.Int("port", pg.Port), zap.String("database", pg.Database))
		return b, nil
	default:
		logger.Info("In-memory backend initialized")
		return memdb.New(logger), nil
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}
