// Package control wires the application together and manages its
// lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/mediagate/internal/backup"
	"github.com/vietddude/mediagate/internal/cache"
	"github.com/vietddude/mediagate/internal/core/config"
	"github.com/vietddude/mediagate/internal/gateway"
	"github.com/vietddude/mediagate/internal/health"
	"github.com/vietddude/mediagate/internal/infra/structured"
	"github.com/vietddude/mediagate/internal/infra/structured/postgres"
	structsqlite "github.com/vietddude/mediagate/internal/infra/structured/sqlite"
	"github.com/vietddude/mediagate/internal/infra/vector"
	vectorlocal "github.com/vietddude/mediagate/internal/infra/vector/local"
	vectorweaviate "github.com/vietddude/mediagate/internal/infra/vector/weaviate"
	"github.com/vietddude/mediagate/internal/resilience/breaker"
	"github.com/vietddude/mediagate/internal/resilience/monitor"
	"github.com/vietddude/mediagate/internal/tasks"
	"github.com/vietddude/mediagate/migrations"
)

// App is the main application struct that owns the resilience layer.
type App struct {
	cfg          *config.AppConfig
	monitor      *monitor.Monitor
	cache        *cache.Cache
	gateway      *gateway.Gateway
	embedder     *vectorlocal.Embedder
	backups      *backup.Manager
	scheduler    *tasks.Scheduler
	healthServer *health.Server
	log          *slog.Logger

	migrateOnce sync.Once
	migrateErr  error
}

// NewApp creates an App with all dependencies initialized.
func NewApp(cfg *config.AppConfig) (*App, error) {
	dataDir := cfg.Data.Dir
	fallbackDir := filepath.Join(dataDir, "fallback")
	if err := os.MkdirAll(fallbackDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	mon, err := monitor.New(filepath.Join(dataDir, "logs", "errors"))
	if err != nil {
		return nil, fmt.Errorf("failed to init error monitor: %w", err)
	}

	tieredCache, err := cache.New(cache.Config{
		Dir:            filepath.Join(dataDir, "cache"),
		MaxFastEntries: cfg.Cache.MaxFastEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init cache: %w", err)
	}

	app := &App{
		cfg:      cfg,
		monitor:  mon,
		cache:    tieredCache,
		embedder: vectorlocal.NewEmbedder(cfg.Vector.Dimension),
		log:      slog.Default(),
	}

	breakerCfg := breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	}

	app.gateway = gateway.New(mon, breakerCfg,
		app.structuredTiers(fallbackDir),
		app.vectorTiers(fallbackDir))

	app.backups, err = backup.New(fallbackDir, filepath.Join(dataDir, "backups"), backup.Config{
		MaxBackups: cfg.Backup.MaxBackups,
		MaxAge:     cfg.Backup.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init backup manager: %w", err)
	}

	app.healthServer = health.NewServer(app.gateway, mon, cfg.Server.Port)

	app.scheduler = tasks.New(0)
	if err := app.registerTasks(); err != nil {
		return nil, fmt.Errorf("failed to register maintenance tasks: %w", err)
	}

	return app, nil
}

// structuredTiers builds the tier dialers for the structured dependency.
// Primary and secondary connect to the remote service; the fallback opens
// the embedded store under the data directory.
func (a *App) structuredTiers(fallbackDir string) gateway.Tiers[structured.Client] {
	tiers := gateway.Tiers[structured.Client]{
		Primary: func(ctx context.Context) (structured.Client, error) {
			c, err := postgres.New(a.cfg.Structured.PrimaryDSN)
			if err != nil {
				return nil, err
			}
			if err := a.migrate(c); err != nil {
				c.Close()
				return nil, err
			}
			return c, nil
		},
		Fallback: func(ctx context.Context) (structured.Client, error) {
			return structsqlite.Open(ctx, filepath.Join(fallbackDir, "structured.db"))
		},
	}
	if dsn := a.cfg.Structured.SecondaryDSN; dsn != "" {
		tiers.Secondary = func(ctx context.Context) (structured.Client, error) {
			return postgres.New(dsn)
		}
	}
	return tiers
}

func (a *App) vectorTiers(fallbackDir string) gateway.Tiers[vector.Client] {
	cfg := a.cfg.Vector
	tiers := gateway.Tiers[vector.Client]{
		Primary: func(ctx context.Context) (vector.Client, error) {
			return vectorweaviate.New(cfg.PrimaryURL, cfg.PrimaryAPIKey)
		},
		Fallback: func(ctx context.Context) (vector.Client, error) {
			return vectorlocal.Open(ctx, filepath.Join(fallbackDir, "vectors.db"), cfg.Dimension)
		},
	}
	if cfg.SecondaryURL != "" {
		tiers.Secondary = func(ctx context.Context) (vector.Client, error) {
			return vectorweaviate.New(cfg.SecondaryURL, cfg.SecondaryAPIKey)
		}
	}
	return tiers
}

// migrate applies the embedded primary schema once per process.
func (a *App) migrate(c *postgres.Client) error {
	a.migrateOnce.Do(func() {
		goose.SetBaseFS(migrations.FS)
		if err := goose.SetDialect("postgres"); err != nil {
			a.migrateErr = err
			return
		}
		if err := goose.Up(c.DB(), "."); err != nil {
			a.migrateErr = fmt.Errorf("failed to migrate db: %w", err)
		}
	})
	return a.migrateErr
}

func (a *App) registerTasks() error {
	sched := a.cfg.Scheduler

	if err := a.scheduler.Register(tasks.Task{
		Name:     "cache_clean",
		Schedule: sched.CacheClean,
		Run: func(ctx context.Context) {
			fast, slow := a.cache.CleanExpired()
			a.log.Info("Cache sweep finished", "fast_removed", fast, "slow_removed", slow)
		},
	}); err != nil {
		return err
	}

	if err := a.scheduler.Register(tasks.Task{
		Name:     "connection_check",
		Schedule: sched.ConnectionCheck,
		Run: func(ctx context.Context) {
			health := a.gateway.CheckAll(ctx)
			for dep, h := range health.Dependencies {
				if !h.Healthy {
					a.log.Warn("Dependency unhealthy", "dependency", dep, "failures", h.FailureCount)
				}
			}
		},
	}); err != nil {
		return err
	}

	return a.scheduler.Register(tasks.Task{
		Name:     "fallback_backup",
		Schedule: sched.Backup,
		Run: func(ctx context.Context) {
			if _, err := a.backups.Create(""); err != nil {
				a.log.Error("Scheduled backup failed", "error", err)
			}
		},
	})
}

// Gateway exposes the failover orchestrator to request handlers.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// Cache exposes the tiered cache.
func (a *App) Cache() *cache.Cache { return a.cache }

// Embedder exposes the fallback embedder used while the real embedding
// service is unreachable.
func (a *App) Embedder() *vectorlocal.Embedder { return a.embedder }

// Backups exposes the backup manager.
func (a *App) Backups() *backup.Manager { return a.backups }

// Monitor exposes the error monitor.
func (a *App) Monitor() *monitor.Monitor { return a.monitor }

// Start starts the health server, the maintenance scheduler, and runs an
// initial connection check.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	a.scheduler.Start()

	health := a.gateway.CheckAll(ctx)
	for dep, h := range health.Dependencies {
		a.log.Info("Initial dependency check", "dependency", dep, "healthy", h.Healthy)
	}

	return nil
}

// Stop shuts the application down in reverse start order.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping...")

	a.scheduler.Stop()
	a.gateway.Close()

	if err := a.cache.Close(); err != nil {
		a.log.Warn("Failed to close cache", "error", err)
	}

	return a.healthServer.Stop(ctx)
}
