package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/certledger-backend/internal/certificates"
	"github.com/angelmondragon/certledger-backend/internal/cron"
	"github.com/angelmondragon/certledger-backend/pkg/config"
	"github.com/angelmondragon/certledger-backend/pkg/db"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
	"github.com/angelmondragon/certledger-backend/pkg/metrics"
	"github.com/angelmondragon/certledger-backend/pkg/migrate"
	"github.com/angelmondragon/certledger-backend/pkg/redis"
)

const serviceName = "cron-worker"

type flags struct {
	once bool
	jobs []string
}

func main() {
	var f flags
	var jobs string
	flag.BoolVar(&f.once, "once", false, "run a single cycle and exit")
	flag.StringVar(&jobs, "jobs", "", "comma-separated job names to run (default: all)")
	flag.Parse()
	if strings.TrimSpace(jobs) != "" {
		f.jobs = strings.Split(jobs, ",")
	}

	boot := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		boot.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, f)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		boot.Error(context.Background(), "cron worker exited", err)
		os.Exit(1)
	}
}

// run wires the worker and blocks until ctx ends, or after one cycle with
// --once. Deferred closers run before main exits.
func run(ctx context.Context, f flags) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceName

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWith(logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeWith(logg, "redis", redisClient.Close)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), 2*cfg.Cron.Interval)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	registry, err := buildRegistry(cfg, logg, dbClient, f.jobs)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"serviceKind": cfg.Service.Kind, "once": f.once})
	logg.Info(ctx, "starting cron worker")
	if f.once {
		return service.RunOnce(ctx)
	}
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, only []string) (*cron.Registry, error) {
	tempCleanup, err := cron.NewTempCleanupJob(cron.TempCleanupJobParams{
		Logger: logg,
		Dir:    cfg.Issuance.TempDir,
		MaxAge: cfg.Cron.TempMaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("temp cleanup job: %w", err)
	}
	provisionalSweep, err := cron.NewProvisionalSweepJob(cron.ProvisionalSweepJobParams{
		Logger:  logg,
		Repo:    certificates.NewRepository(dbClient.DB()),
		Metrics: metrics.NewPipelineMetrics(prometheus.DefaultRegisterer),
		TTL:     cfg.Cron.ProvisionalTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("provisional sweep job: %w", err)
	}

	registry, err := cron.NewRegistry(tempCleanup, provisionalSweep)
	if err == nil && len(only) > 0 {
		registry, err = registry.Only(only...)
	}
	if err != nil {
		return nil, fmt.Errorf("job registry: %w", err)
	}
	return registry, nil
}

func closeWith(logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+what, err)
	}
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return serviceName + ":" + env
}
