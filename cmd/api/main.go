package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/certledger-backend/api/routes"
	"github.com/angelmondragon/certledger-backend/internal/batch"
	"github.com/angelmondragon/certledger-backend/internal/certificates"
	"github.com/angelmondragon/certledger-backend/internal/documents"
	"github.com/angelmondragon/certledger-backend/internal/identifier"
	"github.com/angelmondragon/certledger-backend/internal/issuance"
	"github.com/angelmondragon/certledger-backend/internal/ledger"
	"github.com/angelmondragon/certledger-backend/internal/notifications"
	"github.com/angelmondragon/certledger-backend/internal/revocation"
	"github.com/angelmondragon/certledger-backend/internal/verification"
	"github.com/angelmondragon/certledger-backend/pkg/config"
	"github.com/angelmondragon/certledger-backend/pkg/db"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
	"github.com/angelmondragon/certledger-backend/pkg/metrics"
	"github.com/angelmondragon/certledger-backend/pkg/migrate"
	"github.com/angelmondragon/certledger-backend/pkg/pubsub"
	"github.com/angelmondragon/certledger-backend/pkg/redis"
)

const serviceName = "api"

func main() {
	boot := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		boot.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		boot.Error(context.Background(), "api exited", err)
		os.Exit(1)
	}
}

// run wires the api and serves until ctx ends. Every resource acquired here
// is released before it returns.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	var closers []func() error
	defer func() {
		if errs := release(closers); errs != nil {
			logg.Error(context.Background(), "error releasing resources", errs)
		}
	}()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	closers = append(closers, dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("run dev migrations: %w", err)
	}

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.Redis.URL) != "" || strings.TrimSpace(cfg.Redis.Address) != "" {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return fmt.Errorf("bootstrap redis: %w", err)
		}
		closers = append(closers, redisClient.Close)
	} else {
		logg.Warn(ctx, "redis not configured; rate limiting disabled")
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	ledgerClient, err := ledger.New(ctx, cfg.Ledger, logg)
	if err != nil {
		return fmt.Errorf("bootstrap ledger client: %w", err)
	}

	documentStore, err := documents.NewStore(cfg.Documents, logg, pipelineMetrics)
	if err != nil {
		return fmt.Errorf("bootstrap document store: %w", err)
	}

	renderer, err := documents.NewRenderer(cfg.Issuance.TempDir)
	if err != nil {
		return fmt.Errorf("prepare temp dir: %w", err)
	}

	mailer, err := notifications.NewMailer(cfg.Mail)
	if err != nil {
		return fmt.Errorf("configure mailer: %w", err)
	}
	emailLogs := notifications.NewRepository(dbClient.DB())
	notifier, err := notifications.NewNotifier(notifications.NotifierParams{
		Mailer:              mailer,
		Repo:                emailLogs,
		Logger:              logg,
		SentBy:              cfg.Issuance.GeneratedBy,
		VerificationBaseURL: cfg.Issuance.VerificationBaseURL,
		SendTimeout:         cfg.Mail.Timeout,
	})
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}

	certRepo := certificates.NewRepository(dbClient.DB())

	allocator, err := identifier.NewAllocator(cfg.Issuance.IDPrefix, certRepo)
	if err != nil {
		return fmt.Errorf("create identifier allocator: %w", err)
	}

	params := issuance.OrchestratorParams{
		Certificates:      certRepo,
		Allocator:         allocator,
		Renderer:          renderer,
		Documents:         documentStore,
		Ledger:            ledgerClient,
		Notifier:          notifier,
		Metrics:           pipelineMetrics,
		Logger:            logg,
		ScanToken:         cfg.ScanToken,
		InstituteName:     cfg.Issuance.InstituteName,
		GeneratedBy:       cfg.Issuance.GeneratedBy,
		CleanupRetryDelay: cfg.Issuance.CleanupRetryDelay,
	}
	var events *pubsub.EventPublisher
	if cfg.FeatureFlags.PublishEvents {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return fmt.Errorf("bootstrap pubsub: %w", err)
		}
		closers = append(closers, psClient.Close)
		events, err = pubsub.NewEventPublisher(psClient.CertificatePublisher(), cfg.PubSub.PublishTimeout)
		if err != nil {
			return fmt.Errorf("create event publisher: %w", err)
		}
		params.Events = events
	}

	orchestrator, err := issuance.NewOrchestrator(params)
	if err != nil {
		return fmt.Errorf("create issuance orchestrator: %w", err)
	}

	coordinator, err := batch.NewCoordinator(orchestrator, cfg.Issuance.BatchMaxItems, cfg.Issuance.BatchGroupSize, logg)
	if err != nil {
		return fmt.Errorf("create batch coordinator: %w", err)
	}

	certService, err := certificates.NewService(certRepo)
	if err != nil {
		return fmt.Errorf("create certificate service: %w", err)
	}

	verifier, err := verification.NewService(verification.ServiceParams{
		Certificates: certRepo,
		Logs:         verification.NewLogRepository(dbClient.DB()),
		Ledger:       ledgerClient,
		Notifier:     notifier,
		Metrics:      pipelineMetrics,
		Logger:       logg,
		ScanToken:    cfg.ScanToken,
	})
	if err != nil {
		return fmt.Errorf("create verification service: %w", err)
	}

	var revocationManager *revocation.Manager
	if events != nil {
		revocationManager, err = revocation.NewManager(certRepo, notifier, events, logg)
	} else {
		revocationManager, err = revocation.NewManager(certRepo, notifier, nil, logg)
	}
	if err != nil {
		return fmt.Errorf("create revocation manager: %w", err)
	}

	deps := routes.Deps{
		Config:       cfg,
		Logger:       logg,
		DB:           dbClient,
		Gatherer:     prometheus.DefaultGatherer,
		Issuance:     orchestrator,
		Batch:        coordinator,
		Certificates: certService,
		Revocation:   revocationManager,
		Verification: verifier,
		EmailHistory: notifier,
		Emails:       notifier,
		Documents:    documentStore,
		Ledger:       ledgerClient,
	}
	if redisClient != nil {
		deps.Limiter = redisClient
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"addr":        addr,
		"instance":    id,
		"ledger_mode": ledgerClient.Mode(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:         addr,
		Handler:      routes.NewRouter(deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server stopped unexpectedly: %w", err)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}

	logg.Info(ctx, "api server stopped")
	return nil
}

// release closes resources in reverse acquisition order and joins the errors.
func release(closers []func() error) error {
	var errs error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, closers[i]())
	}
	return errs
}
