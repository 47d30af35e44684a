package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/certledger-backend/api/controllers"
	"github.com/angelmondragon/certledger-backend/api/middleware"
	"github.com/angelmondragon/certledger-backend/internal/batch"
	"github.com/angelmondragon/certledger-backend/internal/certificates"
	"github.com/angelmondragon/certledger-backend/internal/documents"
	"github.com/angelmondragon/certledger-backend/internal/issuance"
	"github.com/angelmondragon/certledger-backend/internal/ledger"
	"github.com/angelmondragon/certledger-backend/internal/notifications"
	"github.com/angelmondragon/certledger-backend/internal/revocation"
	"github.com/angelmondragon/certledger-backend/internal/verification"
	"github.com/angelmondragon/certledger-backend/pkg/config"
	"github.com/angelmondragon/certledger-backend/pkg/db"
	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

type issuanceService interface {
	Issue(ctx context.Context, req issuance.Request) (*issuance.Result, error)
	ResendEmail(ctx context.Context, id string) (*issuance.ResendResult, error)
}

type batchService interface {
	Issue(ctx context.Context, items []issuance.Request) (*batch.Result, error)
}

type certificateService interface {
	Get(ctx context.Context, id string) (*models.Certificate, error)
	List(ctx context.Context, params certificates.ListParams) (*certificates.ListResult, error)
	Stats(ctx context.Context) (certificates.Stats, error)
}

type revocationService interface {
	Revoke(ctx context.Context, id, reason, actor string) (*revocation.Result, error)
}

type verificationService interface {
	VerifyByID(ctx context.Context, id string, meta verification.Meta) (*verification.Outcome, error)
	VerifyByFingerprint(ctx context.Context, hash string, meta verification.Meta) (*verification.Outcome, error)
	VerifyByTransaction(ctx context.Context, reference string, meta verification.Meta) (*verification.Outcome, error)
	VerifyScan(ctx context.Context, payload string, meta verification.Meta) (*verification.Outcome, error)
	History(ctx context.Context, certificateID string, limit int) ([]models.VerificationLog, error)
	Stats(ctx context.Context) (verification.LogStats, error)
	Ledger(ctx context.Context) (*verification.LedgerOverview, error)
	Trends(ctx context.Context, days int) (*verification.TrendReport, error)
}

type emailHistoryService interface {
	History(ctx context.Context, certificateID string) ([]models.EmailLog, error)
}

type emailLogService interface {
	Search(ctx context.Context, params notifications.SearchParams) (*notifications.SearchResult, error)
	Stats(ctx context.Context) (notifications.Stats, error)
}

type documentService interface {
	Retrieve(ctx context.Context, address string) (documents.Retrieval, error)
	Health(ctx context.Context) documents.Health
}

type ledgerService interface {
	Health(ctx context.Context) ledger.Status
}

// Deps carries everything the router wires into controllers. Limiter and
// Gatherer are optional.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           db.Pinger
	Limiter      rateLimiter
	Gatherer     prometheus.Gatherer
	Issuance     issuanceService
	Batch        batchService
	Certificates certificateService
	Revocation   revocationService
	Verification verificationService
	EmailHistory emailHistoryService
	Emails       emailLogService
	Documents    documentService
	Ledger       ledgerService
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.AllowedOrigins),
	)

	verifyPolicy := middleware.NewRateLimitPolicy("verify", cfg.RateLimit.VerifyWindow, cfg.RateLimit.VerifyLimit)
	issuePolicy := middleware.NewRateLimitPolicy("issue", cfg.RateLimit.IssueWindow, cfg.RateLimit.IssueLimit)

	var (
		limiter    middleware.RateLimitStore
		redisProbe controllers.Pinger
	)
	if d.Limiter != nil {
		limiter = d.Limiter
		redisProbe = d.Limiter
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.DB, redisProbe, d.Ledger, d.Documents))
	})

	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/certificates", func(r chi.Router) {
		r.With(middleware.RateLimit(issuePolicy, limiter, logg)).Post("/", controllers.IssueCertificate(d.Issuance, logg))
		r.With(middleware.RateLimit(issuePolicy, limiter, logg)).Post("/batch", controllers.IssueBatch(d.Batch, logg))
		r.Get("/", controllers.ListCertificates(d.Certificates, logg))
		r.Get("/stats", controllers.CertificateStats(d.Certificates, logg))
		r.Get("/emails", controllers.EmailHistory(d.Emails, logg))
		r.Get("/emails/stats", controllers.EmailStats(d.Emails, logg))
		r.Route("/{certificateId}", func(r chi.Router) {
			r.Get("/", controllers.GetCertificate(d.Certificates, logg))
			r.Post("/revoke", controllers.RevokeCertificate(d.Revocation, logg))
			r.Post("/resend-email", controllers.ResendCertificateEmail(d.Issuance, logg))
			r.Get("/email-history", controllers.CertificateEmailHistory(d.Certificates, d.EmailHistory, logg))
			r.Get("/document", controllers.CertificateDocument(d.Certificates, d.Documents, logg))
		})
	})

	r.Route("/api/v1/verify", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(verifyPolicy, limiter, logg))
			r.Post("/id", controllers.VerifyByID(d.Verification, logg))
			r.Post("/fingerprint", controllers.VerifyByFingerprint(d.Verification, logg))
			r.Post("/transaction", controllers.VerifyByTransaction(d.Verification, logg))
			r.Post("/scan", controllers.VerifyScan(d.Verification, logg))
		})
		r.Get("/history/{certificateId}", controllers.VerificationHistory(d.Verification, logg))
		r.Get("/stats", controllers.VerificationStats(d.Verification, logg))
		r.Get("/trends", controllers.VerificationTrends(d.Verification, logg))
		r.Get("/ledger", controllers.VerificationLedger(d.Verification, logg))
	})

	return r
}
