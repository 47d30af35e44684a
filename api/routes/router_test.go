package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/certledger-backend/internal/batch"
	"github.com/angelmondragon/certledger-backend/internal/certificates"
	"github.com/angelmondragon/certledger-backend/internal/documents"
	"github.com/angelmondragon/certledger-backend/internal/issuance"
	"github.com/angelmondragon/certledger-backend/internal/ledger"
	"github.com/angelmondragon/certledger-backend/internal/notifications"
	"github.com/angelmondragon/certledger-backend/internal/revocation"
	"github.com/angelmondragon/certledger-backend/internal/verification"
	"github.com/angelmondragon/certledger-backend/pkg/config"
	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
	"github.com/angelmondragon/certledger-backend/pkg/metrics"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubLimiter struct {
	stubPinger
	counts map[string]int64
}

func (s *stubLimiter) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	s.counts[scope]++
	return s.counts[scope] <= limit, s.counts[scope], nil
}

type stubServices struct{}

func (s *stubServices) Issue(ctx context.Context, req issuance.Request) (*issuance.Result, error) {
	return &issuance.Result{Certificate: &models.Certificate{ID: "DEIT20260001", SubjectName: req.SubjectName, Status: enums.CertificateStatusIssued}}, nil
}

func (s *stubServices) ResendEmail(ctx context.Context, id string) (*issuance.ResendResult, error) {
	return &issuance.ResendResult{CertificateID: id}, nil
}

func (s *stubServices) Get(ctx context.Context, id string) (*models.Certificate, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "certificate not found")
}

func (s *stubServices) List(ctx context.Context, params certificates.ListParams) (*certificates.ListResult, error) {
	return &certificates.ListResult{Items: []models.Certificate{}}, nil
}

func (s *stubServices) Stats(ctx context.Context) (certificates.Stats, error) {
	return certificates.Stats{Total: 3}, nil
}

func (s *stubServices) Revoke(ctx context.Context, id, reason, actor string) (*revocation.Result, error) {
	return &revocation.Result{CertificateID: id, Status: enums.CertificateStatusRevoked}, nil
}

func (s *stubServices) History(ctx context.Context, certificateID string) ([]models.EmailLog, error) {
	return nil, nil
}

type stubBatch struct{}

func (stubBatch) Issue(ctx context.Context, items []issuance.Request) (*batch.Result, error) {
	return &batch.Result{Total: len(items)}, nil
}

type stubVerifier struct {
	ids []string
}

func (s *stubVerifier) VerifyByID(ctx context.Context, id string, meta verification.Meta) (*verification.Outcome, error) {
	s.ids = append(s.ids, id)
	return &verification.Outcome{Found: false}, nil
}

func (s *stubVerifier) VerifyByFingerprint(ctx context.Context, hash string, meta verification.Meta) (*verification.Outcome, error) {
	return &verification.Outcome{}, nil
}

func (s *stubVerifier) VerifyByTransaction(ctx context.Context, reference string, meta verification.Meta) (*verification.Outcome, error) {
	return &verification.Outcome{}, nil
}

func (s *stubVerifier) VerifyScan(ctx context.Context, payload string, meta verification.Meta) (*verification.Outcome, error) {
	return &verification.Outcome{}, nil
}

func (s *stubVerifier) History(ctx context.Context, certificateID string, limit int) ([]models.VerificationLog, error) {
	return nil, nil
}

func (s *stubVerifier) Stats(ctx context.Context) (verification.LogStats, error) {
	return verification.LogStats{}, nil
}

func (s *stubVerifier) Ledger(ctx context.Context) (*verification.LedgerOverview, error) {
	return &verification.LedgerOverview{Network: ledger.NetworkInfo{Mode: "fallback"}}, nil
}

func (s *stubVerifier) Trends(ctx context.Context, days int) (*verification.TrendReport, error) {
	return &verification.TrendReport{Days: days, Trends: []verification.DayTrend{}}, nil
}

type stubEmails struct{}

func (stubEmails) Search(ctx context.Context, params notifications.SearchParams) (*notifications.SearchResult, error) {
	return &notifications.SearchResult{Items: []models.EmailLog{}}, nil
}

func (stubEmails) Stats(ctx context.Context) (notifications.Stats, error) {
	return notifications.Stats{Total: 2, ByType: map[string]int64{}}, nil
}

type stubDocuments struct{}

func (stubDocuments) Retrieve(ctx context.Context, address string) (documents.Retrieval, error) {
	return documents.Retrieval{}, nil
}

func (stubDocuments) Health(ctx context.Context) documents.Health {
	return documents.Health{Gateways: 2}
}

type stubLedger struct{}

func (stubLedger) Health(ctx context.Context) ledger.Status {
	return ledger.Status{Mode: "fallback"}
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		RateLimit: config.RateLimitConfig{
			VerifyWindow: time.Minute,
			VerifyLimit:  2,
		},
	}
}

func newTestRouter(t *testing.T, limiter rateLimiter, verifier *stubVerifier) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.NewPipelineMetrics(reg).IncIssuance("issued")
	svc := &stubServices{}
	deps := Deps{
		Config:       testConfig(),
		Logger:       logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:           stubPinger{},
		Gatherer:     reg,
		Issuance:     svc,
		Batch:        stubBatch{},
		Certificates: svc,
		Revocation:   svc,
		Verification: verifier,
		EmailHistory: svc,
		Emails:       stubEmails{},
		Documents:    stubDocuments{},
		Ledger:       stubLedger{},
	}
	if limiter != nil {
		deps.Limiter = limiter
	}
	return NewRouter(deps)
}

func TestHealthRoutes(t *testing.T) {
	router := newTestRouter(t, nil, &stubVerifier{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("live: expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}
	var body struct {
		Data struct {
			Status string `json:"status"`
			Ledger struct {
				Mode string `json:"mode"`
			} `json:"ledger"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	if body.Data.Status != "ready" || body.Data.Ledger.Mode != "fallback" {
		t.Fatalf("unexpected ready payload %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil, &stubVerifier{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "issuance_total") {
		t.Fatalf("expected pipeline metrics in output")
	}
}

func TestCertificateRoutes(t *testing.T) {
	router := newTestRouter(t, nil, &stubVerifier{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/certificates/DEIT20269999", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown certificate, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/certificates/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected stats route to win over id route, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/certificates/DEIT20260001/revoke", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected revoke with empty body to succeed, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestVerifyRoutesAreRateLimited(t *testing.T) {
	limiter := &stubLimiter{counts: map[string]int64{}}
	verifier := &stubVerifier{}
	router := newTestRouter(t, limiter, verifier)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/verify/id", strings.NewReader(`{"certificateId":"DEIT20260001"}`))
		req.RemoteAddr = "198.51.100.4:4000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if len(verifier.ids) != 2 {
		t.Fatalf("expected two verifications to reach the service, got %v", verifier.ids)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/verify/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected stats outside the limited group, got %d", rec.Code)
	}
}

func TestReportingRoutesWinOverIDRoute(t *testing.T) {
	router := newTestRouter(t, nil, &stubVerifier{})

	for _, path := range []string{
		"/api/v1/certificates/emails?status=failed",
		"/api/v1/certificates/emails/stats",
		"/api/v1/verify/trends?days=7",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/verify/trends?days=1000", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized window, got %d", rec.Code)
	}
}
