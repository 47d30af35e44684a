package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/certledger-backend/internal/batch"
	"github.com/angelmondragon/certledger-backend/internal/certificates"
	"github.com/angelmondragon/certledger-backend/internal/documents"
	"github.com/angelmondragon/certledger-backend/internal/issuance"
	"github.com/angelmondragon/certledger-backend/internal/verification"
	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func withCertificateParam(req *http.Request, id string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("certificateId", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

type testIssuer struct {
	issueFn func(ctx context.Context, req issuance.Request) (*issuance.Result, error)
}

func (s *testIssuer) Issue(ctx context.Context, req issuance.Request) (*issuance.Result, error) {
	return s.issueFn(ctx, req)
}

type testBatch struct {
	issueFn func(ctx context.Context, items []issuance.Request) (*batch.Result, error)
}

func (s *testBatch) Issue(ctx context.Context, items []issuance.Request) (*batch.Result, error) {
	return s.issueFn(ctx, items)
}

type testReader struct {
	cert *models.Certificate
	err  error
}

func (s *testReader) Get(ctx context.Context, id string) (*models.Certificate, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.cert, nil
}

func (s *testReader) List(ctx context.Context, params certificates.ListParams) (*certificates.ListResult, error) {
	return &certificates.ListResult{Items: []models.Certificate{*s.cert}, Cursor: "next"}, nil
}

func (s *testReader) Stats(ctx context.Context) (certificates.Stats, error) {
	return certificates.Stats{}, nil
}

type testRetriever struct {
	retrieval documents.Retrieval
	calls     int
}

func (s *testRetriever) Retrieve(ctx context.Context, address string) (documents.Retrieval, error) {
	s.calls++
	return s.retrieval, nil
}

func issuedCertificate() *models.Certificate {
	ref := "0xabc"
	doc := "bafkreiexample"
	url := "https://ipfs.io/ipfs/bafkreiexample"
	origin := enums.LedgerOriginLedger
	return &models.Certificate{
		ID:                 "DEIT20260001",
		SubjectName:        "Asha Rao",
		CourseName:         "Data Science Essentials",
		SubjectEmail:       "asha@example.com",
		ContentFingerprint: strings.Repeat("a", 64),
		LedgerReference:    &ref,
		LedgerOrigin:       &origin,
		LedgerCost:         decimal.NewNullDecimal(decimal.NewFromInt(420000)),
		DocumentReference:  &doc,
		DocumentURL:        &url,
		Status:             enums.CertificateStatusIssued,
	}
}

func TestIssueCertificateReturnsCreatedDTO(t *testing.T) {
	svc := &testIssuer{issueFn: func(ctx context.Context, req issuance.Request) (*issuance.Result, error) {
		if req.SubjectName != "Asha Rao" {
			t.Fatalf("unexpected subject %q", req.SubjectName)
		}
		return &issuance.Result{
			Certificate:  issuedCertificate(),
			LedgerOrigin: enums.LedgerOriginLedger,
			Stages:       []issuance.StageOutcome{{Stage: issuance.StageAllocating, Status: issuance.StageStatusCompleted}},
		}, nil
	}}

	body := `{"studentName":"Asha Rao","fatherName":"Ravi Rao","email":"asha@example.com","district":"Pune","state":"MH","courseName":"Data Science Essentials"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/certificates", strings.NewReader(body))
	resp := httptest.NewRecorder()
	IssueCertificate(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data struct {
			Certificate map[string]any `json:"certificate"`
			Stages      []any          `json:"stages"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Certificate["id"] != "DEIT20260001" {
		t.Fatalf("unexpected certificate %v", envelope.Data.Certificate)
	}
	if envelope.Data.Certificate["ledgerCostWei"] != "420000" {
		t.Fatalf("expected cost rendered as string, got %v", envelope.Data.Certificate["ledgerCostWei"])
	}
	if envelope.Data.Certificate["ledgerOrigin"] != "ledger" {
		t.Fatalf("unexpected origin %v", envelope.Data.Certificate["ledgerOrigin"])
	}
	if len(envelope.Data.Stages) != 1 {
		t.Fatalf("expected stage trace, got %v", envelope.Data.Stages)
	}
}

func TestIssueCertificateRejectsUnknownFields(t *testing.T) {
	svc := &testIssuer{issueFn: func(ctx context.Context, req issuance.Request) (*issuance.Result, error) {
		t.Fatal("service should not be called")
		return nil, nil
	}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/certificates", strings.NewReader(`{"studentName":"A","unknown":1}`))
	resp := httptest.NewRecorder()
	IssueCertificate(svc, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestIssueBatchReportsItemFailures(t *testing.T) {
	svc := &testBatch{issueFn: func(ctx context.Context, items []issuance.Request) (*batch.Result, error) {
		if len(items) != 2 {
			t.Fatalf("expected 2 items, got %d", len(items))
		}
		return &batch.Result{
			Successful: []batch.Success{{Index: 1, Result: &issuance.Result{Certificate: issuedCertificate()}}},
			Failed:     []batch.Failure{{Index: 2, Code: string(pkgerrors.CodeValidation), Reason: "validation failed"}},
			Total:      2,
		}, nil
	}}

	body := `{"certificates":[{"studentName":"Asha Rao"},{"studentName":""}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/certificates/batch", strings.NewReader(body))
	resp := httptest.NewRecorder()
	IssueBatch(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data struct {
			Successful []struct {
				Index int `json:"index"`
			} `json:"successful"`
			Failed []batch.Failure `json:"failed"`
			Total  int             `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Total != 2 || len(envelope.Data.Successful) != 1 || envelope.Data.Failed[0].Index != 2 {
		t.Fatalf("unexpected batch payload %s", resp.Body.String())
	}
}

func TestCertificateDocumentStreamsBytes(t *testing.T) {
	pdf := []byte("%PDF-1.4 certificate")
	docs := &testRetriever{retrieval: documents.Retrieval{Data: pdf, Gateway: "ipfs.io", URL: "https://ipfs.io/ipfs/bafkreiexample"}}

	req := withCertificateParam(httptest.NewRequest(http.MethodGet, "/api/v1/certificates/DEIT20260001/document", nil), "DEIT20260001")
	resp := httptest.NewRecorder()
	CertificateDocument(&testReader{cert: issuedCertificate()}, docs, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if resp.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("unexpected content type %q", resp.Header().Get("Content-Type"))
	}
	if resp.Body.String() != string(pdf) {
		t.Fatalf("unexpected body %q", resp.Body.String())
	}
}

func TestCertificateDocumentRedirectsWhenGatewaysExhausted(t *testing.T) {
	docs := &testRetriever{retrieval: documents.Retrieval{URL: "https://ipfs.io/ipfs/bafkreiexample"}}

	req := withCertificateParam(httptest.NewRequest(http.MethodGet, "/api/v1/certificates/DEIT20260001/document", nil), "DEIT20260001")
	resp := httptest.NewRecorder()
	CertificateDocument(&testReader{cert: issuedCertificate()}, docs, testLogger())(resp, req)

	if resp.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", resp.Code)
	}
	if resp.Header().Get("Location") != "https://ipfs.io/ipfs/bafkreiexample" {
		t.Fatalf("unexpected location %q", resp.Header().Get("Location"))
	}
}

func TestCertificateDocumentRedirectOnRequest(t *testing.T) {
	docs := &testRetriever{}

	req := withCertificateParam(httptest.NewRequest(http.MethodGet, "/api/v1/certificates/DEIT20260001/document?redirect=true", nil), "DEIT20260001")
	resp := httptest.NewRecorder()
	CertificateDocument(&testReader{cert: issuedCertificate()}, docs, testLogger())(resp, req)

	if resp.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", resp.Code)
	}
	if docs.calls != 0 {
		t.Fatalf("expected no gateway fetch when redirect requested")
	}
}

func TestCertificateDocumentHidesProvisionalRecords(t *testing.T) {
	cert := issuedCertificate()
	cert.Status = enums.CertificateStatusProvisional

	req := withCertificateParam(httptest.NewRequest(http.MethodGet, "/api/v1/certificates/DEIT20260001/document", nil), "DEIT20260001")
	resp := httptest.NewRecorder()
	CertificateDocument(&testReader{cert: cert}, &testRetriever{}, testLogger())(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestListCertificatesRejectsBadLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/certificates?limit=abc", nil)
	resp := httptest.NewRecorder()
	ListCertificates(&testReader{cert: issuedCertificate()}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

type testVerifier struct {
	meta    verification.Meta
	payload string
	days    int
}

func (s *testVerifier) VerifyByID(ctx context.Context, id string, meta verification.Meta) (*verification.Outcome, error) {
	s.meta = meta
	return &verification.Outcome{Found: false}, nil
}

func (s *testVerifier) VerifyByFingerprint(ctx context.Context, hash string, meta verification.Meta) (*verification.Outcome, error) {
	return nil, pkgerrors.New(pkgerrors.CodeDependency, "store unavailable")
}

func (s *testVerifier) VerifyByTransaction(ctx context.Context, reference string, meta verification.Meta) (*verification.Outcome, error) {
	return &verification.Outcome{}, nil
}

func (s *testVerifier) VerifyScan(ctx context.Context, payload string, meta verification.Meta) (*verification.Outcome, error) {
	s.payload = payload
	return nil, pkgerrors.New(pkgerrors.CodeMismatch, "scan payload does not match").WithDetails(map[string]any{"fields": []string{"courseName"}})
}

func (s *testVerifier) History(ctx context.Context, certificateID string, limit int) ([]models.VerificationLog, error) {
	return nil, nil
}

func (s *testVerifier) Stats(ctx context.Context) (verification.LogStats, error) {
	return verification.LogStats{}, nil
}

func (s *testVerifier) Ledger(ctx context.Context) (*verification.LedgerOverview, error) {
	return &verification.LedgerOverview{}, nil
}

func (s *testVerifier) Trends(ctx context.Context, days int) (*verification.TrendReport, error) {
	s.days = days
	return &verification.TrendReport{
		Days:   days,
		Trends: []verification.DayTrend{{Day: "2026-03-04", Total: 2, Successful: 1, Failed: 1}},
	}, nil
}

func TestVerificationTrendsDefaultsAndBounds(t *testing.T) {
	svc := &testVerifier{}
	resp := httptest.NewRecorder()
	VerificationTrends(svc, testLogger())(resp, httptest.NewRequest(http.MethodGet, "/api/v1/verify/trends", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if svc.days != 30 {
		t.Fatalf("expected default window of 30 days, got %d", svc.days)
	}
	var envelope struct {
		Data struct {
			Trends []struct {
				Day   string `json:"day"`
				Total int64  `json:"total"`
			} `json:"trends"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(envelope.Data.Trends) != 1 || envelope.Data.Trends[0].Total != 2 {
		t.Fatalf("unexpected trends %s", resp.Body.String())
	}

	resp = httptest.NewRecorder()
	VerificationTrends(svc, testLogger())(resp, httptest.NewRequest(http.MethodGet, "/api/v1/verify/trends?days=0", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for days=0, got %d", resp.Code)
	}
}

func TestVerifyByIDNotFoundIsOK(t *testing.T) {
	svc := &testVerifier{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify/id", strings.NewReader(`{"certificateId":"DEIT20269999"}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("User-Agent", "scanner/1.0")
	resp := httptest.NewRecorder()
	VerifyByID(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	var envelope struct {
		Data struct {
			Found bool `json:"found"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Found {
		t.Fatal("expected found=false")
	}
	if svc.meta.IPAddress != "203.0.113.9" || svc.meta.UserAgent != "scanner/1.0" {
		t.Fatalf("unexpected meta %+v", svc.meta)
	}
}

func TestVerifyScanMismatchMapsTo422(t *testing.T) {
	svc := &testVerifier{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify/scan", strings.NewReader(`{"qrData":"{\"certificateId\":\"DEIT20260001\"}"}`))
	resp := httptest.NewRecorder()
	VerifyScan(svc, testLogger())(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
	if svc.payload != `{"certificateId":"DEIT20260001"}` {
		t.Fatalf("unexpected payload %q", svc.payload)
	}
}

func TestVerifyByFingerprintDependencyError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify/fingerprint", strings.NewReader(`{"certificateHash":"0x`+strings.Repeat("ab", 32)+`"}`))
	resp := httptest.NewRecorder()
	VerifyByFingerprint(&testVerifier{}, testLogger())(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestVerifyByFingerprintRejectsMalformedHash(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify/fingerprint", strings.NewReader(`{"certificateHash":"abc"}`))
	resp := httptest.NewRecorder()
	VerifyByFingerprint(&testVerifier{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "certificateHash") {
		t.Fatalf("expected field detail in %s", resp.Body.String())
	}
}
