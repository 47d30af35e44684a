package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/certledger-backend/internal/ledger"
	"github.com/angelmondragon/certledger-backend/pkg/config"
	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
	"github.com/angelmondragon/certledger-backend/pkg/metrics"
	"github.com/angelmondragon/certledger-backend/pkg/scantoken"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultTrendDays    = 30
	maxTrendDays        = 365
	notifyTimeout       = 30 * time.Second
)

const (
	reasonNotFound = "certificate not found"
	reasonRevoked  = "certificate has been revoked"
)

type certificateStore interface {
	FindByID(ctx context.Context, id string) (*models.Certificate, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*models.Certificate, error)
	FindByLedgerReference(ctx context.Context, reference string) (*models.Certificate, error)
	IncrementVerification(ctx context.Context, id string, at time.Time) (bool, error)
}

type logStore interface {
	Create(ctx context.Context, entry *models.VerificationLog) error
	ListByCertificate(ctx context.Context, certificateID string, limit int) ([]models.VerificationLog, error)
	Stats(ctx context.Context) (LogStats, error)
	Trends(ctx context.Context, since time.Time) ([]DayTrend, error)
}

type ledgerVerifier interface {
	Verify(ctx context.Context, req ledger.VerifyRequest) ledger.Verification
	NetworkInfo(ctx context.Context) (ledger.NetworkInfo, error)
	TotalOnChain(ctx context.Context) (uint64, error)
}

type verificationNotifier interface {
	CertificateVerified(ctx context.Context, cert *models.Certificate, at time.Time) error
}

// ServiceParams wires the verification service. Notifier and Metrics are optional.
type ServiceParams struct {
	Certificates certificateStore
	Logs         logStore
	Ledger       ledgerVerifier
	Notifier     verificationNotifier
	Metrics      *metrics.PipelineMetrics
	Logger       *logger.Logger
	ScanToken    config.ScanTokenConfig
}

// Meta describes who asked for a verification.
type Meta struct {
	IPAddress string
	UserAgent string
}

// Revocation is the revocation metadata returned for revoked certificates.
type Revocation struct {
	Reason    string     `json:"reason"`
	RevokedBy string     `json:"revokedBy"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// Outcome is the answer to a verification request.
type Outcome struct {
	Found       bool                  `json:"found"`
	Valid       bool                  `json:"valid"`
	Certificate *models.Certificate   `json:"certificate,omitempty"`
	Provenance  enums.Provenance      `json:"provenance,omitempty"`
	VerifiedAt  *time.Time            `json:"verifiedAt,omitempty"`
	Revocation  *Revocation           `json:"revocation,omitempty"`
	OnChain     *ledger.OnChainRecord `json:"onChain,omitempty"`
	Reason      string                `json:"reason,omitempty"`
}

// LedgerOverview combines network info with the on-chain total.
type LedgerOverview struct {
	Network      ledger.NetworkInfo `json:"network"`
	TotalOnChain *uint64            `json:"totalOnChain,omitempty"`
}

// TrendReport is the daily breakdown of a trailing window.
type TrendReport struct {
	Days   int        `json:"days"`
	Since  time.Time  `json:"since"`
	Trends []DayTrend `json:"trends"`
}

// Service answers verification requests and keeps the verification log.
type Service struct {
	certs     certificateStore
	logs      logStore
	ledger    ledgerVerifier
	notifier  verificationNotifier
	metrics   *metrics.PipelineMetrics
	logg      *logger.Logger
	scanToken config.ScanTokenConfig
	now       func() time.Time
	async     func(func())
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Certificates == nil {
		return nil, fmt.Errorf("certificate store required")
	}
	if p.Logs == nil {
		return nil, fmt.Errorf("verification log store required")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("ledger client required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		certs:     p.Certificates,
		logs:      p.Logs,
		ledger:    p.Ledger,
		notifier:  p.Notifier,
		metrics:   p.Metrics,
		logg:      p.Logger,
		scanToken: p.ScanToken,
		now:       time.Now,
		async:     func(f func()) { go f() },
	}, nil
}

type resolveFunc func(ctx context.Context) (*models.Certificate, error)

// attempt is one verification request as it moves through the service.
type attempt struct {
	method     enums.VerificationMethod
	identifier string
	meta       Meta
	started    time.Time
}

func (s *Service) VerifyByID(ctx context.Context, id string, meta Meta) (*Outcome, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "certificate id is required")
	}
	a := s.begin(enums.VerificationMethodID, id, meta)
	return s.verify(ctx, a, func(ctx context.Context) (*models.Certificate, error) {
		return s.certs.FindByID(ctx, id)
	}, nil)
}

// VerifyByFingerprint resolves by content fingerprint and falls back to the
// ledger reference, so either hash printed on a certificate is accepted.
func (s *Service) VerifyByFingerprint(ctx context.Context, hash string, meta Meta) (*Outcome, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hash is required")
	}
	a := s.begin(enums.VerificationMethodLedgerHash, hash, meta)
	return s.verify(ctx, a, func(ctx context.Context) (*models.Certificate, error) {
		cert, err := s.certs.FindByFingerprint(ctx, strings.ToLower(strings.TrimPrefix(hash, "0x")))
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.certs.FindByLedgerReference(ctx, hash)
		}
		return cert, err
	}, nil)
}

func (s *Service) VerifyByTransaction(ctx context.Context, reference string, meta Meta) (*Outcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction reference is required")
	}
	a := s.begin(enums.VerificationMethodTransactionHash, reference, meta)
	return s.verify(ctx, a, func(ctx context.Context) (*models.Certificate, error) {
		return s.certs.FindByLedgerReference(ctx, reference)
	}, nil)
}

// VerifyScan checks a scanned code. The payload is either a signed token or
// the legacy JSON object; every field it carries must match the stored record.
func (s *Service) VerifyScan(ctx context.Context, payload string, meta Meta) (*Outcome, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "scan payload is required")
	}

	claims, err := s.decodeScan(payload)
	if err != nil {
		a := s.begin(enums.VerificationMethodQRPayload, truncate(payload, 256), meta)
		s.logAttempt(ctx, a, a.identifier, false, nil, err.Error())
		return nil, err
	}

	a := s.begin(enums.VerificationMethodQRPayload, claims.CertificateID, meta)
	return s.verify(ctx, a, func(ctx context.Context) (*models.Certificate, error) {
		return s.certs.FindByID(ctx, claims.CertificateID)
	}, func(cert *models.Certificate) error {
		return matchScan(claims, cert)
	})
}

// legacyScan is the unsigned JSON some printed certificates carry.
type legacyScan struct {
	CertificateID string `json:"certificateId"`
	SubjectName   string `json:"studentName"`
	CourseName    string `json:"courseName"`
	Fingerprint   string `json:"blockchainHash"`
}

func (s *Service) decodeScan(payload string) (scantoken.Payload, error) {
	if scantoken.LooksLikeToken(payload) {
		claims, err := scantoken.Parse(s.scanToken, payload)
		if err != nil {
			return scantoken.Payload{}, pkgerrors.Wrap(pkgerrors.CodeMismatch, err, "scan payload signature is invalid")
		}
		return claims.Payload(), nil
	}

	var legacy legacyScan
	if err := json.Unmarshal([]byte(payload), &legacy); err != nil {
		return scantoken.Payload{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "scan payload is not a token or JSON object")
	}
	if strings.TrimSpace(legacy.CertificateID) == "" || strings.TrimSpace(legacy.Fingerprint) == "" {
		return scantoken.Payload{}, pkgerrors.New(pkgerrors.CodeValidation, "scan payload requires certificateId and blockchainHash")
	}
	return scantoken.Payload{
		CertificateID: strings.TrimSpace(legacy.CertificateID),
		SubjectName:   legacy.SubjectName,
		CourseName:    legacy.CourseName,
		Fingerprint:   legacy.Fingerprint,
	}, nil
}

// matchScan compares the fields present in the payload with the record.
func matchScan(p scantoken.Payload, cert *models.Certificate) error {
	mismatched := []string{}
	if !strings.EqualFold(strings.TrimSpace(p.Fingerprint), cert.ContentFingerprint) {
		mismatched = append(mismatched, "blockchainHash")
	}
	if p.SubjectName != "" && strings.TrimSpace(p.SubjectName) != cert.SubjectName {
		mismatched = append(mismatched, "studentName")
	}
	if p.CourseName != "" && strings.TrimSpace(p.CourseName) != cert.CourseName {
		mismatched = append(mismatched, "courseName")
	}
	if len(mismatched) > 0 {
		return pkgerrors.New(pkgerrors.CodeMismatch, "scan payload does not match certificate").
			WithDetails(map[string]any{"fields": mismatched})
	}
	return nil
}

func (s *Service) begin(method enums.VerificationMethod, identifier string, meta Meta) attempt {
	return attempt{method: method, identifier: identifier, meta: meta, started: s.now()}
}

func (s *Service) verify(ctx context.Context, a attempt, resolve resolveFunc, check func(*models.Certificate) error) (*Outcome, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{"method": a.method.String(), "identifier": a.identifier})

	cert, err := resolve(ctx)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logAttempt(ctx, a, a.identifier, false, nil, err.Error())
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve certificate")
	}
	if err != nil || !cert.Status.IsFinalized() {
		s.logAttempt(ctx, a, a.identifier, false, nil, reasonNotFound)
		return &Outcome{Found: false, Reason: reasonNotFound}, nil
	}
	ctx = s.logg.WithCertificateID(ctx, cert.ID)

	if cert.Status == enums.CertificateStatusRevoked {
		s.logAttempt(ctx, a, cert.ID, false, nil, reasonRevoked)
		return revokedOutcome(cert), nil
	}

	if check != nil {
		if err := check(cert); err != nil {
			s.logAttempt(ctx, a, cert.ID, false, nil, err.Error())
			return nil, err
		}
	}

	result := s.ledger.Verify(ctx, ledger.VerifyRequest{
		CertificateID: cert.ID,
		Fingerprint:   cert.ContentFingerprint,
		Origin:        cert.Origin(),
	})
	if result.Cause != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", result.Cause.Error()), "ledger verification degraded")
	}
	if result.Provenance == enums.ProvenanceError {
		reason := "ledger record disagrees with stored certificate"
		s.logAttempt(ctx, a, cert.ID, false, &result.Provenance, reason)
		return &Outcome{Found: true, Valid: false, Certificate: cert, Provenance: result.Provenance, OnChain: result.OnChain, Reason: reason}, nil
	}

	verifiedAt := s.now().UTC()
	ok, err := s.certs.IncrementVerification(ctx, cert.ID, verifiedAt)
	if err != nil {
		s.logAttempt(ctx, a, cert.ID, false, &result.Provenance, err.Error())
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record verification")
	}
	if !ok {
		// revoked between resolve and increment
		if latest, err := s.certs.FindByID(ctx, cert.ID); err == nil && latest.Status == enums.CertificateStatusRevoked {
			s.logAttempt(ctx, a, cert.ID, false, nil, reasonRevoked)
			return revokedOutcome(latest), nil
		}
		s.logAttempt(ctx, a, cert.ID, false, nil, "certificate no longer verifiable")
		return &Outcome{Found: true, Valid: false, Certificate: cert, Reason: "certificate no longer verifiable"}, nil
	}

	cert.VerificationCount++
	cert.LastVerifiedAt = &verifiedAt
	cert.Status = enums.CertificateStatusVerified
	s.logAttempt(ctx, a, cert.ID, true, &result.Provenance, "")
	s.notifyVerified(ctx, cert, verifiedAt)

	return &Outcome{
		Found:       true,
		Valid:       true,
		Certificate: cert,
		Provenance:  result.Provenance,
		VerifiedAt:  &verifiedAt,
		OnChain:     result.OnChain,
	}, nil
}

func revokedOutcome(cert *models.Certificate) *Outcome {
	rev := &Revocation{RevokedAt: cert.RevokedAt}
	if cert.RevocationReason != nil {
		rev.Reason = *cert.RevocationReason
	}
	if cert.RevokedBy != nil {
		rev.RevokedBy = *cert.RevokedBy
	}
	return &Outcome{Found: true, Valid: false, Certificate: cert, Revocation: rev, Reason: reasonRevoked}
}

// logAttempt appends the verification log entry. A failed write is logged
// and never changes the answer.
func (s *Service) logAttempt(ctx context.Context, a attempt, certificateID string, success bool, provenance *enums.Provenance, message string) {
	entry := &models.VerificationLog{
		CertificateID: certificateID,
		Method:        a.method,
		Identifier:    a.identifier,
		Outcome:       success,
		Provenance:    provenance,
		IPAddress:     a.meta.IPAddress,
		UserAgent:     truncate(a.meta.UserAgent, 512),
		ElapsedMS:     s.now().Sub(a.started).Milliseconds(),
	}
	if message != "" {
		entry.ErrorMessage = &message
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		s.logg.Error(ctx, "failed to append verification log", err)
	}

	prov := ""
	if provenance != nil {
		prov = provenance.String()
	}
	s.metrics.IncVerification(a.method.String(), prov, success)
}

func (s *Service) notifyVerified(ctx context.Context, cert *models.Certificate, at time.Time) {
	if s.notifier == nil {
		return
	}
	snapshot := *cert
	bg := context.WithoutCancel(ctx)
	s.async(func() {
		nctx, cancel := context.WithTimeout(bg, notifyTimeout)
		defer cancel()
		if err := s.notifier.CertificateVerified(nctx, &snapshot, at); err != nil {
			s.logg.Warn(s.logg.WithField(nctx, "error", err.Error()), "verification notification failed")
		}
	})
}

// History lists recent verification attempts for a certificate.
func (s *Service) History(ctx context.Context, certificateID string, limit int) ([]models.VerificationLog, error) {
	certificateID = strings.TrimSpace(certificateID)
	if certificateID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "certificate id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	rows, err := s.logs.ListByCertificate(ctx, certificateID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load verification history")
	}
	if rows == nil {
		rows = []models.VerificationLog{}
	}
	return rows, nil
}

func (s *Service) Stats(ctx context.Context) (LogStats, error) {
	stats, err := s.logs.Stats(ctx)
	if err != nil {
		return LogStats{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verification stats")
	}
	return stats, nil
}

// Trends reports daily attempt counts over a trailing window of days, today
// included. Zero days means the default window.
func (s *Service) Trends(ctx context.Context, days int) (*TrendReport, error) {
	if days == 0 {
		days = defaultTrendDays
	}
	if days < 0 || days > maxTrendDays {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "days must be between 1 and %d", maxTrendDays).
			WithDetails(map[string]any{"field": "days", "max": maxTrendDays})
	}
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(days - 1))

	trends, err := s.logs.Trends(ctx, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verification trends")
	}
	return &TrendReport{Days: days, Since: since, Trends: trends}, nil
}

// Ledger reports network details. The on-chain total is omitted when the
// ledger cannot be reached.
func (s *Service) Ledger(ctx context.Context) (*LedgerOverview, error) {
	info, err := s.ledger.NetworkInfo(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ledger network info")
	}
	out := &LedgerOverview{Network: info}
	if total, err := s.ledger.TotalOnChain(ctx); err == nil {
		out.TotalOnChain = &total
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
