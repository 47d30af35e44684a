package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/certledger-backend/api/middleware"
	"github.com/angelmondragon/certledger-backend/api/responses"
	"github.com/angelmondragon/certledger-backend/api/validators"
	"github.com/angelmondragon/certledger-backend/internal/verification"
	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

type verifier interface {
	VerifyByID(ctx context.Context, id string, meta verification.Meta) (*verification.Outcome, error)
	VerifyByFingerprint(ctx context.Context, hash string, meta verification.Meta) (*verification.Outcome, error)
	VerifyByTransaction(ctx context.Context, reference string, meta verification.Meta) (*verification.Outcome, error)
	VerifyScan(ctx context.Context, payload string, meta verification.Meta) (*verification.Outcome, error)
	History(ctx context.Context, certificateID string, limit int) ([]models.VerificationLog, error)
	Stats(ctx context.Context) (verification.LogStats, error)
	Ledger(ctx context.Context) (*verification.LedgerOverview, error)
	Trends(ctx context.Context, days int) (*verification.TrendReport, error)
}

type verifyByIDRequest struct {
	CertificateID string `json:"certificateId" validate:"required,notblank,max=64"`
}

type verifyByFingerprintRequest struct {
	Fingerprint string `json:"certificateHash" validate:"required,ledgerhash"`
}

type verifyByTransactionRequest struct {
	TransactionHash string `json:"transactionHash" validate:"required,ledgerhash"`
}

type verifyScanRequest struct {
	Payload string `json:"qrData" validate:"required,max=8192"`
}

func VerifyByID(svc verifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyByIDRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := svc.VerifyByID(r.Context(), req.CertificateID, requestMeta(r))
		writeOutcome(w, r, logg, out, err)
	}
}

func VerifyByFingerprint(svc verifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyByFingerprintRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := svc.VerifyByFingerprint(r.Context(), req.Fingerprint, requestMeta(r))
		writeOutcome(w, r, logg, out, err)
	}
}

func VerifyByTransaction(svc verifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyByTransactionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := svc.VerifyByTransaction(r.Context(), req.TransactionHash, requestMeta(r))
		writeOutcome(w, r, logg, out, err)
	}
}

// VerifyScan accepts the raw QR payload, either a signed token or the legacy
// JSON document.
func VerifyScan(svc verifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyScanRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := svc.VerifyScan(r.Context(), req.Payload, requestMeta(r))
		writeOutcome(w, r, logg, out, err)
	}
}

func VerificationHistory(svc verifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := svc.History(r.Context(), chi.URLParam(r, "certificateId"), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newVerificationLogResponses(entries))
	}
}

func VerificationStats(svc verifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// VerificationTrends reports daily attempt counts for ?days= (default 30).
func VerificationTrends(svc verifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, err := validators.ParseQueryInt(r, "days", 30, 1, 365)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.Trends(r.Context(), days)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func VerificationLedger(svc verifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overview, err := svc.Ledger(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, overview)
	}
}

func requestMeta(r *http.Request) verification.Meta {
	return verification.Meta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: validators.SanitizeString(r.UserAgent(), 512),
	}
}

// writeOutcome answers 200 for every determinate outcome, including not found
// and invalid; only errors map to error statuses.
func writeOutcome(w http.ResponseWriter, r *http.Request, logg *logger.Logger, out *verification.Outcome, err error) {
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, newVerificationResponse(out))
}
