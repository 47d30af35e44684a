package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/certledger-backend/api/responses"
	"github.com/angelmondragon/certledger-backend/api/validators"
	"github.com/angelmondragon/certledger-backend/internal/batch"
	"github.com/angelmondragon/certledger-backend/internal/certificates"
	"github.com/angelmondragon/certledger-backend/internal/documents"
	"github.com/angelmondragon/certledger-backend/internal/issuance"
	"github.com/angelmondragon/certledger-backend/internal/revocation"
	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
	"github.com/angelmondragon/certledger-backend/pkg/pagination"
)

type certificateIssuer interface {
	Issue(ctx context.Context, req issuance.Request) (*issuance.Result, error)
}

type emailResender interface {
	ResendEmail(ctx context.Context, id string) (*issuance.ResendResult, error)
}

type batchIssuer interface {
	Issue(ctx context.Context, items []issuance.Request) (*batch.Result, error)
}

type certificateReader interface {
	Get(ctx context.Context, id string) (*models.Certificate, error)
	List(ctx context.Context, params certificates.ListParams) (*certificates.ListResult, error)
	Stats(ctx context.Context) (certificates.Stats, error)
}

type certificateRevoker interface {
	Revoke(ctx context.Context, id, reason, actor string) (*revocation.Result, error)
}

type emailHistory interface {
	History(ctx context.Context, certificateID string) ([]models.EmailLog, error)
}

type documentRetriever interface {
	Retrieve(ctx context.Context, address string) (documents.Retrieval, error)
}

type batchIssueRequest struct {
	Certificates []issuance.Request `json:"certificates" validate:"required"`
}

type revokeRequest struct {
	Reason    string `json:"reason" validate:"max=500"`
	RevokedBy string `json:"revokedBy" validate:"max=120"`
}

type certificateListResponse struct {
	Items  []*certificateResponse `json:"items"`
	Cursor string                 `json:"cursor,omitempty"`
}

// IssueCertificate runs the issuance pipeline for a single request.
func IssueCertificate(svc certificateIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req issuance.Request
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.Issue(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newIssueResponse(res))
	}
}

// IssueBatch issues many certificates. Item failures are reported in the body
// and do not fail the request.
func IssueBatch(svc batchIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchIssueRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.Issue(r.Context(), req.Certificates)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newBatchResponse(res))
	}
}

func ListCertificates(svc certificateReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.ParseQueryEnum(r, "status",
			string(enums.CertificateStatusProvisional),
			string(enums.CertificateStatusIssued),
			string(enums.CertificateStatusVerified),
			string(enums.CertificateStatusRevoked),
			string(enums.CertificateStatusFailed),
		)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query := r.URL.Query()
		res, err := svc.List(r.Context(), certificates.ListParams{
			Search: validators.SanitizeString(query.Get("q"), 200),
			Status: status,
			Limit:  limit,
			Cursor: strings.TrimSpace(query.Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, certificateListResponse{
			Items:  newCertificateResponses(res.Items),
			Cursor: res.Cursor,
		})
	}
}

func CertificateStats(svc certificateReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

func GetCertificate(svc certificateReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cert, err := svc.Get(r.Context(), chi.URLParam(r, "certificateId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCertificateResponse(cert))
	}
}

// RevokeCertificate accepts an optional body with reason and revokedBy.
func RevokeCertificate(svc certificateRevoker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req revokeRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.Revoke(r.Context(), chi.URLParam(r, "certificateId"), req.Reason, req.RevokedBy)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

func ResendCertificateEmail(svc emailResender, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.ResendEmail(r.Context(), chi.URLParam(r, "certificateId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

func CertificateEmailHistory(certs certificateReader, history emailHistory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cert, err := certs.Get(r.Context(), chi.URLParam(r, "certificateId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := history.History(r.Context(), cert.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load email history"))
			return
		}
		responses.WriteSuccess(w, newEmailLogResponses(entries))
	}
}

// CertificateDocument streams the stored PDF. When every gateway fails, or the
// caller asks for it with ?redirect=true, it redirects to the primary gateway.
func CertificateDocument(certs certificateReader, docs documentRetriever, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		cert, err := certs.Get(ctx, chi.URLParam(r, "certificateId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !cert.Status.IsFinalized() {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "certificate not found"))
			return
		}
		if cert.DocumentReference == nil || *cert.DocumentReference == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "certificate has no stored document"))
			return
		}

		redirect, err := validators.ParseQueryBool(r, "redirect")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if redirect && cert.DocumentURL != nil && *cert.DocumentURL != "" {
			http.Redirect(w, r, *cert.DocumentURL, http.StatusFound)
			return
		}

		retrieval, err := docs.Retrieve(ctx, *cert.DocumentReference)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !retrieval.Found() {
			if retrieval.URL == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "no document gateway available"))
				return
			}
			http.Redirect(w, r, retrieval.URL, http.StatusFound)
			return
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `inline; filename="`+cert.ID+`.pdf"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(retrieval.Data)))
		w.Header().Set("X-Document-Gateway", retrieval.Gateway)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(retrieval.Data); err != nil && logg != nil {
			logg.Error(logg.WithCertificateID(ctx, cert.ID), "write document response", err)
		}
	}
}
