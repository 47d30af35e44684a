package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/certledger-backend/api/responses"
	"github.com/angelmondragon/certledger-backend/api/validators"
	"github.com/angelmondragon/certledger-backend/internal/notifications"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
	"github.com/angelmondragon/certledger-backend/pkg/pagination"
)

type emailLogSearcher interface {
	Search(ctx context.Context, params notifications.SearchParams) (*notifications.SearchResult, error)
	Stats(ctx context.Context) (notifications.Stats, error)
}

type emailHistoryListResponse struct {
	Items  []emailLogResponse `json:"items"`
	Cursor string             `json:"cursor,omitempty"`
}

// EmailHistory lists the audit trail across all certificates, filtered by
// ?status= and ?type=.
func EmailHistory(svc emailLogSearcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.ParseQueryEnum(r, "status",
			string(enums.EmailStatusPending),
			string(enums.EmailStatusSent),
			string(enums.EmailStatusFailed),
		)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		emailType, err := validators.ParseQueryEnum(r, "type",
			string(enums.EmailTypeCertificateIssued),
			string(enums.EmailTypeCertificateReminder),
			string(enums.EmailTypeVerificationNotification),
			string(enums.EmailTypeRevocationNotification),
		)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.Search(r.Context(), notifications.SearchParams{
			Status:    status,
			EmailType: emailType,
			Limit:     limit,
			Cursor:    strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, emailHistoryListResponse{
			Items:  newEmailLogResponses(res.Items),
			Cursor: res.Cursor,
		})
	}
}

func EmailStats(svc emailLogSearcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}
