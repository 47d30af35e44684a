package notifications

import (
	"context"
	"strings"

	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/pagination"
)

// SearchParams are the caller-facing filters for the global email history.
type SearchParams struct {
	Status    string
	EmailType string
	Limit     int
	Cursor    string
}

// SearchResult is one page of email history.
type SearchResult struct {
	Items  []models.EmailLog `json:"items"`
	Cursor string            `json:"cursor"`
}

// Search lists every certificate's email audit entries, newest first.
func (n *Notifier) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	query := LogQuery{Limit: pagination.LimitWithBuffer(params.Limit)}
	if raw := strings.TrimSpace(params.Status); raw != "" {
		status, err := enums.ParseEmailStatus(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		query.Status = &status
	}
	if raw := strings.TrimSpace(params.EmailType); raw != "" {
		emailType, err := enums.ParseEmailType(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid email type filter")
		}
		query.EmailType = &emailType
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, err := n.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list email history")
	}
	items, next := pagination.Trim(rows, params.Limit, func(e models.EmailLog) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID.String()}
	})
	return &SearchResult{Items: items, Cursor: next}, nil
}

func (n *Notifier) Stats(ctx context.Context) (Stats, error) {
	stats, err := n.repo.Stats(ctx, n.now())
	if err != nil {
		return Stats{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "email stats")
	}
	return stats, nil
}
