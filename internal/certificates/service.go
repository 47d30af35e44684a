package certificates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/pagination"
)

// Stats summarizes the certificate store.
type Stats struct {
	Total              int64            `json:"total"`
	Today              int64            `json:"today"`
	ThisMonth          int64            `json:"thisMonth"`
	ThisYear           int64            `json:"thisYear"`
	TotalVerifications int64            `json:"totalVerifications"`
	EmailsSent         int64            `json:"emailsSent"`
	Revoked            int64            `json:"revoked"`
	Failed             int64            `json:"failed"`
	ByOrigin           map[string]int64 `json:"byOrigin"`
}

type certificatesRepository interface {
	FindByID(ctx context.Context, id string) (*models.Certificate, error)
	List(ctx context.Context, q ListQuery) ([]models.Certificate, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// ListParams are the caller-facing listing options.
type ListParams struct {
	Search string
	Status string
	Limit  int
	Cursor string
}

// ListResult wraps a page of certificates and the cursor for the next one.
type ListResult struct {
	Items  []models.Certificate `json:"items"`
	Cursor string               `json:"cursor"`
}

// Service exposes read access to certificate records.
type Service struct {
	repo certificatesRepository
	now  func() time.Time
}

func NewService(repo certificatesRepository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("certificate repository required")
	}
	return &Service{repo: repo, now: time.Now}, nil
}

// Get returns a certificate in any state, including failed ones, so operators
// can inspect aborted issuances.
func (s *Service) Get(ctx context.Context, id string) (*models.Certificate, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "certificate id is required")
	}
	cert, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "certificate not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load certificate")
	}
	return cert, nil
}

func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	query := ListQuery{
		Search: params.Search,
		Limit:  pagination.LimitWithBuffer(params.Limit),
	}
	if raw := strings.TrimSpace(params.Status); raw != "" {
		status, err := enums.ParseCertificateStatus(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		query.Status = &status
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list certificates")
	}

	items, next := pagination.Trim(rows, params.Limit, func(c models.Certificate) pagination.Cursor {
		return pagination.Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
	})
	return &ListResult{Items: items, Cursor: next}, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	stats, err := s.repo.Stats(ctx, s.now())
	if err != nil {
		return Stats{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "certificate stats")
	}
	return stats, nil
}
