package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/certledger-backend/internal/repo"
	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	"github.com/angelmondragon/certledger-backend/pkg/pagination"
)

// ErrLogNotPending is returned when an audit entry was already settled.
var ErrLogNotPending = errors.New("email log is not pending")

// Repository persists the email audit trail.
type Repository interface {
	Create(ctx context.Context, entry *models.EmailLog) error
	MarkSent(ctx context.Context, id uuid.UUID, messageID string, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	ListByCertificate(ctx context.Context, certificateID string) ([]models.EmailLog, error)
	CountAttempts(ctx context.Context, certificateID string, emailType enums.EmailType) (int64, error)
	List(ctx context.Context, q LogQuery) ([]models.EmailLog, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// LogQuery filters the global email audit trail. Nil filters match all rows.
type LogQuery struct {
	Status    *enums.EmailStatus
	EmailType *enums.EmailType
	Limit     int
	Cursor    *pagination.Cursor
}

// Stats aggregates the email audit trail.
type Stats struct {
	Total     int64            `json:"total"`
	Sent      int64            `json:"sent"`
	Failed    int64            `json:"failed"`
	Pending   int64            `json:"pending"`
	Today     int64            `json:"today"`
	ThisMonth int64            `json:"thisMonth"`
	ByType    map[string]int64 `json:"byType"`
}

type emailLogStore struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &emailLogStore{Base: repo.NewBase(db)}
}

func (s *emailLogStore) Create(ctx context.Context, entry *models.EmailLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return s.DB(ctx).Create(entry).Error
}

func (s *emailLogStore) MarkSent(ctx context.Context, id uuid.UUID, messageID string, at time.Time) error {
	return s.settle(ctx, id, map[string]any{
		"status":     enums.EmailStatusSent,
		"message_id": messageID,
		"sent_at":    at,
	})
}

func (s *emailLogStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.settle(ctx, id, map[string]any{
		"status":        enums.EmailStatusFailed,
		"error_message": reason,
	})
}

// settle moves a pending entry to its final status exactly once.
func (s *emailLogStore) settle(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	n, err := s.UpdateWhere(ctx, &models.EmailLog{}, updates, "id = ? AND status = ?", id, enums.EmailStatusPending)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLogNotPending
	}
	return nil
}

func (s *emailLogStore) ListByCertificate(ctx context.Context, certificateID string) ([]models.EmailLog, error) {
	var rows []models.EmailLog
	err := s.DB(ctx).
		Where("certificate_id = ?", certificateID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (s *emailLogStore) CountAttempts(ctx context.Context, certificateID string, emailType enums.EmailType) (int64, error) {
	var count int64
	err := s.DB(ctx).
		Model(&models.EmailLog{}).
		Where("certificate_id = ? AND email_type = ?", certificateID, emailType).
		Count(&count).Error
	return count, err
}

// List returns entries newest first with cursor pagination.
func (s *emailLogStore) List(ctx context.Context, q LogQuery) ([]models.EmailLog, error) {
	query := s.DB(ctx).Model(&models.EmailLog{})
	if q.Status != nil {
		query = query.Where("status = ?", *q.Status)
	}
	if q.EmailType != nil {
		query = query.Where("email_type = ?", *q.EmailType)
	}
	if q.Cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", q.Cursor.CreatedAt, q.Cursor.CreatedAt, q.Cursor.ID)
	}

	var rows []models.EmailLog
	if err := query.Order("created_at DESC").Order("id DESC").Limit(q.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Stats counts entries by status and type. Today and ThisMonth are relative
// to now in UTC.
func (s *emailLogStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	stats := Stats{ByType: map[string]int64{}}
	base := func() *gorm.DB { return s.DB(ctx).Model(&models.EmailLog{}) }

	var statuses []struct {
		Status enums.EmailStatus
		Count  int64
	}
	if err := base().Select("status, COUNT(*) AS count").Group("status").Scan(&statuses).Error; err != nil {
		return Stats{}, err
	}
	for _, row := range statuses {
		stats.Total += row.Count
		switch row.Status {
		case enums.EmailStatusSent:
			stats.Sent = row.Count
		case enums.EmailStatusFailed:
			stats.Failed = row.Count
		case enums.EmailStatusPending:
			stats.Pending = row.Count
		}
	}

	var types []struct {
		EmailType enums.EmailType
		Count     int64
	}
	if err := base().Select("email_type, COUNT(*) AS count").Group("email_type").Scan(&types).Error; err != nil {
		return Stats{}, err
	}
	for _, row := range types {
		stats.ByType[row.EmailType.String()] = row.Count
	}

	if err := base().Where("created_at >= ?", dayStart).Count(&stats.Today).Error; err != nil {
		return Stats{}, err
	}
	if err := base().Where("created_at >= ?", monthStart).Count(&stats.ThisMonth).Error; err != nil {
		return Stats{}, err
	}
	return stats, nil
}
