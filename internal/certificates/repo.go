package certificates

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/certledger-backend/internal/repo"
	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/enums"
	"github.com/angelmondragon/certledger-backend/pkg/pagination"
)

// ErrNotProvisional is returned when a finalize or fail transition finds the
// record already out of the provisional state.
var ErrNotProvisional = errors.New("certificate is not provisional")

var finalizedStatuses = []enums.CertificateStatus{
	enums.CertificateStatusIssued,
	enums.CertificateStatusVerified,
}

// Finalization carries the references attached when issuance completes.
type Finalization struct {
	LedgerReference   string
	LedgerBlockHeight int64
	LedgerGasUsed     int64
	LedgerCost        decimal.Decimal
	LedgerOrigin      enums.LedgerOrigin
	DocumentReference string
	DocumentURL       string
	DocumentSize      int64
	DocumentPinned    bool
}

// ListQuery filters the certificate listing.
type ListQuery struct {
	Search string
	Status *enums.CertificateStatus
	Limit  int
	Cursor *pagination.Cursor
}

// Repository persists certificate records. Rows are never deleted.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) Create(ctx context.Context, cert *models.Certificate) error {
	return r.DB(ctx).Create(cert).Error
}

func (r *Repository) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *Repository) FindByFingerprint(ctx context.Context, fingerprint string) (*models.Certificate, error) {
	return r.findOne(ctx, "content_fingerprint = ?", strings.ToLower(fingerprint))
}

func (r *Repository) FindByLedgerReference(ctx context.Context, reference string) (*models.Certificate, error) {
	return r.findOne(ctx, "ledger_reference = ?", reference)
}

func (r *Repository) findOne(ctx context.Context, query string, arg any) (*models.Certificate, error) {
	var cert models.Certificate
	if err := r.DB(ctx).Where(query, arg).Take(&cert).Error; err != nil {
		return nil, err
	}
	return &cert, nil
}

// CountInYear counts every record created in the UTC calendar year,
// including failed ones whose ids stay reserved.
func (r *Repository) CountInYear(ctx context.Context, year int) (int64, error) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	var count int64
	err := r.DB(ctx).
		Model(&models.Certificate{}).
		Where("created_at >= ? AND created_at < ?", start, start.AddDate(1, 0, 0)).
		Count(&count).Error
	return count, err
}

// Finalize attaches ledger and document references to a provisional record.
func (r *Repository) Finalize(ctx context.Context, id string, f Finalization) error {
	n, err := r.UpdateWhere(ctx, &models.Certificate{}, map[string]any{
		"ledger_reference":    f.LedgerReference,
		"ledger_block_height": f.LedgerBlockHeight,
		"ledger_gas_used":     f.LedgerGasUsed,
		"ledger_cost":         decimal.NullDecimal{Decimal: f.LedgerCost, Valid: true},
		"ledger_origin":       f.LedgerOrigin,
		"document_reference":  f.DocumentReference,
		"document_url":        f.DocumentURL,
		"document_size":       f.DocumentSize,
		"document_pinned":     f.DocumentPinned,
		"status":              enums.CertificateStatusIssued,
	}, "id = ? AND status = ?", id, enums.CertificateStatusProvisional)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotProvisional
	}
	return nil
}

// MarkFailed moves a provisional record to failed, keeping the row.
func (r *Repository) MarkFailed(ctx context.Context, id, stage, reason string) error {
	n, err := r.UpdateWhere(ctx, &models.Certificate{}, map[string]any{
		"status":         enums.CertificateStatusFailed,
		"failure_stage":  stage,
		"failure_reason": reason,
	}, "id = ? AND status = ?", id, enums.CertificateStatusProvisional)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotProvisional
	}
	return nil
}

// RecordEmailAttempt counts an issuance email and stamps delivery on success.
func (r *Repository) RecordEmailAttempt(ctx context.Context, id string, delivered bool, at time.Time) error {
	updates := map[string]any{"email_attempts": gorm.Expr("email_attempts + 1")}
	if delivered {
		updates["email_sent"] = true
		updates["email_sent_at"] = at
	}
	return r.DB(ctx).Model(&models.Certificate{}).Where("id = ?", id).Updates(updates).Error
}

// IncrementVerification bumps the counter atomically. It reports false when
// the record is no longer in a verifiable state, e.g. revoked concurrently.
func (r *Repository) IncrementVerification(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := r.UpdateWhere(ctx, &models.Certificate{}, map[string]any{
		"verification_count": gorm.Expr("verification_count + 1"),
		"last_verified_at":   at,
		"status":             enums.CertificateStatusVerified,
	}, "id = ? AND status IN ?", id, finalizedStatuses)
	return n > 0, err
}

// Revoke transitions an issued or verified record to revoked. It reports
// false when no row matched, leaving existing revocation metadata untouched.
func (r *Repository) Revoke(ctx context.Context, id, reason, actor string, at time.Time) (bool, error) {
	n, err := r.UpdateWhere(ctx, &models.Certificate{}, map[string]any{
		"status":            enums.CertificateStatusRevoked,
		"revocation_reason": reason,
		"revoked_by":        actor,
		"revoked_at":        at,
	}, "id = ? AND status IN ?", id, finalizedStatuses)
	return n > 0, err
}

// ListProvisionalBefore returns provisional records created before cutoff.
func (r *Repository) ListProvisionalBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Certificate, error) {
	var rows []models.Certificate
	err := r.DB(ctx).
		Where("status = ? AND created_at < ?", enums.CertificateStatusProvisional, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// List returns certificates newest first with cursor pagination.
func (r *Repository) List(ctx context.Context, q ListQuery) ([]models.Certificate, error) {
	query := r.DB(ctx).Model(&models.Certificate{})
	if q.Status != nil {
		query = query.Where("status = ?", *q.Status)
	} else {
		query = query.Where("status IN ?", []enums.CertificateStatus{
			enums.CertificateStatusIssued,
			enums.CertificateStatusVerified,
			enums.CertificateStatusRevoked,
		})
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(subject_name) LIKE ? OR LOWER(id) LIKE ? OR LOWER(course_name) LIKE ?", like, like, like)
	}
	if q.Cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", q.Cursor.CreatedAt, q.Cursor.CreatedAt, q.Cursor.ID)
	}

	var rows []models.Certificate
	if err := query.Order("created_at DESC").Order("id DESC").Limit(q.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Stats aggregates certificate counters relative to now.
func (r *Repository) Stats(ctx context.Context, now time.Time) (Stats, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	yearStart := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	visible := []enums.CertificateStatus{
		enums.CertificateStatusIssued,
		enums.CertificateStatusVerified,
		enums.CertificateStatusRevoked,
	}

	var stats Stats
	base := func() *gorm.DB {
		return r.DB(ctx).Model(&models.Certificate{})
	}
	counts := []struct {
		dst   *int64
		query func() *gorm.DB
	}{
		{&stats.Total, func() *gorm.DB { return base().Where("status IN ?", visible) }},
		{&stats.Today, func() *gorm.DB { return base().Where("status IN ? AND issued_at >= ?", visible, dayStart) }},
		{&stats.ThisMonth, func() *gorm.DB { return base().Where("status IN ? AND issued_at >= ?", visible, monthStart) }},
		{&stats.ThisYear, func() *gorm.DB { return base().Where("status IN ? AND issued_at >= ?", visible, yearStart) }},
		{&stats.Revoked, func() *gorm.DB { return base().Where("status = ?", enums.CertificateStatusRevoked) }},
		{&stats.Failed, func() *gorm.DB { return base().Where("status = ?", enums.CertificateStatusFailed) }},
		{&stats.EmailsSent, func() *gorm.DB { return base().Where("email_sent = ?", true) }},
	}
	for _, c := range counts {
		if err := c.query().Count(c.dst).Error; err != nil {
			return Stats{}, err
		}
	}

	if err := base().Select("COALESCE(SUM(verification_count), 0)").Scan(&stats.TotalVerifications).Error; err != nil {
		return Stats{}, err
	}

	var origins []struct {
		LedgerOrigin enums.LedgerOrigin
		Count        int64
	}
	if err := base().
		Select("ledger_origin, COUNT(*) AS count").
		Where("ledger_origin IS NOT NULL").
		Group("ledger_origin").
		Scan(&origins).Error; err != nil {
		return Stats{}, err
	}
	stats.ByOrigin = map[string]int64{}
	for _, o := range origins {
		stats.ByOrigin[o.LedgerOrigin.String()] = o.Count
	}
	return stats, nil
}
