package verification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/certledger-backend/internal/repo"
	"github.com/angelmondragon/certledger-backend/pkg/db/models"
)

// LogStats aggregates verification attempts.
type LogStats struct {
	Total      int64            `json:"total"`
	Successful int64            `json:"successful"`
	Failed     int64            `json:"failed"`
	ByMethod   map[string]int64 `json:"byMethod"`
}

// DayTrend counts the attempts of one UTC day.
type DayTrend struct {
	Day          string  `json:"day"`
	Total        int64   `json:"total"`
	Successful   int64   `json:"successful"`
	Failed       int64   `json:"failed"`
	AvgElapsedMS float64 `json:"avgElapsedMs"`
}

// LogRepository appends and reads verification attempts. There is no update
// or delete path.
type LogRepository struct {
	repo.Base
}

func NewLogRepository(db *gorm.DB) *LogRepository {
	return &LogRepository{Base: repo.NewBase(db)}
}

func (r *LogRepository) Create(ctx context.Context, entry *models.VerificationLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.DB(ctx).Create(entry).Error
}

// ListByCertificate returns the newest attempts first.
func (r *LogRepository) ListByCertificate(ctx context.Context, certificateID string, limit int) ([]models.VerificationLog, error) {
	var rows []models.VerificationLog
	err := r.DB(ctx).
		Where("certificate_id = ?", certificateID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *LogRepository) Stats(ctx context.Context) (LogStats, error) {
	var stats LogStats
	base := func() *gorm.DB { return r.DB(ctx).Model(&models.VerificationLog{}) }

	if err := base().Count(&stats.Total).Error; err != nil {
		return LogStats{}, err
	}
	if err := base().Where("outcome = ?", true).Count(&stats.Successful).Error; err != nil {
		return LogStats{}, err
	}
	stats.Failed = stats.Total - stats.Successful

	var methods []struct {
		Method string
		Count  int64
	}
	if err := base().Select("method, COUNT(*) AS count").Group("method").Scan(&methods).Error; err != nil {
		return LogStats{}, err
	}
	stats.ByMethod = map[string]int64{}
	for _, m := range methods {
		stats.ByMethod[m.Method] = m.Count
	}
	return stats, nil
}

// Trends buckets attempts made at or after since by UTC day, oldest first.
// Days without attempts are omitted.
func (r *LogRepository) Trends(ctx context.Context, since time.Time) ([]DayTrend, error) {
	var rows []struct {
		CreatedAt time.Time `gorm:"column:created_at"`
		Outcome   bool      `gorm:"column:outcome"`
		ElapsedMS int64     `gorm:"column:elapsed_ms"`
	}
	err := r.DB(ctx).
		Model(&models.VerificationLog{}).
		Select("created_at, outcome, elapsed_ms").
		Where("created_at >= ?", since.UTC()).
		Order("created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := []DayTrend{}
	var elapsed int64
	for _, row := range rows {
		day := row.CreatedAt.UTC().Format(time.DateOnly)
		if len(out) == 0 || out[len(out)-1].Day != day {
			if len(out) > 0 {
				last := &out[len(out)-1]
				last.AvgElapsedMS = float64(elapsed) / float64(last.Total)
			}
			out = append(out, DayTrend{Day: day})
			elapsed = 0
		}
		last := &out[len(out)-1]
		last.Total++
		if row.Outcome {
			last.Successful++
		} else {
			last.Failed++
		}
		elapsed += row.ElapsedMS
	}
	if len(out) > 0 {
		last := &out[len(out)-1]
		last.AvgElapsedMS = float64(elapsed) / float64(last.Total)
	}
	return out, nil
}
