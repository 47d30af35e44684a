package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/certledger-backend/internal/certificates"
	"github.com/angelmondragon/certledger-backend/pkg/db/models"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
	"github.com/angelmondragon/certledger-backend/pkg/metrics"
)

const (
	defaultProvisionalTTL = 30 * time.Minute
	provisionalSweepBatch = 200
	sweepStage            = "sweep"
)

type ProvisionalSweepJobParams struct {
	Logger  *logger.Logger
	Repo    provisionalSweepRepo
	Metrics *metrics.PipelineMetrics
	TTL     time.Duration
}

type provisionalSweepRepo interface {
	ListProvisionalBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Certificate, error)
	MarkFailed(ctx context.Context, id, stage, reason string) error
}

// NewProvisionalSweepJob marks provisional records that outlived the TTL as
// failed. Rows are kept so their identifiers stay reserved.
func NewProvisionalSweepJob(params ProvisionalSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("certificate repository required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultProvisionalTTL
	}
	return &provisionalSweepJob{
		logg:    params.Logger,
		repo:    params.Repo,
		metrics: params.Metrics,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

type provisionalSweepJob struct {
	logg    *logger.Logger
	repo    provisionalSweepRepo
	metrics *metrics.PipelineMetrics
	ttl     time.Duration
	now     func() time.Time
}

func (j *provisionalSweepJob) Name() string { return "provisional-sweep" }

func (j *provisionalSweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	rows, err := j.repo.ListProvisionalBefore(ctx, cutoff, provisionalSweepBatch)
	if err != nil {
		return fmt.Errorf("query provisional certificates: %w", err)
	}

	reason := fmt.Sprintf("provisional for longer than %s", j.ttl)
	var swept, skipped int
	for _, row := range rows {
		if err := j.repo.MarkFailed(ctx, row.ID, sweepStage, reason); err != nil {
			if errors.Is(err, certificates.ErrNotProvisional) {
				skipped++
				continue
			}
			return fmt.Errorf("mark %s failed: %w", row.ID, err)
		}
		swept++
		j.metrics.IncStageFailure(sweepStage)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(rows),
		"swept":      swept,
		"skipped":    skipped,
	}), "provisional sweep complete")
	return nil
}
