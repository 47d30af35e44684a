package cron

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

const defaultTempMaxAge = time.Hour

type TempCleanupJobParams struct {
	Logger *logger.Logger
	Dir    string
	MaxAge time.Duration
}

// NewTempCleanupJob removes rendered documents left behind in the temp
// directory once they are older than MaxAge.
func NewTempCleanupJob(params TempCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Dir == "" {
		return nil, fmt.Errorf("temp dir required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultTempMaxAge
	}
	return &tempCleanupJob{logg: params.Logger, dir: params.Dir, maxAge: maxAge, now: time.Now}, nil
}

type tempCleanupJob struct {
	logg   *logger.Logger
	dir    string
	maxAge time.Duration
	now    func() time.Time
}

func (j *tempCleanupJob) Name() string { return "temp-cleanup" }

func (j *tempCleanupJob) Run(ctx context.Context) error {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read temp dir: %w", err)
	}

	cutoff := j.now().Add(-j.maxAge)
	var (
		removed int
		errs    error
	)
	for _, entry := range entries {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = multierr.Append(errs, fmt.Errorf("stat %s: %w", entry.Name(), err))
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = multierr.Append(errs, fmt.Errorf("remove %s: %w", entry.Name(), err))
			continue
		}
		removed++
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"dir":         j.dir,
		"max_age":     j.maxAge.String(),
		"scanned":     len(entries),
		"removed":     removed,
		"error_count": len(multierr.Errors(errs)),
	}), "temp cleanup complete")
	if errs != nil {
		return fmt.Errorf("temp cleanup: %w", errs)
	}
	return nil
}
