package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where new migrations are written during development.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var bundled embed.FS

var versionRe = regexp.MustCompile(`^\d{14}$`)

// Source resolves the migration files. An empty dir selects the set compiled
// into the binary.
func Source(dir string) (fs.FS, error) {
	if strings.TrimSpace(dir) == "" {
		return fs.Sub(bundled, "migrations")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat migrations dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrations path %q is not a directory", dir)
	}
	return os.DirFS(dir), nil
}

// ParseVersion accepts a YYYYMMDDHHMMSS version string.
func ParseVersion(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if !versionRe.MatchString(raw) {
		return 0, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", raw)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Status is one migration as seen by the database.
type Status struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

// Runner applies schema migrations against Postgres. It does not own the
// connection; the caller closes it.
type Runner struct {
	provider *goose.Provider
}

func NewRunner(db *sql.DB, fsys fs.FS) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if fsys == nil {
		return nil, errors.New("migrations source is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("create goose provider: %w", err)
	}
	return &Runner{provider: provider}, nil
}

// Up applies every pending migration and returns the versions it applied.
func (r *Runner) Up(ctx context.Context) ([]int64, error) {
	results, err := r.provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose up: %w", err)
	}
	versions := make([]int64, 0, len(results))
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		versions = append(versions, res.Source.Version)
	}
	return versions, nil
}

// Down rolls back the most recently applied migration.
func (r *Runner) Down(ctx context.Context) (int64, error) {
	res, err := r.provider.Down(ctx)
	if err != nil {
		return 0, fmt.Errorf("goose down: %w", err)
	}
	if res == nil || res.Source == nil {
		return 0, nil
	}
	return res.Source.Version, nil
}

func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	rows, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	out := make([]Status, 0, len(rows))
	for _, row := range rows {
		if row == nil || row.Source == nil {
			continue
		}
		out = append(out, Status{
			Version:   row.Source.Version,
			Path:      row.Source.Path,
			Applied:   row.State == goose.StateApplied,
			AppliedAt: row.AppliedAt,
		})
	}
	return out, nil
}

// MigrateTo moves the schema up or down until target is the current version.
func (r *Runner) MigrateTo(ctx context.Context, target int64) error {
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil
	case current < target:
		if _, err := r.provider.UpTo(ctx, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
	default:
		if _, err := r.provider.DownTo(ctx, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
	}
	return nil
}
