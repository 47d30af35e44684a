package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

// CreateSQLMigration writes an empty goose migration into dir. The version is
// derived from now but always sorts after the newest existing file.
func CreateSQLMigration(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}

	safe := nameSanitizeRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	safe = strings.Trim(safe, "_")
	if safe == "" {
		return "", fmt.Errorf("name %q results in empty sanitized filename", name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	version := now.UTC().Format(versionLayout)
	existing, err := versions(os.DirFS(dir))
	if err != nil {
		return "", fmt.Errorf("list migrations in %q: %w", dir, err)
	}
	if n := len(existing); n > 0 && existing[n-1] >= version {
		latest, err := strconv.ParseInt(existing[n-1], 10, 64)
		if err != nil {
			return "", fmt.Errorf("parse version %q: %w", existing[n-1], err)
		}
		version = strconv.FormatInt(latest+1, 10)
	}

	fullpath := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", version, safe))
	body := fmt.Sprintf(`-- +goose Up
-- +goose StatementBegin
-- %s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %s
-- +goose StatementEnd
`, safe, safe)

	f, err := os.OpenFile(fullpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", fullpath, err)
	}
	if _, err := f.WriteString(body); err != nil {
		f.Close()
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close migration %q: %w", fullpath, err)
	}
	return fullpath, nil
}
