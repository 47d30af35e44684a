package migrate

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// ValidateDir checks the migrations at dir, or the bundled set when dir is
// empty.
func ValidateDir(dir string) error {
	fsys, err := Source(dir)
	if err != nil {
		return err
	}
	return ValidateFS(fsys)
}

// ValidateFS checks file naming, version uniqueness and goose annotations.
// Every StatementBegin must be closed before the next section starts.
func ValidateFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := seen[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if err := validateSections(name, string(b)); err != nil {
			return err
		}
	}
	return nil
}

func validateSections(name, txt string) error {
	up := strings.Index(txt, "-- +goose Up")
	down := strings.Index(txt, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
	case down < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
	case down < up:
		return fmt.Errorf("migration %q has Down before Up", name)
	}

	for _, section := range []string{txt[up:down], txt[down:]} {
		begins := strings.Count(section, "-- +goose StatementBegin")
		ends := strings.Count(section, "-- +goose StatementEnd")
		if begins != ends {
			return fmt.Errorf("migration %q has %d StatementBegin but %d StatementEnd", name, begins, ends)
		}
	}
	return nil
}

// versions lists the migration versions present in fsys, ascending.
func versions(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if m := sqlFileRe.FindStringSubmatch(e.Name()); m != nil {
			out = append(out, m[1])
		}
	}
	sort.Strings(out)
	return out, nil
}
