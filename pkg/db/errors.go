package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// uniqueMarkers are the driver messages for a duplicate key when no typed
// error survives the gorm chain.
var uniqueMarkers = []string{"duplicate key value", "UNIQUE constraint failed"}

// IsUniqueViolation reports whether err is a unique-constraint violation from
// Postgres (pgx or lib/pq) or SQLite. A non-empty constraint must match the
// Postgres constraint name, or appear in the message (SQLite names columns).
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if code, name, ok := postgresError(err); ok {
		return code == pgUniqueViolation && (constraint == "" || name == constraint)
	}

	msg := err.Error()
	for _, marker := range uniqueMarkers {
		if strings.Contains(msg, marker) {
			return constraint == "" || strings.Contains(msg, constraint)
		}
	}
	return false
}

func postgresError(err error) (code, constraint string, ok bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code, pgxErr.ConstraintName, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	return "", "", false
}
