package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
)

func queryError(key, problem string, extra map[string]any) error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.Newf(pkgerrors.CodeValidation, "query parameter %s", problem).WithDetails(details)
}

// ParseQueryInt returns defaultVal when key is absent and rejects values
// outside [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, queryError(key, "must be numeric", nil)
	case n < min || n > max:
		return 0, queryError(key, "out of range", map[string]any{"min": min, "max": max})
	}
	return n, nil
}

// ParseQueryBool reads an optional flag. A bare "?key" counts as true.
func ParseQueryBool(r *http.Request, key string) (bool, error) {
	values, present := r.URL.Query()[key]
	if !present {
		return false, nil
	}
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return true, nil
	}
	flag, err := strconv.ParseBool(strings.TrimSpace(values[0]))
	if err != nil {
		return false, queryError(key, "must be a boolean", nil)
	}
	return flag, nil
}

// ParseQueryEnum accepts an empty value or one of allowed, case-insensitively,
// and returns the canonical spelling from allowed.
func ParseQueryEnum(r *http.Request, key string, allowed ...string) (string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return "", nil
	}
	for _, candidate := range allowed {
		if strings.EqualFold(raw, candidate) {
			return candidate, nil
		}
	}
	return "", queryError(key, "has an unsupported value", map[string]any{"allowed": allowed})
}
