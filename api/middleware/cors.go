package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

const corsMaxAgeSeconds = 300

// CORS applies the browser origin policy for the verification portal and the
// admin console. Origins may use a single wildcard, e.g. https://*.example.edu.
// Document downloads need Content-Disposition exposed.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := normalizeOrigins(origins)
	if len(allowed) == 0 {
		allowed = []string{"http://localhost:3000"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           corsMaxAgeSeconds,
	}).Handler
}

func normalizeOrigins(origins []string) []string {
	seen := make(map[string]struct{}, len(origins))
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		key := strings.ToLower(o)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, o)
	}
	return out
}
