package middleware

import (
	"context"
	"net/http"
	"regexp"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// validRequestID bounds what an inbound header may carry before it reaches
// log lines.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestID echoes or mints an X-Request-Id. The id is stored under chi's
// request id key so chimw.GetReqID works downstream.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := inboundRequestID(r)
			w.Header().Set(requestIDHeader, id)

			ctx := context.WithValue(r.Context(), chimw.RequestIDKey, id)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func inboundRequestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); validRequestID.MatchString(id) {
		return id
	}
	return uuid.NewString()
}
