package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/certledger-backend/api/responses"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

// RateLimitStore counts requests per scope within a fixed window.
type RateLimitStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy is a per-client-IP fixed window for one route group.
type RateLimitPolicy struct {
	name   string
	window time.Duration
	limit  int64
}

// NewRateLimitPolicy returns a policy; a zero window or limit disables it.
func NewRateLimitPolicy(name string, window time.Duration, limit int) RateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "default"
	}
	return RateLimitPolicy{name: name, window: window, limit: int64(limit)}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && p.limit > 0
}

func (p RateLimitPolicy) scope(ip string) string {
	return "ip:" + p.name + ":" + ip
}

func (p RateLimitPolicy) windowSeconds() string {
	return strconv.Itoa(int(p.window.Seconds()))
}

// RateLimit counts each client IP against policy and answers 429 once the
// window is spent. Limiter outages fail open so verification keeps working
// without redis.
func RateLimit(policy RateLimitPolicy, store RateLimitStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := ClientIP(r)
			if ip == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, count, err := store.FixedWindowAllow(ctx, policy.scope(ip), policy.limit, policy.window)
			if err != nil {
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{"policy": policy.name, "error": err.Error()}), "rate_limit.unavailable")
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(policy.limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(policy.limit-count, 0), 10))
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			if logg != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{
					"policy":         policy.name,
					"ip":             ip,
					"attempts":       count,
					"limit":          policy.limit,
					"window_seconds": int(policy.window.Seconds()),
				}), "rate_limit.blocked")
			}
			w.Header().Set("Retry-After", policy.windowSeconds())
			responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
		})
	}
}

// ClientIP resolves the caller address, preferring the first parseable
// X-Forwarded-For entry, then X-Real-IP, then the socket peer. Values that
// are not IP addresses are ignored.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	candidates := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	candidates = append(candidates, r.Header.Get("X-Real-IP"))
	for _, c := range candidates {
		if ip := net.ParseIP(strings.TrimSpace(c)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}
