package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/certledger-backend/api/responses"
	"github.com/angelmondragon/certledger-backend/internal/documents"
	"github.com/angelmondragon/certledger-backend/internal/ledger"
	"github.com/angelmondragon/certledger-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

const readinessTimeout = 5 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type ledgerHealth interface {
	Health(ctx context.Context) ledger.Status
}

type documentHealth interface {
	Health(ctx context.Context) documents.Health
}

type readyResponse struct {
	Status    string           `json:"status"`
	Database  string           `json:"database"`
	Redis     string           `json:"redis,omitempty"`
	Ledger    ledger.Status    `json:"ledger"`
	Documents documents.Health `json:"documents"`
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CertLedger-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady gates on the database only. Ledger and document store health is
// reported for the caller to inspect; both degrade to fallbacks when down.
func HealthReady(cfg *config.Config, logg *logger.Logger, db Pinger, redis Pinger, chain ledgerHealth, docs documentHealth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CertLedger-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unavailable").
				WithDetails(map[string]any{"component": "database"}))
			return
		}

		out := readyResponse{
			Status:    "ready",
			Database:  "ok",
			Ledger:    chain.Health(ctx),
			Documents: docs.Health(ctx),
		}
		if redis != nil {
			out.Redis = "ok"
			if err := redis.Ping(ctx); err != nil {
				out.Redis = "unavailable"
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "redis ping failed")
				}
			}
		}
		responses.WriteSuccess(w, out)
	}
}
