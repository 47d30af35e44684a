package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"
	zlog "github.com/rs/zerolog/log"

	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
	"github.com/angelmondragon/certledger-backend/pkg/types"
)

// retryAfterSeconds is advertised on 429 responses.
const retryAfterSeconds = 60

// callerMessage lists codes whose internal message is safe to return; the
// rest answer with the code's public message.
var callerMessage = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:         true,
	pkgerrors.CodeNotFound:           true,
	pkgerrors.CodeConflict:           true,
	pkgerrors.CodeStateConflict:      true,
	pkgerrors.CodeAllocationConflict: true,
	pkgerrors.CodeAlreadyRevoked:     true,
	pkgerrors.CodeMismatch:           true,
	pkgerrors.CodeRateLimit:          true,
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as an error envelope and logs it: 5xx at error,
// everything else as a rejected request.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	apiErr := types.APIError{
		Code:      string(typed.Code()),
		Message:   meta.PublicMessage,
		Retryable: meta.Retryable,
		RequestID: requestID(ctx, w),
	}
	if callerMessage[typed.Code()] && typed.Message() != "" {
		apiErr.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		apiErr.Details = typed.Details()
	}
	if typed.Code() == pkgerrors.CodeRateLimit && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	if logg != nil {
		lctx := logg.WithFields(ctx, pkgerrors.Dump(err).Fields())
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(lctx, "request.error", err)
		} else {
			logg.Warn(lctx, "request.rejected")
		}
	}

	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{Error: apiErr})
}

func requestID(ctx context.Context, w http.ResponseWriter) string {
	if id := chimw.GetReqID(ctx); id != "" {
		return id
	}
	return w.Header().Get("X-Request-Id")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zlog.Error().Err(err).Int("status", status).Msg("failed to encode response")
	}
}
