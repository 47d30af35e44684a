package responses

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
	"github.com/angelmondragon/certledger-backend/pkg/types"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"certificateId": "DEIT20260001"})

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "DEIT20260001", body.Data.(map[string]any)["certificateId"])
}

func TestWriteErrorReturnsCallerMessageAndDetails(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "bad input").
		WithDetails(map[string]string{"email": "must be a valid email"})
	WriteError(context.Background(), nil, w, err)

	require.Equal(t, http.StatusBadRequest, w.Code)
	apiErr := decodeError(t, w)
	require.Equal(t, string(pkgerrors.CodeValidation), apiErr.Code)
	require.Equal(t, "bad input", apiErr.Message)
	require.Equal(t, map[string]any{"email": "must be a valid email"}, apiErr.Details)
}

func TestWriteErrorKeepsPublicMessageForUpstreamFailures(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-Id", "req-upload-1")
	err := pkgerrors.Wrap(pkgerrors.CodeUploadFailure, errors.New("pinning 500"), "upload DEIT20260001.pdf").
		WithDetails(map[string]any{"stage": "DocumentUploaded", "certificateId": "DEIT20260001"})
	WriteError(context.Background(), logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), w, err)

	require.Equal(t, http.StatusBadGateway, w.Code)
	apiErr := decodeError(t, w)
	require.Equal(t, "certificate document could not be stored", apiErr.Message)
	require.True(t, apiErr.Retryable)
	require.Equal(t, "req-upload-1", apiErr.RequestID)
	require.Equal(t, "DocumentUploaded", apiErr.Details.(map[string]any)["stage"])
}

func TestWriteErrorDefaultsToInternalForUntypedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	apiErr := decodeError(t, w)
	require.Equal(t, string(pkgerrors.CodeInternal), apiErr.Code)
	require.Equal(t, "internal server error", apiErr.Message)
	require.Nil(t, apiErr.Details)
}

func TestWriteErrorRateLimitSetsRetryAfter(t *testing.T) {
	ctx := context.WithValue(context.Background(), chimw.RequestIDKey, "req-rl-1")

	w := httptest.NewRecorder()
	WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "verification limit reached"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "60", w.Header().Get("Retry-After"))
	apiErr := decodeError(t, w)
	require.Equal(t, "req-rl-1", apiErr.RequestID)

	w = httptest.NewRecorder()
	w.Header().Set("Retry-After", "15")
	WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, ""))
	require.Equal(t, "15", w.Header().Get("Retry-After"))
	require.Equal(t, "too many requests", decodeError(t, w).Message)
}
