package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the body of every non-2xx response. RequestID mirrors the
// X-Request-Id header so a copied payload still points at the log lines.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Details   any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
