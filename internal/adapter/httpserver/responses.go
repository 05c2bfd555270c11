package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/observability"
)

// apiError is the OpenAI-style error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", slog.Any("error", err))
	}
}

// writeError maps the domain error taxonomy onto HTTP statuses. The full
// error chain is logged; the client sees only the outer message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, typ, code := classify(err)

	log := observability.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Warn("request rejected", slog.Int("status", status), slog.Any("error", err))
	}

	writeJSON(w, status, apiError{Error: apiErrorBody{
		Message: publicMessage(status, err),
		Type:    typ,
		Code:    code,
	}})
}

func classify(err error) (status int, typ, code string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_request_error", "invalid_request"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "invalid_request_error", "not_found"
	case errors.Is(err, domain.ErrBackendRateLimited):
		return http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded"
	case errors.Is(err, domain.ErrNoAvailableAccounts),
		errors.Is(err, domain.ErrSchedulerContention),
		errors.Is(err, domain.ErrAllAccountsExhausted):
		return http.StatusServiceUnavailable, "api_error", "service_unavailable"
	case errors.Is(err, domain.ErrBackendUnauthorized),
		errors.Is(err, domain.ErrBackendNotFound),
		errors.Is(err, domain.ErrBackendFailure),
		errors.Is(err, domain.ErrCredentialFetch),
		errors.Is(err, domain.ErrSessionCreate):
		return http.StatusBadGateway, "api_error", "upstream_error"
	default:
		return http.StatusInternalServerError, "api_error", "internal_error"
	}
}

// publicMessage keeps client-facing text stable and free of internal detail
// for server-side failures; client errors echo the cause.
func publicMessage(status int, err error) string {
	switch {
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		return err.Error()
	case status == http.StatusTooManyRequests:
		return "the upstream is rate limited, retry later"
	case status == http.StatusServiceUnavailable:
		return "no account is currently able to serve the request"
	case status == http.StatusBadGateway:
		return "the upstream request failed"
	default:
		return "internal error"
	}
}
