package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"payrelay/internal/provider"
)

type errorResponse struct {
	Error        string `json:"error"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	RequestID    string `json:"request_id,omitempty"`
	Timestamp    string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, summary, code, message, requestID string) {
	writeJSON(w, status, errorResponse{
		Error:        summary,
		ErrorCode:    code,
		ErrorMessage: message,
		RequestID:    requestID,
		Timestamp:    now(),
	})
}

// writeProviderError maps a failed outbound call onto the inbound response:
// 504 for timeouts, 502 for transport or malformed responses, the provider's
// own status for rejections and 400 for invalid requests.
func writeProviderError(w http.ResponseWriter, r *http.Request, summary string, err error) {
	status := provider.HTTPStatus(err)

	var (
		authErr *provider.AuthError
		upErr   *provider.UpstreamError
		valErr  *provider.ValidationError
	)
	code, message, requestID := provider.ErrCodeInternal, "internal error", ""

	switch {
	case errors.As(err, &valErr):
		summary = "Invalid request"
		code, message = provider.ErrCodeInvalidRequest, valErr.Error()
	case errors.As(err, &authErr):
		summary = "Failed to generate access token"
		message = authErr.Error()
		switch authErr.Kind {
		case provider.AuthTimeout:
			code = provider.ErrCodeTimeout
		case provider.AuthTransport:
			code = provider.ErrCodeProviderDown
		case provider.AuthMalformedResponse:
			code = provider.ErrCodeMalformed
		default:
			code, message = authErr.ProviderCode, authErr.ProviderMessage
		}
	case errors.As(err, &upErr):
		message = upErr.Error()
		switch {
		case upErr.Timeout:
			code = provider.ErrCodeTimeout
		case upErr.Transport:
			code = provider.ErrCodeProviderDown
		default:
			code, message, requestID = upErr.Code, upErr.Message, upErr.RequestID
		}
	}

	evt := log.Error()
	if status < http.StatusInternalServerError {
		evt = log.Warn()
	}
	evt.Err(err).
		Str("request_id", chimw.GetReqID(r.Context())).
		Str("path", r.URL.Path).
		Int("status", status).
		Str("error_code", code).
		Msg(summary)

	writeError(w, status, summary, code, message, requestID)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

const maxBodyBytes = 1 << 20

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
