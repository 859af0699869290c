package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"payrelay/internal/provider/mpesa"
)

// TokenAdmin exposes the token lifecycle to operators.
type TokenAdmin interface {
	VerifyCredentials(ctx context.Context) (mpesa.Credential, error)
	Invalidate()
}

type tokenStatus struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int64     `json:"expires_in"`
	Timestamp string    `json:"timestamp"`
}

// VerifyToken forces a token fetch, proving the consumer key pair works. The
// token itself is never returned.
func VerifyToken(admin TokenAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cred, err := admin.VerifyCredentials(r.Context())
		if err != nil {
			writeProviderError(w, r, "Credential verification failed", err)
			return
		}

		writeJSON(w, http.StatusOK, tokenStatus{
			Message:   "Credentials verified",
			ExpiresAt: cred.ExpiresAt.UTC(),
			ExpiresIn: int64(time.Until(cred.ExpiresAt).Seconds()),
			Timestamp: now(),
		})
	}
}

// ClearToken drops the cached token.
func ClearToken(admin TokenAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin.Invalidate()
		log.Warn().Str("path", r.URL.Path).Msg("token cache cleared by operator")

		writeJSON(w, http.StatusOK, map[string]string{
			"message":   "Token cache cleared",
			"timestamp": now(),
		})
	}
}
