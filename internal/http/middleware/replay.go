package middlewarex

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"payrelay/internal/domain/merchant"
)

const (
	HeaderMerchantKey      = "X-Merchant-Key"
	HeaderRequestTimestamp = "X-Request-Timestamp"
)

// SecurityErrorKind says why a protected request was refused.
type SecurityErrorKind string

const (
	MissingHeaders       SecurityErrorKind = "missing_headers"
	UnknownCaller        SecurityErrorKind = "unknown_caller"
	BadTimestamp         SecurityErrorKind = "bad_timestamp"
	TimestampOutOfWindow SecurityErrorKind = "timestamp_out_of_window"
)

type SecurityError struct {
	Kind   SecurityErrorKind
	Detail string
}

func (e *SecurityError) Error() string {
	return string(e.Kind) + ": " + e.Detail
}

// HTTPStatus is 403 for an unknown caller and 400 otherwise.
func (e *SecurityError) HTTPStatus() int {
	if e.Kind == UnknownCaller {
		return http.StatusForbidden
	}
	return http.StatusBadRequest
}

// Guard rejects stale or unattributed requests to protected paths. It checks a
// shared merchant key and a timestamp window only; the body is not signed, so
// a captured request can be replayed until its timestamp leaves the window.
type Guard struct {
	callers   *merchant.Registry
	protected map[string]struct{}
	window    time.Duration
	now       func() time.Time
}

func NewGuard(callers *merchant.Registry, protectedPaths []string, window time.Duration) *Guard {
	protected := make(map[string]struct{}, len(protectedPaths))
	for _, p := range protectedPaths {
		protected[strings.TrimSuffix(p, "/")] = struct{}{}
	}
	if window <= 0 {
		window = 2 * time.Minute
	}
	return &Guard{
		callers:   callers,
		protected: protected,
		window:    window,
		now:       time.Now,
	}
}

// Protects reports whether path is subject to the guard.
func (g *Guard) Protects(path string) bool {
	_, ok := g.protected[strings.TrimSuffix(path, "/")]
	return ok
}

// Check validates the headers of a request to path. Unprotected paths always pass.
// origin is accepted for logging; it is not matched against the caller's origins.
func (g *Guard) Check(callerKey, origin, timestamp, path string) error {
	if !g.Protects(path) {
		return nil
	}

	callerKey = strings.TrimSpace(callerKey)
	timestamp = strings.TrimSpace(timestamp)
	if callerKey == "" || timestamp == "" {
		return &SecurityError{Kind: MissingHeaders, Detail: "x-merchant-key and x-request-timestamp are required"}
	}

	if _, ok := g.callers.Lookup(callerKey); !ok {
		return &SecurityError{Kind: UnknownCaller, Detail: "invalid merchant key"}
	}

	ts, err := ParseTimestamp(timestamp)
	if err != nil {
		return &SecurityError{Kind: BadTimestamp, Detail: "invalid timestamp format (use ISO 8601)"}
	}

	skew := g.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > g.window {
		return &SecurityError{Kind: TimestampOutOfWindow, Detail: "request timestamp too old or in the future"}
	}
	return nil
}

var offsetlessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp reads an ISO-8601 instant. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	for _, layout := range offsetlessLayouts {
		if t, lerr := time.ParseInLocation(layout, s, time.UTC); lerr == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// ReplayGuard applies g to every request. Rejected requests get a JSON error
// and never reach next.
func ReplayGuard(g *Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.Protects(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(HeaderMerchantKey)
			origin := r.Header.Get("Origin")
			if err := g.Check(key, origin, r.Header.Get(HeaderRequestTimestamp), r.URL.Path); err != nil {
				secErr := err.(*SecurityError)
				log.Warn().
					Str("kind", string(secErr.Kind)).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Str("remote_addr", r.RemoteAddr).
					Msg("protected request rejected")
				writeError(w, secErr.HTTPStatus(), string(secErr.Kind), secErr.Detail)
				return
			}

			log.Info().
				Str("merchant_key", key).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("origin", origin).
				Msg("protected request accepted")

			next.ServeHTTP(w, r.WithContext(WithMerchantKey(r.Context(), key)))
		})
	}
}
