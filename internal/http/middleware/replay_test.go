package middlewarex

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"payrelay/internal/domain/merchant"
)

const protectedPath = "/api/v1/b2c/payment"

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestGuard() *Guard {
	reg := merchant.NewRegistry(merchant.Caller{Key: "merchant_123", AllowedOrigins: []string{"https://shop.example.com"}})
	g := NewGuard(reg, []string{protectedPath, "/api/v1/stk-push/initiate"}, 2*time.Minute)
	g.now = func() time.Time { return fixedNow }
	return g
}

func kindOf(t *testing.T, err error) SecurityErrorKind {
	t.Helper()
	var secErr *SecurityError
	require.True(t, errors.As(err, &secErr), "got %v", err)
	return secErr.Kind
}

func TestCheckWindowBoundaries(t *testing.T) {
	g := newTestGuard()
	at := func(d time.Duration) string { return fixedNow.Add(d).Format(time.RFC3339) }

	require.NoError(t, g.Check("merchant_123", "", at(-119*time.Second), protectedPath))
	require.NoError(t, g.Check("merchant_123", "", at(119*time.Second), protectedPath))
	require.NoError(t, g.Check("merchant_123", "", at(-2*time.Minute), protectedPath))

	require.Equal(t, TimestampOutOfWindow, kindOf(t, g.Check("merchant_123", "", at(-121*time.Second), protectedPath)))
	require.Equal(t, TimestampOutOfWindow, kindOf(t, g.Check("merchant_123", "", at(121*time.Second), protectedPath)))
}

func TestCheckOrder(t *testing.T) {
	g := newTestGuard()
	now := fixedNow.Format(time.RFC3339)

	require.Equal(t, MissingHeaders, kindOf(t, g.Check("", "", "", protectedPath)))
	require.Equal(t, MissingHeaders, kindOf(t, g.Check("nobody", "", "", protectedPath)))
	require.Equal(t, UnknownCaller, kindOf(t, g.Check("nobody", "", "garbage", protectedPath)))
	require.Equal(t, BadTimestamp, kindOf(t, g.Check("merchant_123", "", "yesterday", protectedPath)))
	require.NoError(t, g.Check("merchant_123", "https://elsewhere.example", now, protectedPath))
}

func TestCheckBypassesUnprotectedPaths(t *testing.T) {
	g := newTestGuard()
	require.NoError(t, g.Check("", "", "", "/api/v1/stk-push/callback"))
	require.False(t, g.Protects("/health"))
	require.True(t, g.Protects(protectedPath+"/"))
}

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{
		"2024-03-01T12:00:00Z",
		"2024-03-01T12:00:00.123Z",
		"2024-03-01T15:00:00+03:00",
		"2024-03-01T12:00:00",
		"2024-03-01T12:00:00.123456",
	} {
		ts, err := ParseTimestamp(s)
		require.NoError(t, err, s)
		require.WithinDuration(t, fixedNow, ts, time.Second, s)
	}

	_, err := ParseTimestamp("1709294400")
	require.Error(t, err)
}

func TestSecurityErrorStatus(t *testing.T) {
	require.Equal(t, http.StatusForbidden, (&SecurityError{Kind: UnknownCaller}).HTTPStatus())
	for _, k := range []SecurityErrorKind{MissingHeaders, BadTimestamp, TimestampOutOfWindow} {
		require.Equal(t, http.StatusBadRequest, (&SecurityError{Kind: k}).HTTPStatus())
	}
}

func TestReplayGuardMiddleware(t *testing.T) {
	g := newTestGuard()
	g.now = time.Now

	var reached int
	var seenKey string
	h := ReplayGuard(g)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
		seenKey, _ = MerchantKey(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	// unprotected
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/b2c/result", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// unknown caller
	req := httptest.NewRequest(http.MethodPost, protectedPath, nil)
	req.Header.Set("x-merchant-key", "merchant_999")
	req.Header.Set("x-request-timestamp", time.Now().UTC().Format(time.RFC3339))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "unknown_caller", body["error"])

	// stale
	req = httptest.NewRequest(http.MethodPost, protectedPath, nil)
	req.Header.Set("x-merchant-key", "merchant_123")
	req.Header.Set("x-request-timestamp", time.Now().Add(-5*time.Minute).UTC().Format(time.RFC3339))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// accepted
	req = httptest.NewRequest(http.MethodPost, protectedPath, nil)
	req.Header.Set("x-merchant-key", "merchant_123")
	req.Header.Set("x-request-timestamp", time.Now().UTC().Format(time.RFC3339Nano))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 2, reached)
	require.Equal(t, "merchant_123", seenKey)
}

func TestAdminAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := httptest.NewRecorder()
	AdminAuth("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/admin/token", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodDelete, "/admin/token", nil)
	req.Header.Set(HeaderAdminToken, "wrong")
	rec = httptest.NewRecorder()
	AdminAuth("s3cret")(ok).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set(HeaderAdminToken, "s3cret")
	rec = httptest.NewRecorder()
	AdminAuth("s3cret")(ok).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
