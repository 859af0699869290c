package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"payrelay/internal/provider"
	"payrelay/internal/provider/base"
)

const (
	oauthEndpoint = "/oauth/v1/generate?grant_type=client_credentials"

	// DefaultTokenTTL applies when the OAuth response omits expires_in.
	DefaultTokenTTL = 3600 * time.Second
)

// AuthProvider hands out bearer tokens, fetching a new one when the cache is
// empty or about to expire.
//
// Refreshes are not serialized: callers that miss the cache at the same time
// each fetch a token and the last Set wins. No lock is held across the HTTP call.
type AuthProvider struct {
	http           *base.HTTPClient
	cache          *TokenCache
	consumerKey    string
	consumerSecret string
}

func NewAuthProvider(client *base.HTTPClient, cache *TokenCache, consumerKey, consumerSecret string) *AuthProvider {
	return &AuthProvider{
		http:           client,
		cache:          cache,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
	}
}

// AccessToken returns a usable credential. Unless force is set, a cached token
// is returned without touching the network.
func (a *AuthProvider) AccessToken(ctx context.Context, force bool) (Credential, error) {
	if !force {
		if cred, ok := a.cache.Credential(); ok {
			return cred, nil
		}
	}

	token, ttl, err := a.fetch(ctx)
	if err != nil {
		return Credential{}, err
	}

	cred := a.cache.Set(token, ttl)
	log.Info().
		Str("provider", "mpesa").
		Bool("forced", force).
		Time("expires_at", cred.ExpiresAt).
		Msg("access token refreshed")
	return cred, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (a *AuthProvider) Invalidate() {
	a.cache.Clear()
	log.Info().Str("provider", "mpesa").Msg("access token cache cleared")
}

// VerifyCredentials checks the consumer key pair by forcing a token fetch.
func (a *AuthProvider) VerifyCredentials(ctx context.Context) (Credential, error) {
	return a.AccessToken(ctx, true)
}

func (a *AuthProvider) fetch(ctx context.Context) (string, time.Duration, error) {
	basic := base64.StdEncoding.EncodeToString([]byte(a.consumerKey + ":" + a.consumerSecret))
	resp, err := a.http.Get(ctx, oauthEndpoint, map[string]string{
		"Authorization": "Basic " + basic,
	})
	if err != nil {
		kind := provider.AuthTransport
		if base.IsTimeout(err) {
			kind = provider.AuthTimeout
		}
		return "", 0, &provider.AuthError{Kind: kind, Err: err}
	}

	if !resp.IsSuccess() {
		fault := resp.Fault(provider.ErrCodeAuth)
		log.Warn().
			Str("provider", "mpesa").
			Int("status_code", resp.StatusCode).
			Str("error_code", fault.ErrorCode).
			Msg("access token request rejected")
		return "", 0, &provider.AuthError{
			Kind:            provider.AuthProviderRejected,
			StatusCode:      resp.StatusCode,
			ProviderCode:    fault.ErrorCode,
			ProviderMessage: fault.ErrorMessage,
		}
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   any    `json:"expires_in"`
	}
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return "", 0, &provider.AuthError{Kind: provider.AuthMalformedResponse, StatusCode: resp.StatusCode, Err: err}
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return "", 0, &provider.AuthError{Kind: provider.AuthMalformedResponse, StatusCode: resp.StatusCode}
	}

	return body.AccessToken, parseExpiresIn(body.ExpiresIn), nil
}

// parseExpiresIn accepts the lifetime as a JSON number or a numeric string
// ("3599" is what Daraja sends). Anything else falls back to DefaultTokenTTL.
func parseExpiresIn(v any) time.Duration {
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = strings.TrimSpace(t)
	default:
		return DefaultTokenTTL
	}

	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return DefaultTokenTTL
	}
	return time.Duration(secs * float64(time.Second))
}
