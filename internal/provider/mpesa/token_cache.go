package mpesa

import (
	"sync"
	"time"
)

// SafetyMargin is how long before expiry a cached token stops being handed out.
const SafetyMargin = 60 * time.Second

// Credential is a bearer token issued by the Daraja OAuth endpoint.
type Credential struct {
	Token      string
	ObtainedAt time.Time
	ExpiresAt  time.Time
}

// UsableAt reports whether the token may still be presented at now.
func (c Credential) UsableAt(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt.Add(-SafetyMargin))
}

// TokenCache holds at most one credential. It performs no I/O.
type TokenCache struct {
	mu   sync.RWMutex
	cred Credential
	now  func() time.Time
}

// NewTokenCache returns an empty cache. A nil clock means time.Now.
func NewTokenCache(now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{now: now}
}

// Set replaces the cached credential with token, valid for ttl from now.
func (c *TokenCache) Set(token string, ttl time.Duration) Credential {
	obtained := c.now()
	cred := Credential{
		Token:      token,
		ObtainedAt: obtained,
		ExpiresAt:  obtained.Add(ttl),
	}

	c.mu.Lock()
	c.cred = cred
	c.mu.Unlock()
	return cred
}

// Get returns the cached token if it is still usable.
func (c *TokenCache) Get() (string, bool) {
	cred, ok := c.Credential()
	return cred.Token, ok
}

// Credential returns the cached credential if it is still usable.
func (c *TokenCache) Credential() (Credential, bool) {
	c.mu.RLock()
	cred := c.cred
	c.mu.RUnlock()

	if !cred.UsableAt(c.now()) {
		return Credential{}, false
	}
	return cred, true
}

// Clear drops the cached credential.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	c.cred = Credential{}
	c.mu.Unlock()
}
