package provision

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	tokenPrefix = "nt_"
	tokenBytes  = 32 // 256 bits of entropy

	// DefaultTTL bounds how long a provisioning token stays redeemable.
	DefaultTTL = 24 * time.Hour
)

var (
	ErrTokenNotFound = errors.New("provisioning token not found")
	ErrTokenExpired  = errors.New("provisioning token has expired")
)

// Payload is the provisioning intent a token stands for: the device identity
// and address that will be baked into the certificate on redemption.
type Payload struct {
	DeviceName  string
	DeviceType  string
	IPAddress   string // CIDR form
	CAName      string
	RequestedBy string
	AutoConnect bool
}

type tokenEntry struct {
	payload   Payload
	createdAt time.Time
	expiresAt time.Time
}

// TokenStore issues and redeems single-use provisioning tokens. Tokens are
// bearer credentials for certificate issuance, so redemption is strictly
// at-most-once: the validity check, payload fetch and deletion happen under
// one lock.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]tokenEntry
	ttl    time.Duration
}

// NewTokenStore returns a store issuing tokens with the given default TTL.
func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenStore{
		tokens: make(map[string]tokenEntry),
		ttl:    ttl,
	}
}

// Issue stores the payload under a fresh random token and returns the token
// together with its absolute expiry. A zero ttl uses the store default.
func (s *TokenStore) Issue(payload Payload, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}

	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}
	token := tokenPrefix + base64.RawURLEncoding.EncodeToString(b)

	now := time.Now()
	expiresAt := now.Add(ttl)

	s.mu.Lock()
	s.tokens[token] = tokenEntry{payload: payload, createdAt: now, expiresAt: expiresAt}
	s.mu.Unlock()

	slog.Info("provisioning token issued",
		"device_name", payload.DeviceName,
		"device_type", payload.DeviceType,
		"expires_at", expiresAt)
	return token, expiresAt, nil
}

// Redeem consumes a token exactly once. Under concurrent redemption of the
// same token one caller gets the payload and every other caller gets
// ErrTokenNotFound. An expired token is deleted and reported as
// ErrTokenExpired so callers can tell the two apart.
func (s *TokenStore) Redeem(token string) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[token]
	if !ok {
		return Payload{}, ErrTokenNotFound
	}
	delete(s.tokens, token)

	if time.Now().After(entry.expiresAt) {
		slog.Warn("expired provisioning token redeemed", "device_name", entry.payload.DeviceName)
		return Payload{}, ErrTokenExpired
	}

	return entry.payload, nil
}

// Peek reports whether a token currently resolves, without consuming it.
func (s *TokenStore) Peek(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[token]
	return ok && time.Now().Before(entry.expiresAt)
}

// Len returns the number of tokens held, expired or not.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// StartCleanup periodically reaps expired tokens until ctx is cancelled.
// Redemption does not depend on the sweep; this only bounds memory.
func (s *TokenStore) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *TokenStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for token, entry := range s.tokens {
		if now.After(entry.expiresAt) {
			delete(s.tokens, token)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("expired provisioning tokens reaped", "removed", removed)
	}
}
