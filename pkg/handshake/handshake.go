// Package handshake issues and resolves authentication tokens. A token
// binds a client to the respond-to URL it presented during the handshake,
// so later requests from a platform that cannot assert its origin can
// prove which host they answer to.
package handshake

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/i5heu/seedgate/pkg/auth"
)

const (
	// TokenBytes is the number of random bytes in a token.
	TokenBytes = 20

	keyPrefix = "authenticationToken:"
)

// SessionStore is the encrypted, expiring storage the tokens live in.
type SessionStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Store issues and resolves tokens.
type Store struct {
	sessions SessionStore
}

var _ auth.TokenResolver = (*Store)(nil)

// New returns a Store backed by sessions.
func New(sessions SessionStore) *Store {
	return &Store{sessions: sessions}
}

// IssueToken creates a token for respondToUrl.
func (s *Store) IssueToken(ctx context.Context, respondToUrl string) (string, error) {
	raw := make([]byte, TokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	if err := s.sessions.Set(ctx, keyPrefix+token, respondToUrl); err != nil {
		return "", fmt.Errorf("store auth token: %w", err)
	}
	return token, nil
}

// Resolve returns the respond-to URL token was issued for. The token is
// not consumed; the store refreshes its expiry.
func (s *Store) Resolve(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	u, ok, err := s.sessions.Get(ctx, keyPrefix+token)
	if err != nil {
		return "", false, fmt.Errorf("resolve auth token: %w", err)
	}
	return u, ok, nil
}

// Revoke forgets token.
func (s *Store) Revoke(ctx context.Context, token string) error {
	return s.sessions.Remove(ctx, keyPrefix+token)
}
