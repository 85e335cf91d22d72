// Package session carries the authenticated context every client
// component needs: where the backend lives, how to obtain a bearer
// credential, and how long a single call may take. It is passed
// explicitly; nothing here is read from globals.
package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

const DefaultTimeout = 8 * time.Second

var ErrNoCredential = errors.New("no credential")

// CredentialSource returns the current bearer token. ok is false when the
// user is not logged in; callers must route to login instead of sending
// an unauthenticated request.
type CredentialSource interface {
	Credential(ctx context.Context) (token string, ok bool)
}

// StaticToken is a CredentialSource backed by a fixed token.
type StaticToken string

func (s StaticToken) Credential(context.Context) (string, bool) {
	tok := strings.TrimSpace(string(s))

	return tok, tok != ""
}

// Session is the injected configuration shared by client components.
type Session struct {
	BaseURL     string
	Credentials CredentialSource
	Timeout     time.Duration
	// UserID is the subject the credential was issued for, when known.
	UserID string
}

// CallTimeout returns the bound applied to a single network call.
func (s Session) CallTimeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}

	return s.Timeout
}

// WithTimeout derives a context bounded by CallTimeout.
func (s Session) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.CallTimeout())
}

// Token resolves the bearer credential or ErrNoCredential.
func (s Session) Token(ctx context.Context) (string, error) {
	if s.Credentials == nil {
		return "", ErrNoCredential
	}

	tok, ok := s.Credentials.Credential(ctx)
	if !ok {
		return "", ErrNoCredential
	}

	return tok, nil
}
