// Package auth verifies connection credentials and turns them into relay
// identities.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

var (
	// ErrMissingCredential is returned when a request carries no token.
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidToken is returned when the token is malformed or badly signed.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// Error is an authentication failure. Cause is one of the package sentinels.
type Error struct {
	Cause  error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "auth: " + e.Cause.Error()
	}
	return "auth: " + e.Cause.Error() + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(cause error, detail string) *Error {
	return &Error{Cause: cause, Detail: detail}
}

// Verifier checks a credential once per connection.
type Verifier interface {
	Verify(ctx context.Context, credential string) (relay.Identity, error)
}

// CredentialFromRequest extracts a bearer token from the Authorization header
// or, for browser clients that cannot set headers on a WebSocket handshake,
// from the token query parameter.
func CredentialFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", newError(ErrInvalidToken, "malformed Authorization header")
		}
		return strings.TrimSpace(token), nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", newError(ErrMissingCredential, "")
}
