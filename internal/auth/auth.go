// Package auth is the session boundary: the rest of the code only ever
// asks "who is signed in" and "give me a token", never how.
package auth

import (
	"context"
	"errors"
)

// ErrNotSignedIn is returned when no user session exists.
var ErrNotSignedIn = errors.New("user is not signed in")

// Provider exposes the current session.
type Provider interface {
	CurrentUserID(ctx context.Context) (string, error)
	IDToken(ctx context.Context) (string, error)
}

// StaticProvider serves a fixed session, typically sourced from the
// environment. An empty user id means nobody is signed in.
type StaticProvider struct {
	UserID string
	Token  string
}

func (p StaticProvider) CurrentUserID(ctx context.Context) (string, error) {
	if p.UserID == "" {
		return "", ErrNotSignedIn
	}
	return p.UserID, nil
}

func (p StaticProvider) IDToken(ctx context.Context) (string, error) {
	if p.UserID == "" {
		return "", ErrNotSignedIn
	}
	return p.Token, nil
}
