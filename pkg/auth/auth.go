// Package auth provides authentication for the gateway's HTTP surface:
// API keys issued at registration and optional JWT bearer tokens. The
// resolved identity is the owner context that scopes session operations.
package auth

import (
	"context"
)

// contextKey is a private type for context keys.
type contextKey int

const (
	identityContextKey contextKey = iota
	tokenContextKey
)

// Identity holds the authenticated caller.
type Identity struct {
	// UserID is the owner identifier sessions are scoped to. Empty for
	// anonymous callers.
	UserID string `json:"user_id"`

	// Username is the display name, where the authenticator knows it.
	Username string `json:"username,omitempty"`

	// AuthType records how the caller authenticated: "apikey", "jwt" or
	// "anonymous".
	AuthType string `json:"auth_type"`
}

// Anonymous reports whether the identity carries no owner.
func (id *Identity) Anonymous() bool {
	return id.UserID == ""
}

// Authenticator resolves the caller's identity from the request context.
// Implementations return nil with a nil error when their credential type is
// not present; an error means the credential was presented but invalid.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Identity, error)
}

// WithIdentity adds an identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// GetIdentity retrieves the identity from the context, or nil.
func GetIdentity(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityContextKey).(*Identity); ok {
		return id
	}
	return nil
}

// WithToken adds the raw request credential to the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// GetToken retrieves the raw request credential from the context.
func GetToken(ctx context.Context) string {
	if token, ok := ctx.Value(tokenContextKey).(string); ok {
		return token
	}
	return ""
}
