package auth

import (
	"context"
	"fmt"

	"github.com/chatgate/chatgate/pkg/users"
)

// APIKeyAuthenticator authenticates using the API keys issued at account
// registration.
type APIKeyAuthenticator struct {
	svc *users.Service
}

// NewAPIKeyAuthenticator creates an API key authenticator over the account
// service.
func NewAPIKeyAuthenticator(svc *users.Service) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{svc: svc}
}

// Authenticate resolves the request token as an API key.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, nil
	}

	u, err := a.svc.ResolveAPIKey(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolving api key: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("invalid api key")
	}

	return &Identity{
		UserID:   u.ID,
		Username: u.Username,
		AuthType: "apikey",
	}, nil
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
