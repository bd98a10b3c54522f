package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the bearer-token authenticator.
type JWTConfig struct {
	// SigningKey is the HMAC secret tokens must be signed with.
	SigningKey []byte

	// Issuer, when set, must match the token's iss claim.
	Issuer string
}

// JWTAuthenticator authenticates signed HMAC bearer tokens. The token's
// subject claim is used as the owner identifier, letting external identity
// systems mint gateway credentials without an account record.
type JWTAuthenticator struct {
	cfg JWTConfig
}

// NewJWTAuthenticator creates a JWT authenticator.
func NewJWTAuthenticator(cfg JWTConfig) *JWTAuthenticator {
	return &JWTAuthenticator{cfg: cfg}
}

// Authenticate parses and validates the request token as a JWT.
func (a *JWTAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	raw := GetToken(ctx)
	if raw == "" {
		return nil, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("validating token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	return &Identity{
		UserID:   claims.Subject,
		AuthType: "jwt",
	}, nil
}

// Verify interface compliance.
var _ Authenticator = (*JWTAuthenticator)(nil)
