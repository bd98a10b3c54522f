package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/chatgate/chatgate/pkg/auth"
)

const bearerPrefix = "Bearer "

// Auth extracts the request credential (Authorization: Bearer or X-API-Key),
// resolves it through the authenticator, and stores the identity in the
// request context. Requests the authenticator rejects get a 401 JSON error.
func Auth(authenticator auth.Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if token := extractToken(r); token != "" {
				ctx = auth.WithToken(ctx, token)
			}

			id, err := authenticator.Authenticate(ctx)
			if err != nil || id == nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}

			ctx = auth.WithIdentity(ctx, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken gets the credential from the Authorization header, falling
// back to X-API-Key.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimPrefix(h, bearerPrefix)
	}
	return r.Header.Get("X-API-Key")
}

// writeJSONError writes the gateway's error envelope.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
