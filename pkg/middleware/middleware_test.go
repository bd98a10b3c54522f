package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatgate/chatgate/pkg/auth"
	"github.com/chatgate/chatgate/pkg/users"
)

const (
	mwTestUsername = "alice"
	mwTestPassword = "correct-horse-battery"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	chain := NewChain(tag("first"))
	chain.Use(tag("second"))

	rr := httptest.NewRecorder()
	chain.Wrap(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func newAuthedHandler(t *testing.T) (http.Handler, *users.User) {
	t.Helper()
	svc := users.NewService(users.NewMemoryStore())
	u, err := svc.Register(context.Background(), mwTestUsername, mwTestPassword)
	require.NoError(t, err)

	authenticator := auth.NewChainedAuthenticator(auth.ChainedAuthConfig{},
		auth.NewAPIKeyAuthenticator(svc))

	handler := Auth(authenticator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.GetIdentity(r.Context())
		require.NotNil(t, id)
		assert.Equal(t, u.ID, id.UserID)
		w.WriteHeader(http.StatusOK)
	}))
	return handler, u
}

func TestAuth_APIKeyHeader(t *testing.T) {
	handler, u := newAuthedHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("X-API-Key", u.APIKey)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuth_BearerHeader(t *testing.T) {
	handler, u := newAuthedHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+u.APIKey)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuth_MissingCredential(t *testing.T) {
	handler, _ := newAuthedHandler(t)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":"invalid or missing API key"}`, rr.Body.String())
}

func TestAuth_InvalidCredential(t *testing.T) {
	handler, _ := newAuthedHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("X-API-Key", "bogus-key")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RPS: 1, Burst: 3})
	defer rl.Close()

	handler := rl.Middleware()(okHandler())

	var got []int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		got = append(got, rr.Code)
	}

	assert.Equal(t, []int{200, 200, 200, 429, 429}, got)
}

func TestRateLimiter_PerClientBuckets(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RPS: 1, Burst: 1})
	defer rl.Close()

	handler := rl.Middleware()(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1111"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:2222"), "same host shares a bucket")
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1111"), "another host gets its own bucket")
}

func TestRequestID_Generated(t *testing.T) {
	var ctxID string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, ctxID)
	assert.Equal(t, ctxID, rr.Header().Get("X-Request-Id"))
}

func TestRequestID_PropagatesCallerID(t *testing.T) {
	var ctxID string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "caller-chosen-id")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "caller-chosen-id", ctxID)
	assert.Equal(t, "caller-chosen-id", rr.Header().Get("X-Request-Id"))
}

func TestLogging_PassesThrough(t *testing.T) {
	handler := Logging()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}
