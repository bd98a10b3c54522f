package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatgate/chatgate/pkg/protocol/simulated"
)

const (
	gwTestSession = "sess-1"
	gwTestPhone   = "15551234567"
)

func newTestGateway(t *testing.T, cfg *Config) *Gateway {
	t.Helper()
	dialer := simulated.NewDialer(simulated.Config{ConnectDelay: time.Millisecond})
	g, err := New(cfg, dialer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestNew_AnonymousMemoryGateway(t *testing.T) {
	g := newTestGateway(t, DefaultConfig())
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	// Anonymous deployment: session endpoints work without a key.
	body := fmt.Sprintf(`{"sessionId":%q,"phoneNumber":%q}`, gwTestSession, gwTestPhone)
	resp, err := srv.Client().Post(srv.URL+"/api/session/create/pair", "application/json",
		strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.NotEmpty(t, decoded["pairingCode"])
}

func TestNew_AuthEnabledRejectsAnonymous(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Enabled = true

	g := newTestGateway(t, cfg)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNew_RegisterThenUseKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Enabled = true

	g := newTestGateway(t, cfg)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/api/register", "application/json",
		strings.NewReader(`{"username":"alice","password":"correct-horse-battery"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	apiKey, _ := decoded["apiKey"].(string)
	require.NotEmpty(t, apiKey)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", apiKey)

	resp2, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	g := newTestGateway(t, DefaultConfig())
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Readiness reports starting until Run flips it.
	resp, err = srv.Client().Get(srv.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNew_FileBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = BackendFile
	cfg.Storage.File.Root = t.TempDir()
	require.NoError(t, cfg.Validate())

	g := newTestGateway(t, cfg)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	body := fmt.Sprintf(`{"sessionId":%q,"phoneNumber":%q}`, gwTestSession, gwTestPhone)
	resp, err := srv.Client().Post(srv.URL+"/api/session/create/pair", "application/json",
		strings.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = "etcd"

	_, err := New(cfg, simulated.NewDialer(simulated.Config{}))
	assert.Error(t, err)
}

func TestRateLimit_Enforced(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RPS = 1
	cfg.RateLimit.Burst = 2

	g := newTestGateway(t, cfg)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	var last int
	for i := 0; i < 4; i++ {
		resp, err := srv.Client().Get(srv.URL + "/api/sessions")
		require.NoError(t, err)
		_ = resp.Body.Close()
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	// Health endpoints bypass the limiter.
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
