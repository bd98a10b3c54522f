package httpapi

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

	"github.com/chatgate/chatgate/pkg/auth"
	"github.com/chatgate/chatgate/pkg/credstore"
	"github.com/chatgate/chatgate/pkg/manager"
	"github.com/chatgate/chatgate/pkg/middleware"
	"github.com/chatgate/chatgate/pkg/protocol/simulated"
	"github.com/chatgate/chatgate/pkg/registry"
	"github.com/chatgate/chatgate/pkg/users"
)

const (
	apiTestUsername = "alice"
	apiTestPassword = "correct-horse-battery"
	apiTestSession  = "sess-1"
	apiTestPhone    = "15551234567"
)

// newTestServer wires the full handler stack over memory stores and the
// simulated protocol dialer.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := credstore.NewMemoryStore()
	reg := registry.New()
	dialer := simulated.NewDialer(simulated.Config{ConnectDelay: time.Millisecond})
	mgr := manager.New(store, reg, dialer, manager.Config{PurgeOnDelete: true})
	t.Cleanup(func() { _ = mgr.Close() })

	svc := users.NewService(users.NewMemoryStore())
	authenticator := auth.NewChainedAuthenticator(auth.ChainedAuthConfig{},
		auth.NewAPIKeyAuthenticator(svc))

	mux := http.NewServeMux()
	New(mgr, svc).Routes(mux, middleware.Auth(authenticator))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, apiKey, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func registerAccount(t *testing.T, srv *httptest.Server, username string) string {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"password":%q}`, username, apiTestPassword)
	resp, decoded := doJSON(t, srv, http.MethodPost, "/api/register", "", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	apiKey, _ := decoded["apiKey"].(string)
	require.NotEmpty(t, apiKey)
	return apiKey
}

func createSessionBody(sessionID string) string {
	return fmt.Sprintf(`{"sessionId":%q,"phoneNumber":%q}`, sessionID, apiTestPhone)
}

func TestRegister(t *testing.T) {
	srv := newTestServer(t)

	resp, decoded := doJSON(t, srv, http.MethodPost, "/api/register", "",
		fmt.Sprintf(`{"username":%q,"password":%q}`, apiTestUsername, apiTestPassword))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["success"])
	assert.NotEmpty(t, decoded["apiKey"])
}

func TestRegister_WeakPassword(t *testing.T) {
	srv := newTestServer(t)

	resp, decoded := doJSON(t, srv, http.MethodPost, "/api/register", "",
		fmt.Sprintf(`{"username":%q,"password":"short"}`, apiTestUsername))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, decoded["error"])
}

func TestRegister_DuplicateUsername(t *testing.T) {
	srv := newTestServer(t)
	registerAccount(t, srv, apiTestUsername)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/register", "",
		fmt.Sprintf(`{"username":%q,"password":%q}`, apiTestUsername, apiTestPassword))

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateSession(t *testing.T) {
	srv := newTestServer(t)
	apiKey := registerAccount(t, srv, apiTestUsername)

	resp, decoded := doJSON(t, srv, http.MethodPost, "/api/session/create/pair", apiKey,
		createSessionBody(apiTestSession))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["success"])

	code, _ := decoded["pairingCode"].(string)
	assert.Regexp(t, `^[A-Z1-9]{4}-[A-Z1-9]{4}$`, code)
}

func TestCreateSession_Unauthorized(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/session/create/pair", "",
		createSessionBody(apiTestSession))

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateSession_MissingFields(t *testing.T) {
	srv := newTestServer(t)
	apiKey := registerAccount(t, srv, apiTestUsername)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/session/create/pair", apiKey,
		`{"sessionId":"x"}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateSession_InvalidJSON(t *testing.T) {
	srv := newTestServer(t)
	apiKey := registerAccount(t, srv, apiTestUsername)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/session/create/pair", apiKey, "{not json")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateSession_Duplicate(t *testing.T) {
	srv := newTestServer(t)
	apiKey := registerAccount(t, srv, apiTestUsername)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/session/create/pair", apiKey,
		createSessionBody(apiTestSession))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodPost, "/api/session/create/pair", apiKey,
		createSessionBody(apiTestSession))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListSessions(t *testing.T) {
	srv := newTestServer(t)
	apiKey := registerAccount(t, srv, apiTestUsername)

	resp, decoded := doJSON(t, srv, http.MethodGet, "/api/sessions", apiKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decoded["sessions"])

	resp, _ = doJSON(t, srv, http.MethodPost, "/api/session/create/pair", apiKey,
		createSessionBody(apiTestSession))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, decoded = doJSON(t, srv, http.MethodGet, "/api/sessions", apiKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sessions, ok := decoded["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)

	first, ok := sessions[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, apiTestSession, first["sessionId"])
	assert.Equal(t, apiTestPhone, first["phoneNumber"])
}

func TestListSessions_ScopedToCaller(t *testing.T) {
	srv := newTestServer(t)
	aliceKey := registerAccount(t, srv, "alice")
	bobKey := registerAccount(t, srv, "bob")

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/session/create/pair", aliceKey,
		createSessionBody("alice-sess"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, decoded := doJSON(t, srv, http.MethodGet, "/api/sessions", bobKey, "")
	assert.Empty(t, decoded["sessions"], "callers must not see each other's sessions")
}

func TestDeleteSession(t *testing.T) {
	srv := newTestServer(t)
	apiKey := registerAccount(t, srv, apiTestUsername)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/session/create/pair", apiKey,
		createSessionBody(apiTestSession))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, decoded := doJSON(t, srv, http.MethodDelete, "/api/session/"+apiTestSession, apiKey, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["success"])

	_, decoded = doJSON(t, srv, http.MethodGet, "/api/sessions", apiKey, "")
	assert.Empty(t, decoded["sessions"])
}

func TestDeleteSession_NotFound(t *testing.T) {
	srv := newTestServer(t)
	apiKey := registerAccount(t, srv, apiTestUsername)

	resp, _ := doJSON(t, srv, http.MethodDelete, "/api/session/nonexistent", apiKey, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSession_OtherOwner(t *testing.T) {
	srv := newTestServer(t)
	aliceKey := registerAccount(t, srv, "alice")
	bobKey := registerAccount(t, srv, "bob")

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/session/create/pair", aliceKey,
		createSessionBody(apiTestSession))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodDelete, "/api/session/"+apiTestSession, bobKey, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
