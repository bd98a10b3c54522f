package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecker_StateMachine(t *testing.T) {
	c := NewChecker(nil)
	assert.Equal(t, "starting", c.State())
	assert.False(t, c.IsReady())

	c.SetReady()
	assert.Equal(t, "ready", c.State())
	assert.True(t, c.IsReady())

	c.SetDraining()
	assert.Equal(t, "draining", c.State())
	assert.False(t, c.IsReady())
}

func TestLivenessHandler_AlwaysOK(t *testing.T) {
	c := NewChecker(nil)

	rr := httptest.NewRecorder()
	c.LivenessHandler()(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker(func() int { return 2 })

	rr := httptest.NewRecorder()
	c.ReadinessHandler()(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	c.SetReady()
	rr = httptest.NewRecorder()
	c.ReadinessHandler()(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ready","sessions":2}`, rr.Body.String())

	c.SetDraining()
	rr = httptest.NewRecorder()
	c.ReadinessHandler()(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
