// Package httpapi provides the gateway's JSON HTTP handlers: account
// registration and the session create/list/delete surface. It maps the
// manager's error taxonomy onto HTTP status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/chatgate/chatgate/pkg/auth"
	"github.com/chatgate/chatgate/pkg/manager"
	"github.com/chatgate/chatgate/pkg/users"
)

// maxBodyBytes bounds request bodies; every payload here is tiny.
const maxBodyBytes = 1 << 20

// Handler serves the gateway API.
type Handler struct {
	mgr   *manager.Manager
	users *users.Service
}

// New creates the API handler.
func New(mgr *manager.Manager, svc *users.Service) *Handler {
	return &Handler{mgr: mgr, users: svc}
}

// Routes registers the API endpoints on mux. The supplied middleware wraps
// the authenticated session endpoints; registration stays outside it so new
// accounts can be created without a key.
func (h *Handler) Routes(mux *http.ServeMux, authed func(http.Handler) http.Handler) {
	mux.Handle("POST /api/register", http.HandlerFunc(h.Register))
	mux.Handle("POST /api/session/create/pair", authed(http.HandlerFunc(h.CreateSession)))
	mux.Handle("GET /api/sessions", authed(http.HandlerFunc(h.ListSessions)))
	mux.Handle("DELETE /api/session/{sessionId}", authed(http.HandlerFunc(h.DeleteSession)))
}

// registerRequest is the body of POST /api/register.
type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an owner account and returns its API key.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := h.users.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Registration successful",
		"apiKey":  u.APIKey,
	})
}

// createSessionRequest is the body of POST /api/session/create/pair.
type createSessionRequest struct {
	SessionID   string `json:"sessionId"`
	PhoneNumber string `json:"phoneNumber"`
}

// CreateSession starts pairing a new session and returns the pairing code.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	code, err := h.mgr.Create(r.Context(), req.SessionID, req.PhoneNumber, ownerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"pairingCode": code,
	})
}

// ListSessions returns the caller's sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := h.mgr.List(r.Context(), ownerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

// DeleteSession tears down a session.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if sessionID == "" {
		writeError(w, r, manager.ErrInvalidInput)
		return
	}

	if err := h.mgr.Delete(r.Context(), sessionID, ownerID(r)); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Session deleted successfully",
	})
}

// ownerID extracts the authenticated owner from the request, empty for
// anonymous deployments.
func ownerID(r *http.Request) string {
	if id := auth.GetIdentity(r.Context()); id != nil {
		return id.UserID
	}
	return ""
}

// decodeBody parses a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy to HTTP statuses. Storage and protocol
// failures are logged with the request ID and surfaced as opaque 500s.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, manager.ErrInvalidInput), errors.Is(err, users.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, manager.ErrAlreadyExists), errors.Is(err, users.ErrUsernameTaken):
		status = http.StatusConflict
	case errors.Is(err, manager.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, manager.ErrBackoff):
		status = http.StatusTooManyRequests
	default:
		status = http.StatusInternalServerError
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"path", r.URL.Path,
			"error", err,
		)
		msg = "internal server error"
	}

	writeJSON(w, status, map[string]string{"error": msg})
}
