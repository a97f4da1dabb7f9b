package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medidesk/clinicflow/internal/session"
)

// SessionHandler exposes the scope-narrowing login wizard.
type SessionHandler struct {
	negotiator *session.Negotiator
	logger     *zap.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(n *session.Negotiator, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{negotiator: n, logger: logger}
}

// Routes returns the handler routes.
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.State)
	r.Post("/login", h.Login)
	r.Post("/tenant", h.selection(h.negotiator.SelectTenant))
	r.Post("/role", h.selection(h.negotiator.SelectRole))
	r.Post("/org", h.selection(h.negotiator.SelectOrg))
	r.Post("/warehouse", h.selection(h.negotiator.SelectWarehouse))
	r.Post("/back", h.Back)
	r.Post("/logout", h.Logout)
	return r
}

// stateResponse renders a negotiation state with its step tag so the front
// end can switch on it.
func stateResponse(s session.State) map[string]any {
	return map[string]any{"step": s.Step(), "state": s}
}

// State handles GET /session.
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse(h.negotiator.State()))
}

// LoginRequest is the body of POST /session/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /session/login.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	state, err := h.negotiator.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Warn("login failed", zap.String("user", req.Username), zap.Error(err))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(state))
}

// SelectionRequest is the body of the tenant, role, org and warehouse steps.
type SelectionRequest struct {
	ID int `json:"id"`
}

func (h *SessionHandler) selection(sel func(ctx context.Context, id int) (session.State, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		state, err := sel(r.Context(), req.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stateResponse(state))
	}
}

// Back handles POST /session/back.
func (h *SessionHandler) Back(w http.ResponseWriter, r *http.Request) {
	state, err := h.negotiator.GoBack()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(state))
}

// Logout handles POST /session/logout.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.negotiator.Logout(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(h.negotiator.State()))
}
