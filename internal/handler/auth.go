// Package handler provides the HTTP handlers for the web app.
package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/JeremySu0818/GeminiAPIChat/internal/middleware"
	"github.com/JeremySu0818/GeminiAPIChat/internal/store"
	"github.com/JeremySu0818/GeminiAPIChat/internal/web"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/logger"
)

// AuthHandler handles the login form and sign-out.
type AuthHandler struct {
	store    *store.Store
	sessions *middleware.SessionManager
	renderer *web.Renderer
	logger   *logger.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(st *store.Store, sessions *middleware.SessionManager, renderer *web.Renderer, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		store:    st,
		sessions: sessions,
		renderer: renderer,
		logger:   log,
	}
}

// LoginForm handles GET /login
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	if h.sessions.Decode(r) != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.renderer.Render(w, http.StatusOK, "login.html", map[string]any{})
}

// LoginSubmit handles POST /login
func (h *AuthHandler) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.Render(w, http.StatusBadRequest, "login.html", map[string]any{
			"Error": "could not read the form",
		})
		return
	}

	username := r.PostFormValue("username")
	if err := middleware.ValidateUsername(username); err != nil {
		h.renderer.Render(w, http.StatusBadRequest, "login.html", map[string]any{
			"Error": err.Error(),
		})
		return
	}

	userID, err := h.store.GetOrCreateUser(username)
	if err != nil {
		h.logger.Error("could not get or create user", zap.Error(err))
		h.renderer.Render(w, http.StatusInternalServerError, "login.html", map[string]any{
			"Error": "something went wrong, try again",
		})
		return
	}

	if err := h.sessions.Issue(w, &middleware.Session{Username: username, UserID: userID}); err != nil {
		h.logger.Error("could not issue session", zap.Error(err))
		h.renderer.Render(w, http.StatusInternalServerError, "login.html", map[string]any{
			"Error": "something went wrong, try again",
		})
		return
	}

	h.logger.Info("user signed in", zap.String("username", username))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout handles GET /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
