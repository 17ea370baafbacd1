package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JeremySu0818/GeminiAPIChat/internal/middleware"
	"github.com/JeremySu0818/GeminiAPIChat/internal/model"
	"github.com/JeremySu0818/GeminiAPIChat/internal/modelscan"
	"github.com/JeremySu0818/GeminiAPIChat/internal/store"
	"github.com/JeremySu0818/GeminiAPIChat/internal/web"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/logger"
)

const (
	conversationPageSize = 20
	messagePageSize      = 50
)

// PageHandler renders the main chat page.
type PageHandler struct {
	store    *store.Store
	scanner  *modelscan.Scanner
	sessions *middleware.SessionManager
	renderer *web.Renderer
	logger   *logger.Logger
}

// NewPageHandler creates a new page handler.
func NewPageHandler(
	st *store.Store,
	scanner *modelscan.Scanner,
	sessions *middleware.SessionManager,
	renderer *web.Renderer,
	log *logger.Logger,
) *PageHandler {
	return &PageHandler{
		store:    st,
		scanner:  scanner,
		sessions: sessions,
		renderer: renderer,
		logger:   log,
	}
}

// Index handles GET /. It resolves the active conversation (the one in
// the session when it still exists and belongs to the user, otherwise
// the most recent one, otherwise a fresh placeholder), then renders the
// full page with the usable model list.
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := middleware.GetSession(ctx)

	convs, err := h.store.ListConversations(session.UserID, 0, conversationPageSize)
	if err != nil {
		h.logger.Error("could not list conversations", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	active, convs, err := h.resolveActive(session, convs)
	if err != nil {
		h.logger.Error("could not resolve active conversation", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if session.ConversationID != active.ID {
		session.ConversationID = active.ID
		if err := h.sessions.Issue(w, session); err != nil {
			h.logger.Warn("could not refresh session cookie", zap.Error(err))
		}
	}

	messages, err := h.store.LoadMessages(active.ID, time.Time{}, messagePageSize)
	if err != nil {
		h.logger.Error("could not load messages", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	models := h.scanner.AvailableModels(ctx)

	h.renderer.Render(w, http.StatusOK, "index.html", map[string]any{
		"Username":       session.Username,
		"ConversationID": active.ID,
		"Conversations":  convs,
		"Messages":       messages,
		"Models":         models,
		"DefaultModel":   h.scanner.DefaultModel(ctx),
	})
}

// resolveActive picks the conversation the page should open on,
// creating one when the user has none. The (possibly extended) sidebar
// list is returned alongside it.
func (h *PageHandler) resolveActive(session *middleware.Session, convs []model.Conversation) (*model.Conversation, []model.Conversation, error) {
	if session.ConversationID != 0 {
		conv, err := h.store.GetConversation(session.ConversationID)
		if err != nil {
			return nil, nil, err
		}
		if conv != nil && conv.UserID == session.UserID {
			return conv, convs, nil
		}
	}

	if len(convs) > 0 {
		return &convs[0], convs, nil
	}

	id, err := h.store.CreateConversation(session.UserID, model.DefaultTitle)
	if err != nil {
		return nil, nil, err
	}
	conv, err := h.store.GetConversation(id)
	if err != nil {
		return nil, nil, err
	}
	return conv, []model.Conversation{*conv}, nil
}
