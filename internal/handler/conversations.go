package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JeremySu0818/GeminiAPIChat/internal/middleware"
	"github.com/JeremySu0818/GeminiAPIChat/internal/model"
	"github.com/JeremySu0818/GeminiAPIChat/internal/store"
	"github.com/JeremySu0818/GeminiAPIChat/internal/web"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/logger"
)

// ConversationHandler handles the conversation sidebar endpoints.
type ConversationHandler struct {
	store    *store.Store
	sessions *middleware.SessionManager
	renderer *web.Renderer
	logger   *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(st *store.Store, sessions *middleware.SessionManager, renderer *web.Renderer, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:    st,
		sessions: sessions,
		renderer: renderer,
		logger:   log,
	}
}

// List handles GET /conversations and returns the sidebar partial.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	limit := conversationPageSize
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	convs, err := h.store.ListConversations(session.UserID, offset, limit)
	if err != nil {
		h.logger.Error("could not list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.renderer.Render(w, http.StatusOK, "conversation_list.html", map[string]any{
		"Conversations":  convs,
		"ConversationID": session.ConversationID,
	})
}

// Create handles POST /conversation. The new conversation becomes the
// session's active one and its id is returned as plain text.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	id, err := h.store.CreateConversation(session.UserID, model.DefaultTitle)
	if err != nil {
		h.logger.Error("could not create conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	session.ConversationID = id
	if err := h.sessions.Issue(w, session); err != nil {
		h.logger.Warn("could not refresh session cookie", zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, "%d", id)
}

// Show handles GET /conversation/{id} and returns the messages partial.
// An optional `before` cursor pages further back in time. Opening a
// conversation rebinds the session to it.
func (h *ConversationHandler) Show(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	conv := h.owned(w, r, session)
	if conv == nil {
		return
	}

	var before time.Time
	if cursor := r.URL.Query().Get("before"); cursor != "" {
		parsed, err := time.Parse(store.TimeFormat, cursor)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		before = parsed
	}

	messages, err := h.store.LoadMessages(conv.ID, before, messagePageSize)
	if err != nil {
		h.logger.Error("could not load messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Cursor fetches prepend history; only a plain open moves the
	// session.
	if before.IsZero() && session.ConversationID != conv.ID {
		session.ConversationID = conv.ID
		if err := h.sessions.Issue(w, session); err != nil {
			h.logger.Warn("could not refresh session cookie", zap.Error(err))
		}
	}

	h.renderer.Render(w, http.StatusOK, "messages.html", map[string]any{
		"Messages": messages,
	})
}

// Delete handles DELETE /conversation/{id}. Deleting the active
// conversation redirects to the index so a fresh one gets resolved.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	conv := h.owned(w, r, session)
	if conv == nil {
		return
	}

	if err := h.store.DeleteConversation(conv.ID); err != nil {
		h.logger.Error("could not delete conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if session.ConversationID == conv.ID {
		session.ConversationID = 0
		if err := h.sessions.Issue(w, session); err != nil {
			h.logger.Warn("could not refresh session cookie", zap.Error(err))
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Rename handles POST /conversation/{id}/rename.
func (h *ConversationHandler) Rename(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	conv := h.owned(w, r, session)
	if conv == nil {
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "could not read the form")
		return
	}
	title := r.PostFormValue("title")
	if err := middleware.ValidateTitle(title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	title = model.ClampTitle(title)
	if err := h.store.UpdateConversationTitle(conv.ID, title); err != nil {
		h.logger.Error("could not rename conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"title": title})
}

// Reset handles GET /reset: it wipes every conversation the user owns.
func (h *ConversationHandler) Reset(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	if err := h.store.DeleteUserMessages(session.UserID); err != nil {
		h.logger.Error("could not reset history", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	session.ConversationID = 0
	if err := h.sessions.Issue(w, session); err != nil {
		h.logger.Warn("could not refresh session cookie", zap.Error(err))
	}

	h.logger.Info("chat history reset", zap.String("username", session.Username))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// owned parses the {id} route param and loads the conversation when it
// belongs to the session's user, writing the error response itself
// otherwise.
func (h *ConversationHandler) owned(w http.ResponseWriter, r *http.Request, session *middleware.Session) *model.Conversation {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return nil
	}

	conv, err := h.store.GetConversation(id)
	if err != nil {
		h.logger.Error("could not look up conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil
	}
	if conv == nil || conv.UserID != session.UserID {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil
	}
	return conv
}
