package handler

import (
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/JeremySu0818/GeminiAPIChat/internal/middleware"
	"github.com/JeremySu0818/GeminiAPIChat/internal/service"
	"github.com/JeremySu0818/GeminiAPIChat/internal/store"
	"github.com/JeremySu0818/GeminiAPIChat/internal/web"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/logger"
)

// NewTitleHeader carries a freshly generated conversation title back to
// the page script, URL-escaped so any unicode survives the header.
const NewTitleHeader = "X-New-Conversation-Title"

// ChatHandler handles chat turn submissions.
type ChatHandler struct {
	chat     *service.ChatService
	store    *store.Store
	renderer *web.Renderer
	logger   *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chat *service.ChatService, st *store.Store, renderer *web.Renderer, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chat:     chat,
		store:    st,
		renderer: renderer,
		logger:   log,
	}
}

// Send handles POST /chat. A failed turn still renders as a normal
// turn pair: the placeholder reply is the user-facing error surface.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := middleware.GetSession(ctx)

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "could not read the form")
		return
	}

	conversationID := h.targetConversation(session, r.PostFormValue("conversation_id"))
	if conversationID == 0 {
		writeError(w, http.StatusBadRequest, "no conversation selected")
		return
	}

	userInput := r.PostFormValue("user_input")
	if err := middleware.ValidateMessageContent(userInput); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	modelName := r.PostFormValue("model")
	if err := middleware.ValidateModelName(modelName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.store.GetConversation(conversationID)
	if err != nil {
		h.logger.Error("could not look up conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if conv == nil || conv.UserID != session.UserID {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	result, err := h.chat.Send(ctx, conversationID, modelName, userInput)
	if err != nil {
		h.logger.Error("chat turn failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if result.NewTitle != "" {
		w.Header().Set(NewTitleHeader, url.PathEscape(result.NewTitle))
	}
	h.renderer.Render(w, http.StatusOK, "turn_pair.html", result)
}

// targetConversation prefers the conversation bound to the session and
// falls back to the form field, so a stale tab cannot write into a
// conversation the session has moved away from unless it says so
// explicitly.
func (h *ChatHandler) targetConversation(session *middleware.Session, formValue string) int64 {
	if session.ConversationID != 0 {
		return session.ConversationID
	}
	id, err := strconv.ParseInt(formValue, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
