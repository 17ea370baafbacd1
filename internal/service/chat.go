// Package service provides the chat orchestration logic.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JeremySu0818/GeminiAPIChat/internal/llm"
	"github.com/JeremySu0818/GeminiAPIChat/internal/model"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/logger"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/metrics"
)

// FailureReply is the fixed user-facing stand-in returned when the
// remote call fails. The failed turn is never persisted; the user must
// resubmit after the key failover.
const FailureReply = "[An error occurred. Please refresh the page and send your message again.]"

const titlePrompt = "Give a short, catchy title (at most six words, title only, no quotes) " +
	"for a conversation that starts with the following message:\n"

// ConversationStore is the slice of the persistence layer the
// orchestrator needs.
type ConversationStore interface {
	GetConversation(id int64) (*model.Conversation, error)
	LoadMessages(conversationID int64, before time.Time, limit int) ([]model.Message, error)
	SaveMessage(conversationID int64, role model.Role, text string) (*model.Message, error)
	UpdateConversationTitle(id int64, title string) error
}

// Rescanner refreshes the usable-model cache after a key failover.
type Rescanner interface {
	Reping(ctx context.Context) []string
}

// TurnResult is the outcome of one chat turn.
type TurnResult struct {
	UserText string
	Reply    string
	NewTitle string
	Failed   bool
}

// ChatService assembles the conversation thread, calls the remote model,
// and persists successful exchanges.
type ChatService struct {
	store        ConversationStore
	source       llm.ClientSource
	scanner      Rescanner
	systemPrompt string
	historyLimit int
	timeout      time.Duration
	log          *logger.Logger
}

// NewChatService creates a chat service.
func NewChatService(
	store ConversationStore,
	source llm.ClientSource,
	scanner Rescanner,
	systemPrompt string,
	historyLimit int,
	timeout time.Duration,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		store:        store,
		source:       source,
		scanner:      scanner,
		systemPrompt: systemPrompt,
		historyLimit: historyLimit,
		timeout:      timeout,
		log:          log,
	}
}

// Send runs one chat turn: thread assembly, remote call, persistence,
// title generation. On remote failure it rotates the API key, refreshes
// the model cache, and returns the placeholder reply without persisting
// anything.
func (s *ChatService) Send(ctx context.Context, conversationID int64, modelName, userInput string) (*TurnResult, error) {
	history, err := s.store.LoadMessages(conversationID, time.Time{}, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	// System prompt first, stored history in timestamp order, the new
	// turn last.
	thread := make([]llm.ChatMessage, 0, len(history)+2)
	thread = append(thread, llm.ChatMessage{Role: string(model.RoleSystem), Content: s.systemPrompt})
	for _, m := range history {
		thread = append(thread, llm.ChatMessage{Role: string(m.Role), Content: m.Text})
	}
	thread = append(thread, llm.ChatMessage{Role: string(model.RoleUser), Content: userInput})

	reply, err := s.complete(ctx, modelName, thread)
	if err != nil {
		s.failover(ctx, modelName, err)
		return &TurnResult{UserText: userInput, Reply: FailureReply, Failed: true}, nil
	}

	if _, err := s.store.SaveMessage(conversationID, model.RoleUser, userInput); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}
	if _, err := s.store.SaveMessage(conversationID, model.RoleModel, reply); err != nil {
		return nil, fmt.Errorf("save model reply: %w", err)
	}

	result := &TurnResult{UserText: userInput, Reply: reply}
	result.NewTitle = s.maybeGenerateTitle(ctx, conversationID, modelName, userInput)
	return result, nil
}

func (s *ChatService) complete(ctx context.Context, modelName string, messages []llm.ChatMessage) (string, error) {
	client, err := s.source.Client()
	if err != nil {
		return "", err
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.Complete(cctx, &llm.CompletionRequest{
		Model:    modelName,
		Messages: messages,
	})
	if err != nil {
		metrics.RecordLLMCall(modelName, "error", time.Since(start).Seconds(), 0, 0)
		return "", err
	}
	metrics.RecordLLMCall(modelName, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	return resp.Content, nil
}

// failover rotates to the next API key and rescans model availability
// under it. The rescan is expensive but keeps the model list honest for
// the key now in use.
func (s *ChatService) failover(ctx context.Context, modelName string, cause error) {
	s.log.Warn("model call failed, rotating API key",
		zap.String("model", modelName),
		zap.Error(cause),
	)

	if _, err := s.source.Rotate(); err != nil {
		s.log.Error("could not build client for next API key", zap.Error(err))
	}

	// The request's deadline may already be spent; the rescan still has
	// to run to completion under the new key.
	s.scanner.Reping(context.WithoutCancel(ctx))
}

// maybeGenerateTitle asks the model for a short title the first time a
// conversation gets a successful turn. Once a non-placeholder title is
// set it is never overwritten. Returns the new title, or "" when none
// was generated.
func (s *ChatService) maybeGenerateTitle(ctx context.Context, conversationID int64, modelName, userInput string) string {
	conv, err := s.store.GetConversation(conversationID)
	if err != nil || conv == nil || conv.Title != model.DefaultTitle {
		return ""
	}

	client, err := s.source.Client()
	if err != nil {
		return ""
	}

	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := client.Complete(tctx, &llm.CompletionRequest{
		Model: modelName,
		Messages: []llm.ChatMessage{
			{Role: string(model.RoleUser), Content: titlePrompt + userInput},
		},
	})
	if err != nil {
		s.log.Warn("title generation failed", zap.Error(err))
		return ""
	}

	title := model.ClampTitle(strings.TrimSpace(resp.Content))
	if title == "" {
		return ""
	}
	if err := s.store.UpdateConversationTitle(conversationID, title); err != nil {
		s.log.Warn("could not update conversation title", zap.Error(err))
		return ""
	}
	return title
}
