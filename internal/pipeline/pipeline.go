// Package pipeline orchestrates one tutoring exchange: a student message runs
// through intent analysis, knowledge retrieval, response generation, and
// enhancement, each stage a prompt call to the LLM capability. New
// conversations are numbered by the visit selector first, which decides the
// onboarding prompt variant; templates resolve their placeholders against the
// student's stored memory and persona records on the way out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avantifellows/curiosity-coach/internal/cache"
	"github.com/avantifellows/curiosity-coach/internal/placeholder"
	"github.com/avantifellows/curiosity-coach/internal/provider"
	"github.com/avantifellows/curiosity-coach/internal/record"
	"github.com/avantifellows/curiosity-coach/internal/store"
	"github.com/avantifellows/curiosity-coach/internal/visit"
)

// Stage prompt names in the prompts table.
const (
	promptIntentAnalysis     = "intent_analysis"
	promptKnowledgeRetrieval = "knowledge_retrieval"
	promptEnhancement        = "response_enhancement"
)

// Storage is the persistence surface the engine needs.
type Storage interface {
	CreateConversation(ctx context.Context, c *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	AppendMessage(ctx context.Context, m *store.Message) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	GetVisit(ctx context.Context, conversationID string) (visit.Visit, error)
	GetPromptByPurpose(ctx context.Context, purpose visit.Purpose) (*store.Prompt, error)
	GetPromptByName(ctx context.Context, name string) (*store.Prompt, error)
	GetRecord(ctx context.Context, kind record.Kind, id string) (*record.Record, error)
	LatestMemory(ctx context.Context, userID string) (*record.Record, error)
	CountMemories(ctx context.Context, userID string) (int, error)
}

// Completer is the black-box LLM capability: send text, receive text.
type Completer interface {
	Complete(ctx context.Context, req *provider.Request) (*provider.Response, error)
}

// Engine runs the prompt orchestration pipeline.
type Engine struct {
	storage  Storage
	records  *cache.RecordCache
	selector *visit.Selector
	injector *placeholder.Injector
	llm      Completer
	logger   *zap.Logger
	history  int
}

// NewEngine creates an Engine. records may be nil to run without caching.
func NewEngine(storage Storage, records *cache.RecordCache, selector *visit.Selector,
	llm Completer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		storage:  storage,
		records:  records,
		selector: selector,
		injector: placeholder.NewInjector(logger),
		llm:      llm,
		logger:   logger,
		history:  20,
	}
}

// SetHistoryLimit overrides how many prior messages the generation stage sees.
func (e *Engine) SetHistoryLimit(n int) {
	if n > 0 {
		e.history = n
	}
}

// StartResult is the outcome of creating a conversation.
type StartResult struct {
	Conversation *store.Conversation `json:"conversation"`
	Visit        visit.Visit         `json:"visit"`
}

// StartConversation assigns the user's next visit number and then persists the
// conversation row. Selection runs first so the prior-conversation count is
// exact; the visit row has no foreign key, so the ordering is safe. A
// visit.ErrConcurrencyExhausted from the selector propagates unwrapped for the
// caller to surface as retryable.
func (e *Engine) StartConversation(ctx context.Context, userID, title string) (*StartResult, error) {
	convID := uuid.NewString()

	v, err := e.selector.Select(ctx, userID, convID)
	if err != nil {
		return nil, err
	}

	conv := &store.Conversation{
		ID:        convID,
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.storage.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("persist conversation: %w", err)
	}

	e.logger.Info("conversation started",
		zap.String("user_id", userID),
		zap.String("conversation_id", convID),
		zap.Int("visit_number", v.Number),
		zap.String("purpose", string(v.Purpose)))
	return &StartResult{Conversation: conv, Visit: v}, nil
}

// Turn is the result of one pipeline run.
type Turn struct {
	ConversationID string `json:"conversation_id"`
	Intent         string `json:"intent"`
	Content        string `json:"content"`
}

// Respond runs the four-stage pipeline for a student message and persists both
// sides of the exchange.
func (e *Engine) Respond(ctx context.Context, conversationID, userText string) (*Turn, error) {
	conv, err := e.storage.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	v, err := e.storage.GetVisit(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load visit: %w", err)
	}

	if err := e.storage.AppendMessage(ctx, &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "user",
		Content:        userText,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	intent := e.runStage(ctx, promptIntentAnalysis, conv.UserID, userText)
	knowledge := e.runStage(ctx, promptKnowledgeRetrieval, conv.UserID, userText)

	draft, err := e.generate(ctx, conv, v, userText, knowledge)
	if err != nil {
		return nil, err
	}

	final := e.enhance(ctx, conv.UserID, draft)

	if err := e.storage.AppendMessage(ctx, &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        final,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	return &Turn{
		ConversationID: conversationID,
		Intent:         intent,
		Content:        final,
	}, nil
}

// runStage executes an auxiliary prompt stage. Auxiliary stages are best
// effort: a missing template or a provider failure degrades to empty output
// rather than aborting the turn.
func (e *Engine) runStage(ctx context.Context, name, userID, input string) string {
	p, err := e.storage.GetPromptByName(ctx, name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("stage prompt lookup failed", zap.String("stage", name), zap.Error(err))
		}
		return ""
	}

	prompt := e.resolve(ctx, userID, p.Template, true) + input
	resp, err := e.llm.Complete(ctx, &provider.Request{Prompt: prompt})
	if err != nil {
		e.logger.Warn("stage call failed", zap.String("stage", name), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(resp.Content)
}

// generate runs the core response stage with the visit-purposed system prompt.
// This is the one stage whose failure fails the turn.
func (e *Engine) generate(ctx context.Context, conv *store.Conversation, v visit.Visit,
	userText, knowledge string) (string, error) {

	p, err := e.storage.GetPromptByPurpose(ctx, v.Purpose)
	if err != nil {
		return "", fmt.Errorf("load %s prompt: %w", v.Purpose, err)
	}

	// Steady-state persona behavior needs enough generated history behind it.
	// Below the floor the persona record is withheld and the template's
	// persona placeholder degrades to its fallback sentence.
	withPersona := true
	if v.Purpose == visit.PurposeSteadyState {
		count, err := e.storage.CountMemories(ctx, conv.UserID)
		if err != nil {
			e.logger.Warn("memory count failed, withholding persona", zap.Error(err))
			withPersona = false
		} else if count < visit.MemoryFloor {
			e.logger.Info("insufficient memory history for persona",
				zap.String("user_id", conv.UserID),
				zap.Int("memories", count),
				zap.Int("floor", visit.MemoryFloor))
			withPersona = false
		}
	}

	system := e.resolve(ctx, conv.UserID, p.Template, withPersona)
	prompt := e.composeUserPrompt(ctx, conv.ID, userText, knowledge)

	resp, err := e.llm.Complete(ctx, &provider.Request{System: system, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("generate response: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// enhance rewrites the draft for tone. Best effort: on failure the draft
// stands.
func (e *Engine) enhance(ctx context.Context, userID, draft string) string {
	p, err := e.storage.GetPromptByName(ctx, promptEnhancement)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("enhancement prompt lookup failed", zap.Error(err))
		}
		return draft
	}
	resp, err := e.llm.Complete(ctx, &provider.Request{
		Prompt: e.resolve(ctx, userID, p.Template, true) + draft,
	})
	if err != nil {
		e.logger.Warn("enhancement call failed, keeping draft", zap.Error(err))
		return draft
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return draft
	}
	return out
}

// resolve injects placeholder tokens into a template, fetching only the record
// kinds the template references. Placeholder-free templates trigger no
// fetches.
func (e *Engine) resolve(ctx context.Context, userID, template string, withPersona bool) string {
	tokens := placeholder.Extract(template)
	if len(tokens) == 0 {
		return template
	}

	records := make(map[record.Kind]*record.Record)
	for _, kind := range placeholder.KindSet(tokens) {
		if kind == record.UserPersona && !withPersona {
			continue
		}
		records[kind] = e.fetchRecord(ctx, kind, userID)
	}
	return e.injector.Inject(template, records)
}

// fetchRecord reads a record through the cache. Fetch failures degrade to nil,
// which the injector renders as the kind's fallback sentence.
func (e *Engine) fetchRecord(ctx context.Context, kind record.Kind, userID string) *record.Record {
	if rec, ok := e.records.Get(ctx, kind, userID); ok {
		return rec
	}

	var rec *record.Record
	var err error
	switch kind {
	case record.ConversationMemory:
		rec, err = e.storage.LatestMemory(ctx, userID)
	default:
		rec, err = e.storage.GetRecord(ctx, kind, userID)
	}
	if err != nil {
		e.logger.Warn("record fetch failed",
			zap.String("kind", string(kind)),
			zap.String("user_id", userID),
			zap.Error(err))
		return nil
	}
	if rec != nil {
		e.records.Put(ctx, kind, userID, rec)
	}
	return rec
}

// composeUserPrompt folds recent history and retrieved knowledge around the
// student's question.
func (e *Engine) composeUserPrompt(ctx context.Context, conversationID, userText, knowledge string) string {
	var b strings.Builder

	msgs, err := e.storage.GetMessages(ctx, conversationID, e.history)
	if err != nil {
		e.logger.Warn("history fetch failed", zap.Error(err))
	}
	if len(msgs) > 1 {
		b.WriteString("Conversation so far:\n")
		for _, m := range msgs[:len(msgs)-1] {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}
	if knowledge != "" {
		b.WriteString("Relevant background:\n")
		b.WriteString(knowledge)
		b.WriteString("\n\n")
	}
	b.WriteString("Student: ")
	b.WriteString(userText)
	return b.String()
}
