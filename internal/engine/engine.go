// ABOUTME: Resolution engine answering caller questions through a strict priority chain
// ABOUTME: Knowledge first, then the LLM, then a human; supervisor replies are learned and spoken back

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/frontdesk-gateway/internal/knowledge"
	"github.com/2389/frontdesk-gateway/internal/llm"
	"github.com/2389/frontdesk-gateway/internal/metrics"
	"github.com/2389/frontdesk-gateway/internal/notify"
	"github.com/2389/frontdesk-gateway/internal/store"
)

// Caller-facing utterances.
const (
	EscalationUtterance = "Let me check with my supervisor and get back to you."
	FallbackUtterance   = "I apologize, but I'm having trouble processing your request. Please try again in a moment."
)

const (
	// DefaultMaxHistoryTurns bounds the conversation context sent to the LLM.
	DefaultMaxHistoryTurns = 10

	// DefaultMaxSessions bounds how many caller sessions keep history.
	DefaultMaxSessions = 1024

	// sideEffectTimeout bounds the logged-only steps after a resolution.
	sideEffectTimeout = 5 * time.Second
)

// ErrEmptyQuestion is returned by Ask for a blank question.
var ErrEmptyQuestion = errors.New("question is required")

// Kind is the shape of an Ask outcome.
type Kind string

const (
	KindAnswered  Kind = "answered"
	KindEscalated Kind = "escalated"
	KindFailed    Kind = "failed"
)

// Source names where an answer came from.
type Source string

const (
	SourcePredefined Source = "predefined"
	SourceLearned    Source = "learned"
	SourceLLM        Source = "llm"
)

// Outcome is the result of Ask. Text is always what the caller should hear.
type Outcome struct {
	Kind      Kind   `json:"kind"`
	Text      string `json:"text"`
	Source    Source `json:"source,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Knowledge is what the engine needs from the knowledge service.
type Knowledge interface {
	Lookup(ctx context.Context, question string) (knowledge.Answer, bool, error)
	Insert(ctx context.Context, tier store.Tier, entry store.KnowledgeEntry) (string, error)
}

// Escalations is what the engine needs from the escalation registry.
type Escalations interface {
	Create(ctx context.Context, question string, caller store.CallerContext) (*store.HelpRequest, error)
	Resolve(ctx context.Context, id, response, resolvedBy string) (*store.HelpRequest, error)
}

// Broadcaster fans events out to subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, event notify.Event) error
}

// LLM answers a question given earlier turns. An empty answer means "don't know".
type LLM interface {
	Answer(ctx context.Context, history []llm.Turn, question string) (string, error)
}

// Speaker delivers text to the caller session that asked.
type Speaker interface {
	Speak(ctx context.Context, caller store.CallerContext, requestID, text string) error
}

// Config wires the engine's collaborators. LLM may be nil to skip that tier.
type Config struct {
	Knowledge   Knowledge
	Escalations Escalations
	Notifier    Broadcaster
	LLM         LLM
	Speaker     Speaker
	Metrics     *metrics.Metrics

	MaxHistoryTurns int
	MaxSessions     int
}

// Engine orchestrates Ask and Resolve. It is safe for concurrent use.
type Engine struct {
	knowledge   Knowledge
	escalations Escalations
	notifier    Broadcaster
	llm         LLM
	speaker     Speaker
	metrics     *metrics.Metrics
	history     *history
	logger      *slog.Logger
}

// New creates an Engine. Pass nil logger for default.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.Knowledge == nil || cfg.Escalations == nil || cfg.Notifier == nil || cfg.Speaker == nil {
		return nil, errors.New("engine: knowledge, escalations, notifier and speaker are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxHistoryTurns == 0 {
		cfg.MaxHistoryTurns = DefaultMaxHistoryTurns
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}

	return &Engine{
		knowledge:   cfg.Knowledge,
		escalations: cfg.Escalations,
		notifier:    cfg.Notifier,
		llm:         cfg.LLM,
		speaker:     cfg.Speaker,
		metrics:     cfg.Metrics,
		history:     newHistory(cfg.MaxHistoryTurns, cfg.MaxSessions),
		logger:      logger.With("component", "engine"),
	}, nil
}

// Ask answers question from the cheapest trustworthy source. It never waits
// for a human: on a miss it records a help request, broadcasts new_request,
// and returns KindEscalated. If the escalation cannot be recorded the outcome
// is KindFailed carrying FallbackUtterance, and the error wraps
// store.ErrUpstreamUnavailable.
func (e *Engine) Ask(ctx context.Context, question string, caller store.CallerContext) (Outcome, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Outcome{}, ErrEmptyQuestion
	}

	logger := e.logger.With("session_id", caller.SessionID)

	answer, ok, err := e.knowledge.Lookup(ctx, question)
	if err != nil {
		// A broken knowledge store still leaves the LLM and a human
		logger.Warn("knowledge lookup failed", "error", err)
	}
	if ok {
		out := Outcome{Kind: KindAnswered, Text: answer.Text, Source: Source(answer.Tier)}
		e.finishAnswer(caller, question, out)
		logger.Info("answered from knowledge", "tier", answer.Tier, "entry_id", answer.EntryID)
		return out, nil
	}

	if text := e.askLLM(ctx, logger, caller.SessionID, question); text != "" {
		out := Outcome{Kind: KindAnswered, Text: text, Source: SourceLLM}
		e.finishAnswer(caller, question, out)
		logger.Info("answered by llm")
		return out, nil
	}

	req, err := e.escalations.Create(ctx, question, caller)
	if err != nil {
		logger.Error("failed to create help request", "error", err)
		e.history.append(caller.SessionID,
			llm.Turn{Role: llm.RoleCaller, Text: question},
			llm.Turn{Role: llm.RoleAssistant, Text: FallbackUtterance},
		)
		if !errors.Is(err, store.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %v", store.ErrUpstreamUnavailable, err)
		}
		return Outcome{Kind: KindFailed, Text: FallbackUtterance}, err
	}

	// Announce before returning so supervisors see the request no later than the caller
	if err := e.notifier.Broadcast(ctx, notify.NewRequestEvent(req)); err != nil {
		logger.Warn("failed to broadcast new request", "request_id", req.ID, "error", err)
	}
	e.metrics.Escalated()
	e.history.append(caller.SessionID,
		llm.Turn{Role: llm.RoleCaller, Text: question},
		llm.Turn{Role: llm.RoleAssistant, Text: EscalationUtterance},
	)

	logger.Info("escalated to supervisor", "request_id", req.ID)
	return Outcome{Kind: KindEscalated, Text: EscalationUtterance, RequestID: req.ID}, nil
}

// askLLM returns the model's answer or "" for any failure.
func (e *Engine) askLLM(ctx context.Context, logger *slog.Logger, sessionID, question string) string {
	if e.llm == nil {
		return ""
	}

	start := time.Now()
	text, err := e.llm.Answer(ctx, e.history.snapshot(sessionID), question)
	e.metrics.ObserveLLM(time.Since(start))
	if err != nil {
		logger.Warn("llm unavailable", "error", err)
		return ""
	}
	if llm.IsNoAnswer(text) {
		return ""
	}
	return strings.TrimSpace(text)
}

func (e *Engine) finishAnswer(caller store.CallerContext, question string, out Outcome) {
	e.metrics.Answered(string(out.Source))
	e.history.append(caller.SessionID,
		llm.Turn{Role: llm.RoleCaller, Text: question},
		llm.Turn{Role: llm.RoleAssistant, Text: out.Text},
	)
}

// Resolve closes a pending help request with the supervisor's response.
// store.ErrNotFound and store.ErrAlreadyResolved pass through unchanged.
// Once the request is resolved, learning, broadcasting and speaking are
// attempted once each; their failures are logged and do not fail Resolve.
func (e *Engine) Resolve(ctx context.Context, requestID, response, resolvedBy string) (*store.HelpRequest, error) {
	req, err := e.escalations.Resolve(ctx, requestID, response, resolvedBy)
	if err != nil {
		e.metrics.Resolution(resolutionResult(err))
		return nil, err
	}
	e.metrics.Resolution("ok")

	logger := e.logger.With("request_id", req.ID, "session_id", req.Caller.SessionID)

	// The resolution is committed; follow-ups run even if the caller's context ends
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	entryID, err := e.knowledge.Insert(ctx, store.TierLearned, store.KnowledgeEntry{
		Question:        req.Question,
		Answer:          req.SupervisorResponse,
		Confidence:      1.0,
		Verified:        false,
		TimesUsed:       0,
		SuccessRate:     1.0,
		SourceRequestID: req.ID,
		SupervisorID:    req.ResolvedBy,
	})
	if err != nil {
		logger.Warn("failed to learn supervisor answer", "error", err)
	} else {
		logger.Info("learned supervisor answer", "entry_id", entryID)
	}

	if err := e.notifier.Broadcast(ctx, notify.SupervisorResponseEvent(req)); err != nil {
		logger.Warn("failed to broadcast supervisor response", "error", err)
	}

	if err := e.speaker.Speak(ctx, req.Caller, req.ID, req.SupervisorResponse); err != nil {
		logger.Warn("failed to speak supervisor response to caller", "error", err)
	}

	e.history.appendIfActive(req.Caller.SessionID, llm.Turn{Role: llm.RoleAssistant, Text: req.SupervisorResponse})
	return req, nil
}

// EndSession forgets a caller session's conversation history. Pending help
// requests from that session stay pending and still resolve normally.
func (e *Engine) EndSession(sessionID string) bool {
	ended := e.history.end(sessionID)
	if ended {
		e.logger.Debug("session ended", "session_id", sessionID)
	}
	return ended
}

func resolutionResult(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrAlreadyResolved):
		return "already_resolved"
	default:
		return "error"
	}
}
