// Package reply generates the assistant's answer for an accepted message:
// sampled escalation and summarization checks, a completion call under a
// retry budget, and canned fallback text when the collaborator is down.
package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/inplacehq/onboardbot/internal/escalate"
	"github.com/inplacehq/onboardbot/internal/providers"
	"github.com/inplacehq/onboardbot/internal/retry"
	"github.com/inplacehq/onboardbot/internal/session"
)

// Sampling cadences. Expensive checks run every Nth accepted message; the
// previous verdict carries forward otherwise.
const (
	escalationEvery    = 3
	summarizationEvery = 10
)

// completionAttempts is the attempt budget for the completion collaborator.
const completionAttempts = 2

// Kind discriminates the reply result variants.
type Kind int

const (
	// KindGenerated is a reply produced by the completion collaborator.
	KindGenerated Kind = iota
	// KindFallback is locally selected canned text after completion failure.
	KindFallback
	// KindHandoff is the notice sent when the conversation is escalated.
	KindHandoff
	// KindUnavailable means no reply should be sent (bot paused).
	KindUnavailable
)

// Result is the outcome of reply generation. Except for KindUnavailable,
// Text is always renderable and never empty.
type Result struct {
	Kind   Kind
	Text   string
	Reason string // fallback/handoff reason, empty for generated replies
}

// Engine orchestrates reply generation for one message.
type Engine struct {
	provider        providers.Completer
	checker         *escalate.Checker
	notifier        escalate.Notifier
	knowledge       func() string // hot-reloadable knowledge base text
	mainModel       string
	classifierModel string
	temperature     float64
	maxTokens       int
	retryCfg        retry.Config
}

// Config configures a new Engine.
type Config struct {
	Provider        providers.Completer
	Checker         *escalate.Checker
	Notifier        escalate.Notifier
	Knowledge       func() string
	MainModel       string
	ClassifierModel string
	Temperature     float64
	MaxTokens       int

	// BaseDelay overrides the 1s backoff base (tests only).
	BaseDelay time.Duration
	// Sleep overrides the backoff sleeper (tests only).
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a reply engine.
func NewEngine(cfg Config) *Engine {
	base := cfg.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = escalate.LogNotifier{}
	}
	knowledge := cfg.Knowledge
	if knowledge == nil {
		knowledge = func() string { return "" }
	}
	return &Engine{
		provider:        cfg.Provider,
		checker:         cfg.Checker,
		notifier:        notifier,
		knowledge:       knowledge,
		mainModel:       cfg.MainModel,
		classifierModel: cfg.ClassifierModel,
		temperature:     cfg.Temperature,
		maxTokens:       cfg.MaxTokens,
		retryCfg: retry.Config{
			MaxAttempts: completionAttempts,
			BaseDelay:   base,
			Retryable:   providers.IsTransient,
			Sleep:       cfg.Sleep,
		},
	}
}

// Reply produces the answer for text. The session's messageCount must already
// reflect this message. The caller holds the per-user session lock.
func (e *Engine) Reply(ctx context.Context, s *session.UserSession, text string) Result {
	if s.Escalated() {
		return Result{Kind: KindUnavailable, Reason: "escalated"}
	}
	lang := s.PreferredLanguage

	// Tier 1: explicit human requests escalate before any completion call.
	if e.checker != nil && e.checker.Immediate(text) {
		return e.escalateSession(ctx, s, "explicit human request", lang)
	}

	// Tier 2: model-based escalation, sampled. On other messages the prior
	// verdict (still active, or already escalated and caught above) stands.
	if e.checker != nil && s.MessageCount%escalationEvery == 0 {
		verdict, err := e.checker.Evaluate(ctx, s, text)
		if err != nil {
			slog.Warn("escalation check failed", "user_id", s.UserID, "error", err)
		} else if verdict.Escalate {
			return e.escalateSession(ctx, s, verdict.Reason, lang)
		}
	}

	// Rolling summary, sampled. Best effort: a failed summary never blocks
	// the reply.
	if s.MessageCount%summarizationEvery == 0 {
		e.summarize(ctx, s)
	}

	answer, err := retry.Do(ctx, e.retryCfg, func() (string, error) {
		return e.complete(ctx, s, text, lang)
	})
	if err == nil && answer != "" {
		return Result{Kind: KindGenerated, Text: answer}
	}
	if err != nil {
		slog.Warn("completion exhausted, selecting fallback",
			"user_id", s.UserID, "error", err)
	}

	intent := classifyIntent(text)
	return Result{
		Kind:   KindFallback,
		Text:   fallbackText(lang, intent),
		Reason: fmt.Sprintf("completion unavailable (intent %s)", intent),
	}
}

func (e *Engine) escalateSession(ctx context.Context, s *session.UserSession, reason, lang string) Result {
	s.Status = session.StatusEscalated
	s.EscalationReason = reason
	if err := e.notifier.Notify(ctx, s, reason); err != nil {
		slog.Error("escalation notification failed", "user_id", s.UserID, "error", err)
	}
	return Result{Kind: KindHandoff, Text: handoffText(lang), Reason: reason}
}

func (e *Engine) complete(ctx context.Context, s *session.UserSession, text, lang string) (string, error) {
	return e.provider.Complete(ctx, providers.Request{
		Messages:    e.buildMessages(s, text, lang),
		Model:       e.mainModel,
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	})
}

// summarize asks the classifier model for a rolling summary of the recent
// window and stores it on the session.
func (e *Engine) summarize(ctx context.Context, s *session.UserSession) {
	turns := s.RecentTurns(40)
	if len(turns) == 0 {
		return
	}
	var lines []string
	for _, turn := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", turn.From, turn.Text))
	}

	prompt := fmt.Sprintf(
		"Summarize this conversation window into 4-7 bullet points (<=120 words), preserving decisions, user preferences, and current step.\n\n--- WINDOW ---\n%s\n--- END ---",
		strings.Join(lines, "\n"))

	summary, err := e.provider.Complete(ctx, providers.Request{
		Model: e.classifierModel,
		Messages: []providers.Message{
			{Role: "system", Content: "You produce concise, faithful summaries."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		slog.Warn("summarization failed", "user_id", s.UserID, "error", err)
		return
	}
	if summary != "" {
		s.Summary = summary
	}
}
