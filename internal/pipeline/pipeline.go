// Package pipeline orchestrates inbound message processing as a per-message
// state machine: dedup, rate admission, language resolution, reply generation,
// and delivery. Each message runs in its own supervised task after the webhook
// layer has already acknowledged.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/inplacehq/onboardbot/internal/bus"
	"github.com/inplacehq/onboardbot/internal/dedupe"
	"github.com/inplacehq/onboardbot/internal/delivery"
	"github.com/inplacehq/onboardbot/internal/language"
	"github.com/inplacehq/onboardbot/internal/ratelimit"
	"github.com/inplacehq/onboardbot/internal/reply"
	"github.com/inplacehq/onboardbot/internal/session"
)

// State is a stage or terminal of message processing.
type State string

const (
	StateReceived         State = "received"
	StateDeduplicated     State = "deduplicated"
	StateRateChecked      State = "rate_checked"
	StateLanguageResolved State = "language_resolved"
	StateReplied          State = "replied"
	StateDelivered        State = "delivered"

	StateDroppedMalformed State = "dropped_malformed"
	StateDroppedDuplicate State = "dropped_duplicate"
	StateThrottled        State = "throttled"
	StateDeliveryFailed   State = "delivery_failed"
	StatePaused           State = "paused"
	StateFailed           State = "failed"
)

// Outcome is the observable result of one message's run. No caller awaits it;
// it exists so completion and failure are loggable and testable.
type Outcome struct {
	RunID     string
	MessageID string
	UserID    string
	State     State
	Err       error
}

// Dispatcher runs the pipeline. All mutations of one user's session happen
// under that user's lock; different users proceed fully in parallel.
type Dispatcher struct {
	store    session.Store
	dedup    *dedupe.Deduplicator
	limiter  *ratelimit.Limiter
	detector *language.Detector
	engine   *reply.Engine
	sender   *delivery.Sender

	locks  *session.UserLocks
	wg     sync.WaitGroup
	onDone func(Outcome)
}

// Config wires a Dispatcher.
type Config struct {
	Store    session.Store
	Limiter  *ratelimit.Limiter
	Detector *language.Detector
	Engine   *reply.Engine
	Sender   *delivery.Sender

	// Locks is the per-user lock table, shared with any other writer of
	// session state (the admin surface). Nil creates a private table.
	Locks *session.UserLocks

	// OnDone observes every finished run (optional).
	OnDone func(Outcome)
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	locks := cfg.Locks
	if locks == nil {
		locks = session.NewUserLocks()
	}
	return &Dispatcher{
		store:    cfg.Store,
		dedup:    dedupe.New(),
		limiter:  cfg.Limiter,
		detector: cfg.Detector,
		engine:   cfg.Engine,
		sender:   cfg.Sender,
		locks:    locks,
		onDone:   cfg.OnDone,
	}
}

// Dispatch schedules msg for processing and returns immediately. The webhook
// handler calls this after acknowledging the platform. A panic in one
// message's task is contained and reported through the outcome; it never
// reaches the acknowledger or other users' tasks.
func (d *Dispatcher) Dispatch(msg bus.InboundMessage) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		runID := fmt.Sprintf("msg-%s", uuid.NewString()[:8])
		outcome := Outcome{RunID: runID, MessageID: msg.ID, UserID: msg.Sender, State: StateReceived}

		defer func() {
			if r := recover(); r != nil {
				outcome.State = StateFailed
				outcome.Err = fmt.Errorf("panic: %v", r)
				slog.Error("pipeline task panicked", "run_id", runID, "user_id", msg.Sender, "panic", r)
			}
			d.finish(outcome)
		}()

		outcome = d.Process(context.Background(), runID, msg)
	}()
}

// Wait blocks until all in-flight message tasks finish (shutdown drain).
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) finish(o Outcome) {
	if o.Err != nil {
		slog.Error("pipeline finished", "run_id", o.RunID, "user_id", o.UserID, "state", o.State, "error", o.Err)
	} else {
		slog.Info("pipeline finished", "run_id", o.RunID, "user_id", o.UserID, "state", o.State)
	}
	if d.onDone != nil {
		d.onDone(o)
	}
}

// Process runs the state machine for one message synchronously. Exposed for
// the dispatch goroutine and tests.
func (d *Dispatcher) Process(ctx context.Context, runID string, msg bus.InboundMessage) Outcome {
	outcome := Outcome{RunID: runID, MessageID: msg.ID, UserID: msg.Sender, State: StateReceived}

	if !msg.Valid() {
		slog.Info("dropping malformed envelope", "run_id", runID, "message_id", msg.ID)
		outcome.State = StateDroppedMalformed
		return outcome
	}

	// Per-user mutual exclusion: dedup check-and-insert, rate admission and
	// session mutation must not interleave for the same user.
	unlock := d.locks.Lock(msg.Sender)
	defer unlock()

	s, err := d.store.GetOrCreate(msg.Sender)
	if err != nil {
		outcome.State = StateFailed
		outcome.Err = fmt.Errorf("load session: %w", err)
		return outcome
	}
	if s.Name == "" {
		if name := msg.Metadata["profile_name"]; name != "" {
			s.Name = name
		}
	}

	if d.dedup.IsDuplicate(s, msg.ID) {
		outcome.State = StateDroppedDuplicate
		return outcome
	}
	outcome.State = StateDeduplicated

	// Bot paused after escalation: the dedup mark still persists so platform
	// redeliveries stay idempotent, but no reply is generated.
	if s.Escalated() {
		outcome.State = StatePaused
		outcome.Err = d.save(s)
		return outcome
	}

	if res := d.limiter.Admit(msg.Sender); !res.Allowed {
		d.sender.SendOnce(ctx, msg.Sender, throttleNotice(s.PreferredLanguage))
		outcome.State = StateThrottled
		outcome.Err = d.save(s)
		return outcome
	}
	outcome.State = StateRateChecked

	lang, _ := d.detector.Resolve(s, msg.Text)
	s.MessageCount++
	s.AddTurn("user", msg.Text)
	outcome.State = StateLanguageResolved

	result := d.engine.Reply(ctx, s, msg.Text)
	if result.Kind == reply.KindUnavailable {
		outcome.State = StatePaused
		outcome.Err = d.save(s)
		return outcome
	}
	outcome.State = StateReplied

	s.AddTurn("bot", result.Text)
	if !s.Escalated() {
		s.Status = session.StatusReplied
	}

	// Persist before delivery: a crash mid-delivery loses the message
	// (at-most-once), it must not produce a duplicate reply on redelivery.
	if err := d.save(s); err != nil {
		outcome.State = StateFailed
		outcome.Err = err
		return outcome
	}

	if err := d.sender.Send(ctx, msg.Sender, result.Text); err != nil {
		// Terminal: no resend path for this message.
		outcome.State = StateDeliveryFailed
		outcome.Err = fmt.Errorf("unrecoverable delivery failure: %w", err)
		return outcome
	}

	outcome.State = StateDelivered
	slog.Debug("reply delivered", "run_id", runID, "user_id", msg.Sender, "language", lang, "kind", result.Kind)
	return outcome
}

func (d *Dispatcher) save(s *session.UserSession) error {
	if err := d.store.Save(s); err != nil {
		return fmt.Errorf("save session %s: %w", s.UserID, err)
	}
	return nil
}

var throttleNotices = map[string]string{
	language.Italian: "Stai inviando messaggi troppo velocemente. Attendi un momento e riprova.",
	language.English: "You're sending messages too quickly. Please wait a moment and try again.",
}

func throttleNotice(lang string) string {
	if text, ok := throttleNotices[lang]; ok {
		return text
	}
	return throttleNotices[language.Italian]
}
