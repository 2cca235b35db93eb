// Package delivery sends replies back to the messaging platform, with a
// bounded retry schedule and outbound pacing for platform flood limits.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/inplacehq/onboardbot/internal/providers"
	"github.com/inplacehq/onboardbot/internal/retry"
)

// deliveryAttempts is the attempt budget for the delivery collaborator.
const deliveryAttempts = 3

// Client is one platform's delivery collaborator. Implementations perform a
// single send per call; retry policy belongs to the Sender.
type Client interface {
	Deliver(ctx context.Context, recipient, text string) error
	Name() string
}

// Sender wraps a Client with the retry schedule and outbound pacing.
type Sender struct {
	client   Client
	limiter  *rate.Limiter
	retryCfg retry.Config
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	Client Client

	// MessagesPerSecond paces outbound sends across all users.
	// Zero disables pacing.
	MessagesPerSecond float64

	// BaseDelay overrides the 1s backoff base (tests only).
	BaseDelay time.Duration
	// Sleep overrides the backoff sleeper (tests only).
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewSender creates a sender over the given platform client.
func NewSender(cfg SenderConfig) *Sender {
	base := cfg.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	var limiter *rate.Limiter
	if cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), 1)
	}
	return &Sender{
		client:  cfg.Client,
		limiter: limiter,
		retryCfg: retry.Config{
			MaxAttempts: deliveryAttempts,
			BaseDelay:   base,
			Retryable:   providers.IsTransient,
			Sleep:       cfg.Sleep,
		},
	}
}

// Send delivers text to recipient, retrying transient failures up to the
// attempt budget with 1s/2s backoff between attempts. Exhaustion is terminal
// for the message: the caller must not resend.
func (s *Sender) Send(ctx context.Context, recipient, text string) error {
	_, err := retry.Do(ctx, s.retryCfg, func() (struct{}, error) {
		return struct{}{}, s.deliverOnce(ctx, recipient, text)
	})
	if err != nil {
		return fmt.Errorf("deliver to %s via %s: %w", recipient, s.client.Name(), err)
	}
	return nil
}

// SendOnce makes a single best-effort delivery attempt (throttle notices).
// Failures are logged and swallowed.
func (s *Sender) SendOnce(ctx context.Context, recipient, text string) {
	if err := s.deliverOnce(ctx, recipient, text); err != nil {
		slog.Debug("best-effort delivery failed", "recipient", recipient, "error", err)
	}
}

func (s *Sender) deliverOnce(ctx context.Context, recipient, text string) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return s.client.Deliver(ctx, recipient, text)
}
