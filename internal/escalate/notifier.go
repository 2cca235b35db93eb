package escalate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/inplacehq/onboardbot/internal/session"
)

// Notifier alerts operators that a user was escalated.
type Notifier interface {
	Notify(ctx context.Context, s *session.UserSession, reason string) error
}

// LogNotifier records escalations in the log only.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, s *session.UserSession, reason string) error {
	slog.Warn("user escalated", "user_id", s.UserID, "reason", reason)
	return nil
}

// WebhookNotifier posts escalation alerts to an operator webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, s *session.UserSession, reason string) error {
	payload, _ := json.Marshal(map[string]string{
		"user_id": s.UserID,
		"name":    s.Name,
		"reason":  reason,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("escalation notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("escalation notify: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("escalation notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}
