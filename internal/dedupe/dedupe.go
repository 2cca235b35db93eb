// Package dedupe recognizes platform redeliveries of already-processed
// messages. Webhook retries and double-taps must not trigger a second reply.
package dedupe

import (
	"github.com/inplacehq/onboardbot/internal/session"
)

// Deduplicator performs check-and-insert against a session's bounded
// processed-ID window. Callers must hold the per-user session lock so that
// concurrent deliveries of the same message cannot both be admitted.
type Deduplicator struct {
	capacity int
}

// New creates a Deduplicator with the standard window capacity.
func New() *Deduplicator {
	return &Deduplicator{capacity: session.MaxProcessedIDs}
}

// IsDuplicate reports whether messageID was already processed for this
// session. On first sight it records the ID, evicting the oldest entry once
// the window is full, and returns false. Duplicates cause no mutation.
func (d *Deduplicator) IsDuplicate(s *session.UserSession, messageID string) bool {
	if messageID == "" {
		return false
	}
	for _, id := range s.ProcessedIDs {
		if id == messageID {
			return true
		}
	}

	s.ProcessedIDs = append(s.ProcessedIDs, messageID)
	if len(s.ProcessedIDs) > d.capacity {
		s.ProcessedIDs = s.ProcessedIDs[len(s.ProcessedIDs)-d.capacity:]
	}
	return false
}
