// Package session holds per-user conversation state and the storage backends
// that persist it. A UserSession is created on the first message from a user
// and mutated on every accepted message; it is never deleted by the pipeline.
package session

import (
	"time"
)

const (
	// MaxProcessedIDs caps the dedup window per user. Oldest IDs are evicted
	// first once the cap is reached.
	MaxProcessedIDs = 100

	// MaxHistoryTurns caps stored conversation turns per user. The rolling
	// summary preserves older context after trimming.
	MaxHistoryTurns = 200

	// DefaultLanguage is the preferred language assigned to new sessions.
	DefaultLanguage = "it"
)

// Session status values. StatusSent marks sessions created by an outbound
// onboarding campaign before the candidate has replied.
const (
	StatusActive    = "active"
	StatusSent      = "sent"
	StatusReplied   = "replied"
	StatusEscalated = "escalated"
)

// Turn is one entry of a session's conversation history.
type Turn struct {
	From string    `json:"from"` // "user", "bot", "admin"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// UserSession is the persistent per-user state.
type UserSession struct {
	UserID            string    `json:"user_id"` // platform handle (phone number)
	Name              string    `json:"name,omitempty"`
	ProcessedIDs      []string  `json:"processed_ids"`      // bounded FIFO dedup window
	PreferredLanguage string    `json:"preferred_language"` // never empty
	MessageCount      int64     `json:"message_count"`      // accepted messages, monotonic
	Status            string    `json:"status"`
	EscalationReason  string    `json:"escalation_reason,omitempty"`
	History           []Turn    `json:"history,omitempty"`
	Summary           string    `json:"summary,omitempty"`
	Created           time.Time `json:"created"`
	Updated           time.Time `json:"updated"`
}

// New returns a fresh session with default field values.
func New(userID string) *UserSession {
	now := time.Now()
	return &UserSession{
		UserID:            userID,
		ProcessedIDs:      []string{},
		PreferredLanguage: DefaultLanguage,
		Status:            StatusActive,
		Created:           now,
		Updated:           now,
	}
}

// Escalated reports whether the bot is paused for this user.
func (s *UserSession) Escalated() bool { return s.Status == StatusEscalated }

// AddTurn appends a conversation turn, trimming the oldest entries past the cap.
func (s *UserSession) AddTurn(from, text string) {
	s.History = append(s.History, Turn{From: from, Text: text, At: time.Now()})
	if len(s.History) > MaxHistoryTurns {
		s.History = s.History[len(s.History)-MaxHistoryTurns:]
	}
	s.Updated = time.Now()
}

// RecentTurns returns up to n most recent user/bot/admin turns.
func (s *UserSession) RecentTurns(n int) []Turn {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	start := len(s.History) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(s.History)-start)
	copy(out, s.History[start:])
	return out
}

// Store is the persistence collaborator for user sessions.
// Implementations must be safe for concurrent use; callers that mutate a
// returned *UserSession must additionally hold that user's entry in the
// shared UserLocks table, so a session is only ever mutated by one goroutine
// at a time.
type Store interface {
	// GetOrCreate loads the session for userID, creating it with default
	// field values on first contact.
	GetOrCreate(userID string) (*UserSession, error)

	// Get loads an existing session without creating one.
	Get(userID string) (*UserSession, bool, error)

	// Save persists the session after mutation.
	Save(s *UserSession) error

	// List returns all known sessions (admin/report views).
	List() ([]*UserSession, error)

	// Close releases backend resources.
	Close() error
}
