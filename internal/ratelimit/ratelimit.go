// Package ratelimit provides per-user sliding-window admission control.
// State is in-process only; cross-process coordination is out of scope.
package ratelimit

import (
	"sync"
	"time"
)

// Scope identifies which window rejected a request.
type Scope string

const (
	ScopeMinute Scope = "minute"
	ScopeHour   Scope = "hour"
)

const (
	minuteWindow = 60 * time.Second
	hourWindow   = time.Hour

	// DefaultPerMinute and DefaultPerHour are the standard admission limits.
	DefaultPerMinute = 10
	DefaultPerHour   = 100
)

// Result is the outcome of an admission check.
type Result struct {
	Allowed    bool
	Scope      Scope         // set when throttled
	RetryAfter time.Duration // time until the oldest violating entry leaves its window
}

type userWindow struct {
	minute []time.Time // most recent first appended; pruned to minuteWindow
	hour   []time.Time // pruned to hourWindow
}

// Limiter admits or throttles messages per user using two sliding windows.
// Windows are pruned lazily on each check; Sweep reclaims idle users.
// Safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	users     map[string]*userWindow
	perMinute int
	perHour   int
	now       func() time.Time
}

// New creates a limiter with the given per-minute and per-hour limits.
// Zero or negative limits fall back to the defaults.
func New(perMinute, perHour int) *Limiter {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	if perHour <= 0 {
		perHour = DefaultPerHour
	}
	return &Limiter{
		users:     make(map[string]*userWindow),
		perMinute: perMinute,
		perHour:   perHour,
		now:       time.Now,
	}
}

// Admit checks whether a message from userID may proceed. When admitted the
// current timestamp is recorded in both windows. The minute window takes
// precedence when both limits are exceeded.
func (l *Limiter) Admit(userID string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.users[userID]
	if !ok {
		w = &userWindow{}
		l.users[userID] = w
	}

	w.minute = prune(w.minute, now, minuteWindow)
	w.hour = prune(w.hour, now, hourWindow)

	if len(w.minute) >= l.perMinute {
		return Result{Scope: ScopeMinute, RetryAfter: minuteWindow - now.Sub(w.minute[0])}
	}
	if len(w.hour) >= l.perHour {
		return Result{Scope: ScopeHour, RetryAfter: hourWindow - now.Sub(w.hour[0])}
	}

	w.minute = append(w.minute, now)
	w.hour = append(w.hour, now)
	return Result{Allowed: true}
}

// Sweep removes users whose hour window has fully expired, reclaiming memory
// for senders that went quiet. Returns the number of users removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, w := range l.users {
		w.hour = prune(w.hour, now, hourWindow)
		if len(w.hour) == 0 {
			delete(l.users, id)
			removed++
		}
	}
	return removed
}

// TrackedUsers returns the number of users currently holding window state.
func (l *Limiter) TrackedUsers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

// prune drops entries older than horizon. Entries are appended in time order,
// so the survivors are a suffix.
func prune(entries []time.Time, now time.Time, horizon time.Duration) []time.Time {
	cut := 0
	for cut < len(entries) && now.Sub(entries[cut]) >= horizon {
		cut++
	}
	if cut == 0 {
		return entries
	}
	return append(entries[:0], entries[cut:]...)
}
