package ratelimit

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time manually.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(perMinute, perHour int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	l := New(perMinute, perHour)
	l.now = clock.now
	return l, clock
}

func TestAdmit_MinuteLimit(t *testing.T) {
	l, clock := newTestLimiter(10, 100)

	for i := 0; i < 10; i++ {
		if res := l.Admit("u"); !res.Allowed {
			t.Fatalf("request %d throttled, want allowed", i+1)
		}
		clock.advance(time.Second)
	}

	res := l.Admit("u")
	if res.Allowed {
		t.Fatal("11th request within a minute was admitted")
	}
	if res.Scope != ScopeMinute {
		t.Fatalf("scope = %s, want minute", res.Scope)
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Fatalf("retryAfter = %s, want within (0, 60s]", res.RetryAfter)
	}

	// After the window passes, admission resumes.
	clock.advance(time.Minute)
	if res := l.Admit("u"); !res.Allowed {
		t.Fatal("request after window reset was throttled")
	}
}

func TestAdmit_HourLimitAcrossMinuteResets(t *testing.T) {
	l, clock := newTestLimiter(10, 100)

	// 100 admissions spread so the minute window never trips.
	for i := 0; i < 100; i++ {
		if res := l.Admit("u"); !res.Allowed {
			t.Fatalf("request %d throttled, want allowed", i+1)
		}
		clock.advance(7 * time.Second)
	}

	res := l.Admit("u")
	if res.Allowed {
		t.Fatal("101st request within the hour was admitted")
	}
	if res.Scope != ScopeHour {
		t.Fatalf("scope = %s, want hour", res.Scope)
	}
}

func TestAdmit_MinutePrecedenceOverHour(t *testing.T) {
	// Limits of 1/min and 1/hour: second request violates both; minute wins.
	l, _ := newTestLimiter(1, 1)

	if res := l.Admit("u"); !res.Allowed {
		t.Fatal("first request throttled")
	}
	res := l.Admit("u")
	if res.Allowed {
		t.Fatal("second request admitted")
	}
	if res.Scope != ScopeMinute {
		t.Fatalf("scope = %s, want minute to take precedence", res.Scope)
	}
}

func TestAdmit_UsersIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, 100)

	if res := l.Admit("a"); !res.Allowed {
		t.Fatal("first request for a throttled")
	}
	if res := l.Admit("b"); !res.Allowed {
		t.Fatal("first request for b throttled despite separate window")
	}
	if res := l.Admit("a"); res.Allowed {
		t.Fatal("second request for a admitted past limit")
	}
}

func TestSweep_ReclaimsIdleUsers(t *testing.T) {
	l, clock := newTestLimiter(10, 100)

	l.Admit("idle")
	l.Admit("busy")
	if got := l.TrackedUsers(); got != 2 {
		t.Fatalf("tracked users = %d, want 2", got)
	}

	clock.advance(30 * time.Minute)
	l.Admit("busy") // refresh busy's hour window

	clock.advance(31 * time.Minute) // idle's entries now past the hour horizon
	removed := l.Sweep()
	if removed != 1 {
		t.Fatalf("sweep removed %d users, want 1", removed)
	}
	if got := l.TrackedUsers(); got != 1 {
		t.Fatalf("tracked users after sweep = %d, want 1", got)
	}
}
