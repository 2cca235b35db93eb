package dedupe

import (
	"fmt"
	"testing"

	"github.com/inplacehq/onboardbot/internal/session"
)

func TestIsDuplicate_FirstSightRecords(t *testing.T) {
	d := New()
	s := session.New("user1")

	if d.IsDuplicate(s, "m1") {
		t.Fatal("first delivery of m1 reported as duplicate")
	}
	if len(s.ProcessedIDs) != 1 || s.ProcessedIDs[0] != "m1" {
		t.Fatalf("processed IDs = %v, want [m1]", s.ProcessedIDs)
	}

	if !d.IsDuplicate(s, "m1") {
		t.Fatal("redelivery of m1 not reported as duplicate")
	}
	if len(s.ProcessedIDs) != 1 {
		t.Fatalf("duplicate mutated the window: %v", s.ProcessedIDs)
	}
}

func TestIsDuplicate_EmptyIDNeverDuplicate(t *testing.T) {
	d := New()
	s := session.New("user1")

	if d.IsDuplicate(s, "") {
		t.Fatal("empty message ID reported as duplicate")
	}
	if len(s.ProcessedIDs) != 0 {
		t.Fatalf("empty ID was recorded: %v", s.ProcessedIDs)
	}
}

func TestIsDuplicate_FIFOEviction(t *testing.T) {
	d := New()
	s := session.New("user1")

	for i := 0; i < session.MaxProcessedIDs+10; i++ {
		if d.IsDuplicate(s, fmt.Sprintf("m%d", i)) {
			t.Fatalf("fresh message m%d reported as duplicate", i)
		}
		if len(s.ProcessedIDs) > session.MaxProcessedIDs {
			t.Fatalf("window grew past cap: %d", len(s.ProcessedIDs))
		}
	}

	if len(s.ProcessedIDs) != session.MaxProcessedIDs {
		t.Fatalf("window length = %d, want %d", len(s.ProcessedIDs), session.MaxProcessedIDs)
	}
	// Oldest 10 must have been evicted, strictly in order.
	if s.ProcessedIDs[0] != "m10" {
		t.Fatalf("oldest surviving ID = %s, want m10", s.ProcessedIDs[0])
	}
	if d.IsDuplicate(s, "m5") {
		t.Fatal("evicted ID m5 still reported as duplicate")
	}
}
