package session

import (
	"path/filepath"
	"testing"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	s, err := store.GetOrCreate("393331112222")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	s.Name = "Mario"
	s.PreferredLanguage = "en"
	s.MessageCount = 4
	s.ProcessedIDs = append(s.ProcessedIDs, "wamid.A1", "wamid.A2")
	s.AddTurn("user", "hello")
	s.AddTurn("bot", "hi there")
	s.Status = StatusEscalated
	s.EscalationReason = "explicit human request"
	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := store.Get("393331112222")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Name != "Mario" || got.PreferredLanguage != "en" || got.MessageCount != 4 {
		t.Fatalf("loaded session = %+v", got)
	}
	if len(got.ProcessedIDs) != 2 || got.ProcessedIDs[1] != "wamid.A2" {
		t.Fatalf("processed IDs = %v", got.ProcessedIDs)
	}
	if len(got.History) != 2 || got.History[1].From != "bot" {
		t.Fatalf("history = %+v", got.History)
	}
	if !got.Escalated() || got.EscalationReason == "" {
		t.Fatal("escalation state lost in round trip")
	}
}

func TestSQLiteStoreList(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	for _, id := range []string{"A", "B", "C"} {
		if _, err := store.GetOrCreate(id); err != nil {
			t.Fatalf("GetOrCreate %s: %v", id, err)
		}
	}
	all, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("sessions = %d, want 3", len(all))
	}
}

func TestSQLiteStoreSaveRecreatesDeletedRow(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	s, err := store.GetOrCreate("393331112222")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// Row removed out of band while the session object is still held.
	if _, err := store.db.Exec(`DELETE FROM user_sessions WHERE user_id = ?`, s.UserID); err != nil {
		t.Fatalf("delete row: %v", err)
	}

	s.MessageCount = 7
	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := store.Get("393331112222")
	if err != nil || !ok {
		t.Fatalf("Get after save: ok=%v err=%v", ok, err)
	}
	if got.MessageCount != 7 {
		t.Fatalf("message count = %d, want 7", got.MessageCount)
	}
}
