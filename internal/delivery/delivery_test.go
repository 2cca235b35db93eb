package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inplacehq/onboardbot/internal/providers"
)

type fakeClient struct {
	errs  []error // consumed one per call; nil entry means success
	calls int
}

func (f *fakeClient) Deliver(context.Context, string, string) error {
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeClient) Name() string { return "fake" }

func newTestSender(c Client, sleeps *[]time.Duration) *Sender {
	return NewSender(SenderConfig{
		Client: c,
		Sleep: func(_ context.Context, d time.Duration) error {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
			return nil
		},
	})
}

func TestSend_SucceedsFirstAttempt(t *testing.T) {
	f := &fakeClient{}
	s := newTestSender(f, nil)

	if err := s.Send(context.Background(), "39333", "ciao"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("calls = %d, want 1", f.calls)
	}
}

func TestSend_RetriesWithBackoffSchedule(t *testing.T) {
	var sleeps []time.Duration
	transient := &providers.HTTPError{Status: 502, Body: "bad gateway"}
	f := &fakeClient{errs: []error{transient, transient, nil}}
	s := newTestSender(f, &sleeps)

	if err := s.Send(context.Background(), "39333", "ciao"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d, want 3", f.calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeps) != 2 || sleeps[0] != want[0] || sleeps[1] != want[1] {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
}

func TestSend_ExhaustionIsTerminal(t *testing.T) {
	transient := &providers.HTTPError{Status: 503, Body: "unavailable"}
	f := &fakeClient{errs: []error{transient, transient, transient}}
	s := newTestSender(f, nil)

	err := s.Send(context.Background(), "39333", "ciao")
	if err == nil {
		t.Fatal("Send succeeded, want terminal failure")
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d, want exactly 3 attempts", f.calls)
	}
}

func TestSend_PermanentFailureSkipsRetries(t *testing.T) {
	permanent := &providers.HTTPError{Status: 404, Body: "invalid recipient"}
	f := &fakeClient{errs: []error{permanent}}
	s := newTestSender(f, nil)

	err := s.Send(context.Background(), "bad", "ciao")
	var he *providers.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("err = %v, want wrapped HTTPError", err)
	}
	if f.calls != 1 {
		t.Fatalf("calls = %d, want 1", f.calls)
	}
}

func TestSendOnce_SwallowsFailure(t *testing.T) {
	f := &fakeClient{errs: []error{&providers.HTTPError{Status: 500, Body: "boom"}}}
	s := newTestSender(f, nil)

	s.SendOnce(context.Background(), "39333", "rate limit notice")
	if f.calls != 1 {
		t.Fatalf("calls = %d, want exactly 1 best-effort attempt", f.calls)
	}
}

func TestWhatsAppClient_Deliver(t *testing.T) {
	var gotPath string
	var gotPayload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewWhatsAppClient("token", "12345", WithWhatsAppBaseURL(srv.URL))
	if err := c.Deliver(context.Background(), "393331234567", "Benvenuto!"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if gotPath != "/12345/messages" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotPayload["to"] != "393331234567" || gotPayload["messaging_product"] != "whatsapp" {
		t.Fatalf("payload = %v", gotPayload)
	}
	text, _ := gotPayload["text"].(map[string]interface{})
	if text["body"] != "Benvenuto!" {
		t.Fatalf("body = %v", text)
	}
}

func TestWhatsAppClient_DeliverErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewWhatsAppClient("token", "12345", WithWhatsAppBaseURL(srv.URL))
	err := c.Deliver(context.Background(), "393331234567", "hello")

	var he *providers.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("err = %v, want HTTPError", err)
	}
	if !he.Transient() {
		t.Fatal("429 not classified transient")
	}
}
