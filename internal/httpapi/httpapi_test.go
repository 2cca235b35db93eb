package httpapi

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/inplacehq/onboardbot/internal/bus"
	"github.com/inplacehq/onboardbot/internal/delivery"
	"github.com/inplacehq/onboardbot/internal/session"
)

func TestWebhookVerify(t *testing.T) {
	h := NewWebhookHandler("secret-token", func(bus.InboundMessage) {})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=secret-token", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/webhook?"+tt.query, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

const sampleEnvelope = `{
	"object": "whatsapp_business_account",
	"entry": [{"changes": [{"value": {
		"contacts": [{"wa_id": "393331112222", "profile": {"name": "Mario"}}],
		"messages": [
			{"from": "393331112222", "id": "wamid.A1", "timestamp": "1714000000", "type": "text", "text": {"body": "ciao"}},
			{"from": "393331112222", "id": "wamid.A2", "timestamp": "1714000001", "type": "image"}
		]
	}}]}]
}`

func TestWebhookEvent(t *testing.T) {
	var got []bus.InboundMessage
	h := NewWebhookHandler("secret-token", func(m bus.InboundMessage) { got = append(got, m) })
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(sampleEnvelope))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(got) != 1 {
		t.Fatalf("dispatched = %d messages, want 1 (image skipped)", len(got))
	}
	m := got[0]
	if m.ID != "wamid.A1" || m.Sender != "393331112222" || m.Text != "ciao" {
		t.Fatalf("message = %+v", m)
	}
	if m.Metadata["profile_name"] != "Mario" {
		t.Fatalf("profile name = %q", m.Metadata["profile_name"])
	}
}

func TestWebhookEvent_UnparseableStill200(t *testing.T) {
	called := false
	h := NewWebhookHandler("secret-token", func(bus.InboundMessage) { called = true })
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/webhook", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if called {
		t.Fatal("dispatch called for unparseable payload")
	}
}

type stubClient struct {
	sent []string
}

func (c *stubClient) Deliver(_ context.Context, recipient, text string) error {
	c.sent = append(c.sent, recipient+": "+text)
	return nil
}

func (c *stubClient) Name() string { return "stub" }

type stubTemplateSender struct {
	mu   sync.Mutex
	sent []string
}

func (c *stubTemplateSender) DeliverTemplate(_ context.Context, recipient, firstName string, _ delivery.Template) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, recipient+": "+firstName)
	return nil
}

func newAdminMux(t *testing.T, cfg AdminConfig) *http.ServeMux {
	t.Helper()
	if cfg.Token == "" {
		cfg.Token = "admin-token"
	}
	h := NewAdminHandler(cfg)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func adminMux(t *testing.T, store session.Store, client *stubClient) *http.ServeMux {
	t.Helper()
	sender := delivery.NewSender(delivery.SenderConfig{Client: client})
	return newAdminMux(t, AdminConfig{Store: store, Sender: sender})
}

func adminRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer admin-token")
	return req
}

func TestAdmin_AuthRequired(t *testing.T) {
	mux := adminMux(t, session.NewMemoryStore(), &stubClient{})

	req := httptest.NewRequest("GET", "/admin/escalated", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdmin_EscalatedList(t *testing.T) {
	store := session.NewMemoryStore()
	s, _ := store.GetOrCreate("U1")
	s.Status = session.StatusEscalated
	s.EscalationReason = "explicit human request"
	store.Save(s)
	store.GetOrCreate("U2")

	mux := adminMux(t, store, &stubClient{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("GET", "/admin/escalated", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "U1") || strings.Contains(body, "U2") {
		t.Fatalf("escalated list = %s", body)
	}
}

func TestAdmin_ReplyDeliversAndRecordsTurn(t *testing.T) {
	store := session.NewMemoryStore()
	store.GetOrCreate("U1")
	client := &stubClient{}
	mux := adminMux(t, store, client)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("POST", "/admin/sessions/U1/reply", `{"text":"un operatore ti risponde"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(client.sent) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(client.sent))
	}
	s, _, _ := store.Get("U1")
	if len(s.History) != 1 || s.History[0].From != "admin" {
		t.Fatalf("history = %+v", s.History)
	}
}

func TestAdmin_ReplyUnknownSession(t *testing.T) {
	mux := adminMux(t, session.NewMemoryStore(), &stubClient{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("POST", "/admin/sessions/ghost/reply", `{"text":"hi"}`))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAdmin_ResumeClearsEscalationAndTrimsHistory(t *testing.T) {
	store := session.NewMemoryStore()
	s, _ := store.GetOrCreate("U1")
	s.Status = session.StatusEscalated
	s.EscalationReason = "frustration"
	for i := 0; i < 10; i++ {
		s.AddTurn("user", "msg")
	}
	store.Save(s)

	mux := adminMux(t, store, &stubClient{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("POST", "/admin/sessions/U1/resume", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	s, _, _ = store.Get("U1")
	if s.Escalated() {
		t.Fatal("session still escalated after resume")
	}
	if s.EscalationReason != "" {
		t.Fatalf("reason = %q, want cleared", s.EscalationReason)
	}
	if len(s.History) != resumeKeepTurns {
		t.Fatalf("history length = %d, want %d", len(s.History), resumeKeepTurns)
	}
}

func TestAdmin_Stats(t *testing.T) {
	store := session.NewMemoryStore()

	a, _ := store.GetOrCreate("A")
	a.Status = session.StatusEscalated
	a.EscalationReason = "frustration"
	a.AddTurn("user", "non funziona")
	a.AddTurn("bot", "mi dispiace")
	store.Save(a)

	b, _ := store.GetOrCreate("B")
	b.Status = session.StatusReplied
	for i := 0; i < 6; i++ {
		b.AddTurn("bot", "step")
	}
	store.Save(b)

	c, _ := store.GetOrCreate("C")
	c.Status = session.StatusSent
	store.Save(c)

	mux := adminMux(t, store, &stubClient{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("GET", "/admin/stats", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`"total_users":3`,
		`"total_messages":8`,
		`"average_conversation_length":2.67`,
		`"user_messages":1`,
		`"bot_messages":7`,
		`"admin_messages":0`,
		`"sent":1`,
		`"replied":1`,
		`"completed_onboarding":1`,
		`"escalated":1`,
		`"with_reason":1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("stats body %s missing %s", body, want)
		}
	}
}

func TestAdmin_ChatsListsLastMessages(t *testing.T) {
	store := session.NewMemoryStore()

	a, _ := store.GetOrCreate("A")
	a.Name = "Mario Rossi"
	a.AddTurn("user", "ciao")
	a.AddTurn("bot", "benvenuto")
	store.Save(a)
	store.GetOrCreate("B") // no history yet

	mux := adminMux(t, store, &stubClient{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, adminRequest("GET", "/admin/chats", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"last_message":"benvenuto"`) || !strings.Contains(body, `"last_sender":"bot"`) {
		t.Fatalf("chats body = %s", body)
	}
	if strings.Contains(body, `"user_id":"B"`) {
		t.Fatalf("empty conversation listed: %s", body)
	}
}

func campaignUpload(t *testing.T, rows [][]string) *http.Request {
	t.Helper()
	xls := excelize.NewFile()
	sheet := xls.GetSheetName(0)
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := xls.SetSheetRow(sheet, cellRef, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := xls.WriteToBuffer()
	if err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "candidates.xlsx")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(buf.Bytes()); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/admin/campaign", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer admin-token")
	return req
}

func TestAdmin_CampaignSendsTemplates(t *testing.T) {
	store := session.NewMemoryStore()
	store.GetOrCreate("393331119999") // already onboarded, must be skipped

	templates := &stubTemplateSender{}
	mux := newAdminMux(t, AdminConfig{
		Store:     store,
		Sender:    delivery.NewSender(delivery.SenderConfig{Client: &stubClient{}}),
		Templates: templates,
		Template:  delivery.Template{Name: "onboarding_named", LanguageCode: "it"},
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, campaignUpload(t, [][]string{
		{"name", "surname", "phone_number"},
		{"Mario", "Rossi", "+39 333 111 2222"},
		{"Giulia", "Bianchi", "393331119999"},
		{"", "", ""},
	}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{`"added":1`, `"skipped":1`} {
		if !strings.Contains(body, want) {
			t.Fatalf("campaign body %s missing %s", body, want)
		}
	}

	if len(templates.sent) != 1 || templates.sent[0] != "393331112222: Mario" {
		t.Fatalf("template sends = %v", templates.sent)
	}
	s, ok, _ := store.Get("393331112222")
	if !ok {
		t.Fatal("campaign session not created")
	}
	if s.Status != session.StatusSent || s.Name != "Mario Rossi" {
		t.Fatalf("campaign session = %+v", s)
	}
}

func TestAdmin_CampaignUnsupportedChannel(t *testing.T) {
	mux := newAdminMux(t, AdminConfig{
		Store:  session.NewMemoryStore(),
		Sender: delivery.NewSender(delivery.SenderConfig{Client: &stubClient{}}),
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, campaignUpload(t, [][]string{
		{"name", "surname", "phone_number"},
		{"Mario", "Rossi", "393331112222"},
	}))

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func TestAdmin_ReplySerializedWithPipelineWrites(t *testing.T) {
	store := session.NewMemoryStore()
	store.GetOrCreate("U1")

	locks := session.NewUserLocks()
	client := &stubClient{}
	mux := newAdminMux(t, AdminConfig{
		Store:  store,
		Locks:  locks,
		Sender: delivery.NewSender(delivery.SenderConfig{Client: client}),
	})

	const pipelineTurns = 80
	const adminReplies = 20

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Simulates in-flight pipeline tasks mutating the session under
		// the shared per-user lock.
		for i := 0; i < pipelineTurns; i++ {
			unlock := locks.Lock("U1")
			s, _, _ := store.Get("U1")
			s.AddTurn("user", "ping")
			store.Save(s)
			unlock()
		}
	}()

	for i := 0; i < adminReplies; i++ {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, adminRequest("POST", "/admin/sessions/U1/reply", `{"text":"operatore"}`))
		if rec.Code != http.StatusOK {
			t.Fatalf("reply %d status = %d", i, rec.Code)
		}
	}
	wg.Wait()

	s, _, _ := store.Get("U1")
	if len(s.History) != pipelineTurns+adminReplies {
		t.Fatalf("history length = %d, want %d", len(s.History), pipelineTurns+adminReplies)
	}
	admin := 0
	for _, turn := range s.History {
		if turn.From == "admin" {
			admin++
		}
	}
	if admin != adminReplies {
		t.Fatalf("admin turns = %d, want %d", admin, adminReplies)
	}
}
