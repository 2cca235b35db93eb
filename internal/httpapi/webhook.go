package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/inplacehq/onboardbot/internal/bus"
)

// WebhookHandler receives Meta Graph webhook callbacks. The POST handler
// acknowledges immediately and hands messages to the dispatcher; the platform
// retries on anything but a fast 200, so no processing happens on this path.
type WebhookHandler struct {
	verifyToken string
	dispatch    bus.MessageHandler
}

// NewWebhookHandler creates the webhook handler. dispatch is called once per
// extracted message after the response has been committed.
func NewWebhookHandler(verifyToken string, dispatch bus.MessageHandler) *WebhookHandler {
	return &WebhookHandler{verifyToken: verifyToken, dispatch: dispatch}
}

// RegisterRoutes registers the webhook routes on the given mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhook", h.handleVerify)
	mux.HandleFunc("POST /webhook", h.handleEvent)
}

// handleVerify answers the platform's subscription handshake: echo the
// challenge when the verify token matches.
func (h *WebhookHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken && h.verifyToken != "" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	slog.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
	w.WriteHeader(http.StatusForbidden)
}

// webhookEnvelope mirrors the Meta Graph webhook payload, reduced to the
// fields the bot consumes.
type webhookEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (h *WebhookHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var env webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		// Still 200: a 4xx would make the platform retry an unparseable
		// payload forever.
		slog.Warn("webhook payload not parseable", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	msgs := extractMessages(env)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})

	for _, m := range msgs {
		h.dispatch(m)
	}
}

func extractMessages(env webhookEnvelope) []bus.InboundMessage {
	var out []bus.InboundMessage
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string)
			for _, c := range change.Value.Contacts {
				if c.Profile.Name != "" {
					names[c.WaID] = c.Profile.Name
				}
			}
			for _, m := range change.Value.Messages {
				if m.Type != "" && m.Type != "text" {
					slog.Debug("skipping non-text message", "message_id", m.ID, "type", m.Type)
					continue
				}
				msg := bus.InboundMessage{
					ID:        m.ID,
					Sender:    m.From,
					Text:      m.Text.Body,
					Timestamp: parseUnixSeconds(m.Timestamp),
				}
				if name := names[m.From]; name != "" {
					msg.Metadata = map[string]string{"profile_name": name}
				}
				out = append(out, msg)
			}
		}
	}
	return out
}

func parseUnixSeconds(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(sec, 0)
}
