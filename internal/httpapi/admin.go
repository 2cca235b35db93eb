package httpapi

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/inplacehq/onboardbot/internal/config"
	"github.com/inplacehq/onboardbot/internal/delivery"
	"github.com/inplacehq/onboardbot/internal/session"
)

// resumeKeepTurns is how much recent history survives a resume: enough for
// the model to pick the thread back up without replaying the escalated phase.
const resumeKeepTurns = 3

// completedBotTurns is the bot-reply count at which a candidate counts as
// having completed onboarding in the report funnel.
const completedBotTurns = 6

// maxUploadBytes caps the campaign spreadsheet size.
const maxUploadBytes = 10 << 20

// AdminHandler exposes the operator surface: escalated conversations, chat
// history, manual replies while the bot is paused, resuming the bot, the
// outbound onboarding campaign, and report stats.
type AdminHandler struct {
	store     session.Store
	locks     *session.UserLocks
	sender    *delivery.Sender
	templates delivery.TemplateDeliverer // nil when the channel has no template support
	template  delivery.Template
	token     string
	cfg       *config.Config
}

// AdminConfig wires an AdminHandler.
type AdminConfig struct {
	Store  session.Store
	Locks  *session.UserLocks // shared with the dispatcher
	Sender *delivery.Sender
	Token  string
	Config *config.Config

	// Templates enables the campaign endpoint; Template names the approved
	// template it sends.
	Templates delivery.TemplateDeliverer
	Template  delivery.Template
}

// NewAdminHandler creates a handler for the admin endpoints.
func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	locks := cfg.Locks
	if locks == nil {
		locks = session.NewUserLocks()
	}
	return &AdminHandler{
		store:     cfg.Store,
		locks:     locks,
		sender:    cfg.Sender,
		templates: cfg.Templates,
		template:  cfg.Template,
		token:     cfg.Token,
		cfg:       cfg.Config,
	}
}

// RegisterRoutes registers all admin routes on the given mux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/escalated", h.authMiddleware(h.handleEscalated))
	mux.HandleFunc("GET /admin/chats", h.authMiddleware(h.handleChats))
	mux.HandleFunc("GET /admin/sessions/{userID}/history", h.authMiddleware(h.handleHistory))
	mux.HandleFunc("POST /admin/sessions/{userID}/reply", h.authMiddleware(h.handleReply))
	mux.HandleFunc("POST /admin/sessions/{userID}/resume", h.authMiddleware(h.handleResume))
	mux.HandleFunc("POST /admin/campaign", h.authMiddleware(h.handleCampaign))
	mux.HandleFunc("GET /admin/stats", h.authMiddleware(h.handleStats))
	mux.HandleFunc("GET /admin/config", h.authMiddleware(h.handleConfig))
}

func (h *AdminHandler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" || extractBearerToken(r) != h.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

type escalatedEntry struct {
	UserID       string    `json:"user_id"`
	Name         string    `json:"name,omitempty"`
	Reason       string    `json:"reason"`
	MessageCount int64     `json:"message_count"`
	Updated      time.Time `json:"updated"`
}

func (h *AdminHandler) handleEscalated(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	out := make([]escalatedEntry, 0)
	for _, s := range sessions {
		unlock := h.locks.Lock(s.UserID)
		if s.Escalated() {
			out = append(out, escalatedEntry{
				UserID:       s.UserID,
				Name:         s.Name,
				Reason:       s.EscalationReason,
				MessageCount: s.MessageCount,
				Updated:      s.Updated,
			})
		}
		unlock()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"escalated": out})
}

type chatEntry struct {
	UserID      string    `json:"user_id"`
	Name        string    `json:"name,omitempty"`
	Status      string    `json:"status"`
	LastMessage string    `json:"last_message"`
	LastSender  string    `json:"last_sender"`
	Updated     time.Time `json:"updated"`
}

func (h *AdminHandler) handleChats(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	out := make([]chatEntry, 0)
	for _, s := range sessions {
		unlock := h.locks.Lock(s.UserID)
		if len(s.History) > 0 {
			last := s.History[len(s.History)-1]
			out = append(out, chatEntry{
				UserID:      s.UserID,
				Name:        s.Name,
				Status:      s.Status,
				LastMessage: last.Text,
				LastSender:  last.From,
				Updated:     s.Updated,
			})
		}
		unlock()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chats": out})
}

func (h *AdminHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	unlock := h.locks.Lock(userID)
	defer unlock()

	s, ok, err := h.store.Get(userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  s.UserID,
		"name":     s.Name,
		"language": s.PreferredLanguage,
		"status":   s.Status,
		"summary":  s.Summary,
		"history":  s.History,
	})
}

func (h *AdminHandler) handleReply(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text required"})
		return
	}

	// Same per-user lock as the dispatcher: an admin reply must not
	// interleave with an in-flight pipeline task mutating this session.
	unlock := h.locks.Lock(userID)
	defer unlock()

	s, ok, err := h.store.Get(userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	if err := h.sender.Send(r.Context(), userID, req.Text); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	s.AddTurn("admin", req.Text)
	if err := h.store.Save(s); err != nil {
		slog.Error("save session after admin reply", "user_id", userID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (h *AdminHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	unlock := h.locks.Lock(userID)
	defer unlock()

	s, ok, err := h.store.Get(userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	s.Status = session.StatusReplied
	s.EscalationReason = ""
	if len(s.History) > resumeKeepTurns {
		s.History = s.History[len(s.History)-resumeKeepTurns:]
	}
	if err := h.store.Save(s); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	slog.Info("bot resumed for user", "user_id", userID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// handleCampaign ingests a spreadsheet of candidates (columns name, surname,
// phone_number) and sends each new candidate the onboarding template.
func (h *AdminHandler) handleCampaign(w http.ResponseWriter, r *http.Request) {
	if h.templates == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "campaign delivery not supported on this channel"})
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form required"})
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no file uploaded"})
		return
	}
	defer file.Close()

	xls, err := excelize.OpenReader(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "not a readable spreadsheet"})
		return
	}
	defer xls.Close()

	rows, err := xls.GetRows(xls.GetSheetName(0))
	if err != nil || len(rows) < 2 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "spreadsheet has no candidate rows"})
		return
	}

	cols := columnIndex(rows[0])
	phoneCol, ok := cols["phone_number"]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone_number column required"})
		return
	}

	var added, skipped int
	failed := make([]string, 0)
	for _, row := range rows[1:] {
		phone := normalizePhone(cell(row, phoneCol))
		if phone == "" {
			failed = append(failed, cell(row, phoneCol))
			continue
		}

		name := strings.TrimSpace(cell(row, colOf(cols, "name")))
		if name == "" {
			name = "Amico"
		}
		surname := strings.TrimSpace(cell(row, colOf(cols, "surname")))

		if !h.registerCandidate(phone, name, surname) {
			skipped++
			continue
		}

		if err := h.templates.DeliverTemplate(r.Context(), phone, name, h.template); err != nil {
			slog.Error("campaign template send failed", "user_id", phone, "error", err)
			failed = append(failed, phone)
			continue
		}
		added++
	}

	slog.Info("campaign processed", "added", added, "skipped", skipped, "failed", len(failed))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"added":   added,
		"skipped": skipped,
		"failed":  failed,
	})
}

// registerCandidate creates the campaign session for phone. Returns false
// when the candidate already has one.
func (h *AdminHandler) registerCandidate(phone, name, surname string) bool {
	unlock := h.locks.Lock(phone)
	defer unlock()

	if _, ok, err := h.store.Get(phone); err != nil || ok {
		return false
	}
	s, err := h.store.GetOrCreate(phone)
	if err != nil {
		return false
	}
	s.Name = strings.TrimSpace(name + " " + surname)
	s.Status = session.StatusSent
	if err := h.store.Save(s); err != nil {
		slog.Error("save campaign session", "user_id", phone, "error", err)
	}
	return true
}

func (h *AdminHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var totalTurns, userTurns, botTurns, adminTurns int
	var sent, replied, completed, escalated, withReason int
	for _, s := range sessions {
		unlock := h.locks.Lock(s.UserID)

		bot := 0
		for _, t := range s.History {
			totalTurns++
			switch t.From {
			case "user":
				userTurns++
			case "bot":
				botTurns++
				bot++
			case "admin":
				adminTurns++
			}
		}
		if bot >= completedBotTurns {
			completed++
		}
		switch s.Status {
		case session.StatusSent:
			sent++
		case session.StatusReplied:
			replied++
		case session.StatusEscalated:
			escalated++
			if s.EscalationReason != "" {
				withReason++
			}
		}

		unlock()
	}

	avg := 0.0
	if len(sessions) > 0 {
		avg = math.Round(float64(totalTurns)/float64(len(sessions))*100) / 100
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": map[string]interface{}{
			"total_users":                 len(sessions),
			"total_messages":              totalTurns,
			"average_conversation_length": avg,
			"user_messages":               userTurns,
			"bot_messages":                botTurns,
			"admin_messages":              adminTurns,
		},
		"engagement_funnel": map[string]interface{}{
			"sent":                 sent,
			"replied":              replied,
			"completed_onboarding": completed,
			"escalated":            escalated,
		},
		"escalation_stats": map[string]interface{}{
			"total_escalated": escalated,
			"with_reason":     withReason,
		},
	})
}

func (h *AdminHandler) handleConfig(w http.ResponseWriter, r *http.Request) {
	if h.cfg == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "config not available"})
		return
	}
	writeJSON(w, http.StatusOK, h.cfg.MaskedCopy())
}

// columnIndex maps lowercased header names to their column position.
func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return idx
}

func colOf(cols map[string]int, name string) int {
	if i, ok := cols[name]; ok {
		return i
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// normalizePhone strips formatting from a spreadsheet phone cell.
func normalizePhone(v string) string {
	v = strings.TrimSpace(v)
	v = strings.ReplaceAll(v, "+", "")
	v = strings.ReplaceAll(v, " ", "")
	if v == "" || strings.EqualFold(v, "nan") {
		return ""
	}
	return v
}
