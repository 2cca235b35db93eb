package config

import (
	"encoding/json"
	"sync"
)

// Config is the root configuration for the onboarding bot.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Webhook    WebhookConfig    `json:"webhook"`
	Completion CompletionConfig `json:"completion"`
	Delivery   DeliveryConfig   `json:"delivery"`
	Sessions   SessionsConfig   `json:"sessions"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Escalation EscalationConfig `json:"escalation,omitempty"`
	Knowledge  KnowledgeConfig  `json:"knowledge,omitempty"`
	Campaign   CampaignConfig   `json:"campaign,omitempty"`
	mu         sync.RWMutex
}

// ServerConfig configures the HTTP listener for the webhook and admin API.
type ServerConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	AdminToken string `json:"-"` // from env ONBOARDBOT_ADMIN_TOKEN only
}

// WebhookConfig configures platform webhook verification.
// VerifyToken is never read from config.json, only from the
// ONBOARDBOT_WEBHOOK_VERIFY_TOKEN environment variable.
type WebhookConfig struct {
	VerifyToken string `json:"-"`
}

// CompletionConfig configures the reply model provider.
type CompletionConfig struct {
	Provider        string  `json:"provider,omitempty"` // "openai" (default)
	BaseURL         string  `json:"base_url,omitempty"` // override for self-hosted gateways
	Model           string  `json:"model"`
	ClassifierModel string  `json:"classifier_model"`
	MaxTokens       int     `json:"max_tokens"`
	Temperature     float64 `json:"temperature"`
	APIKey          string  `json:"-"` // from env ONBOARDBOT_OPENAI_API_KEY only
}

// DeliveryConfig configures the outbound messaging channel.
type DeliveryConfig struct {
	Channel           string  `json:"channel"` // "whatsapp" (default) or "telegram"
	MessagesPerSecond float64 `json:"messages_per_second,omitempty"`

	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

// WhatsAppConfig configures the Meta Graph API client.
type WhatsAppConfig struct {
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"-"` // from env ONBOARDBOT_WHATSAPP_ACCESS_TOKEN only
}

// TelegramConfig configures the Telegram bot client.
type TelegramConfig struct {
	Token string `json:"-"` // from env ONBOARDBOT_TELEGRAM_TOKEN only
}

// SessionsConfig selects the session store backend.
// PostgresDSN is never read from config.json, only from the
// ONBOARDBOT_POSTGRES_DSN environment variable.
type SessionsConfig struct {
	Backend     string `json:"backend"`               // "memory" (default), "sqlite", "postgres"
	SQLitePath  string `json:"sqlite_path,omitempty"` // default ~/.onboardbot/sessions.db
	PostgresDSN string `json:"-"`
}

// RateLimitConfig configures per-user inbound throttling.
type RateLimitConfig struct {
	PerMinute int    `json:"per_minute"`
	PerHour   int    `json:"per_hour"`
	SweepCron string `json:"sweep_cron,omitempty"` // cron expression, empty disables the sweeper
}

// EscalationConfig configures human handoff notification.
type EscalationConfig struct {
	WebhookURL string `json:"webhook_url,omitempty"` // POST target for escalation alerts
}

// KnowledgeConfig points at the onboarding knowledge base injected into the
// reply prompt. The file is hot-reloaded on change.
type KnowledgeConfig struct {
	Path string `json:"path,omitempty"`
}

// CampaignConfig names the approved WhatsApp template used by the outbound
// onboarding campaign. The optional document fields attach the privacy
// notice as the template header.
type CampaignConfig struct {
	TemplateName     string `json:"template_name"`
	TemplateLanguage string `json:"template_language"`
	DocumentLink     string `json:"document_link,omitempty"`
	DocumentFilename string `json:"document_filename,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the file watcher on hot reload.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = src.Server
	c.Webhook = src.Webhook
	c.Completion = src.Completion
	c.Delivery = src.Delivery
	c.Sessions = src.Sessions
	c.RateLimit = src.RateLimit
	c.Escalation = src.Escalation
	c.Knowledge = src.Knowledge
	c.Campaign = src.Campaign
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Used by the admin config endpoint so secrets never leave the process.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	// Secrets carry json:"-" and do not survive the round-trip; mask from
	// the original so the copy still shows which secrets are set.
	maskFrom(c.Server.AdminToken, &cp.Server.AdminToken)
	maskFrom(c.Webhook.VerifyToken, &cp.Webhook.VerifyToken)
	maskFrom(c.Completion.APIKey, &cp.Completion.APIKey)
	maskFrom(c.Delivery.WhatsApp.AccessToken, &cp.Delivery.WhatsApp.AccessToken)
	maskFrom(c.Delivery.Telegram.Token, &cp.Delivery.Telegram.Token)
	maskFrom(c.Sessions.PostgresDSN, &cp.Sessions.PostgresDSN)
	return cp
}

func maskFrom(src string, dst *string) {
	if src != "" {
		*dst = secretMask
	}
}
