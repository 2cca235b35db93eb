package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Completion: CompletionConfig{
			Provider:        "openai",
			Model:           "gpt-4o",
			ClassifierModel: "gpt-4o-mini",
			MaxTokens:       1024,
			Temperature:     0.7,
		},
		Delivery: DeliveryConfig{
			Channel: "whatsapp",
		},
		Sessions: SessionsConfig{
			Backend:    "memory",
			SQLitePath: "~/.onboardbot/sessions.db",
		},
		RateLimit: RateLimitConfig{
			PerMinute: 10,
			PerHour:   100,
			SweepCron: "*/10 * * * *",
		},
		Campaign: CampaignConfig{
			TemplateName:     "onboarding_named",
			TemplateLanguage: "it",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets come from env only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Secrets
	envStr("ONBOARDBOT_OPENAI_API_KEY", &c.Completion.APIKey)
	envStr("ONBOARDBOT_WHATSAPP_ACCESS_TOKEN", &c.Delivery.WhatsApp.AccessToken)
	envStr("ONBOARDBOT_TELEGRAM_TOKEN", &c.Delivery.Telegram.Token)
	envStr("ONBOARDBOT_WEBHOOK_VERIFY_TOKEN", &c.Webhook.VerifyToken)
	envStr("ONBOARDBOT_ADMIN_TOKEN", &c.Server.AdminToken)
	envStr("ONBOARDBOT_POSTGRES_DSN", &c.Sessions.PostgresDSN)

	// Non-secret overrides
	envStr("ONBOARDBOT_HOST", &c.Server.Host)
	if v := os.Getenv("ONBOARDBOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
	envStr("ONBOARDBOT_MODEL", &c.Completion.Model)
	envStr("ONBOARDBOT_CLASSIFIER_MODEL", &c.Completion.ClassifierModel)
	envStr("ONBOARDBOT_COMPLETION_BASE_URL", &c.Completion.BaseURL)
	envStr("ONBOARDBOT_CHANNEL", &c.Delivery.Channel)
	envStr("ONBOARDBOT_WHATSAPP_PHONE_NUMBER_ID", &c.Delivery.WhatsApp.PhoneNumberID)
	envStr("ONBOARDBOT_SESSIONS_BACKEND", &c.Sessions.Backend)
	envStr("ONBOARDBOT_SQLITE_PATH", &c.Sessions.SQLitePath)
	envStr("ONBOARDBOT_KNOWLEDGE_PATH", &c.Knowledge.Path)
	envStr("ONBOARDBOT_ESCALATION_WEBHOOK", &c.Escalation.WebhookURL)

	// Auto-select the channel when only one credential is provided via env.
	if c.Delivery.Telegram.Token != "" && c.Delivery.WhatsApp.AccessToken == "" {
		c.Delivery.Channel = "telegram"
	}
}

// Validate reports configuration errors that prevent startup.
func (c *Config) Validate() error {
	switch c.Delivery.Channel {
	case "whatsapp", "telegram":
	default:
		return fmt.Errorf("delivery.channel %q: must be whatsapp or telegram", c.Delivery.Channel)
	}
	switch c.Sessions.Backend {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("sessions.backend %q: must be memory, sqlite or postgres", c.Sessions.Backend)
	}
	if c.Sessions.Backend == "postgres" && c.Sessions.PostgresDSN == "" {
		return fmt.Errorf("sessions.backend postgres requires ONBOARDBOT_POSTGRES_DSN")
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.PerHour <= 0 {
		return fmt.Errorf("rate_limit: per_minute and per_hour must be positive")
	}
	return nil
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
