package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/inplacehq/onboardbot/internal/config"
	"github.com/inplacehq/onboardbot/internal/delivery"
	"github.com/inplacehq/onboardbot/internal/escalate"
	"github.com/inplacehq/onboardbot/internal/httpapi"
	"github.com/inplacehq/onboardbot/internal/knowledge"
	"github.com/inplacehq/onboardbot/internal/language"
	"github.com/inplacehq/onboardbot/internal/pipeline"
	"github.com/inplacehq/onboardbot/internal/providers"
	"github.com/inplacehq/onboardbot/internal/ratelimit"
	"github.com/inplacehq/onboardbot/internal/reply"
	"github.com/inplacehq/onboardbot/internal/session"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and message pipeline",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchConfig(ctx, resolveConfigPath(), cfg)

	// Knowledge base, hot-reloaded on file change.
	kb, err := knowledge.NewLoader(config.ExpandHome(cfg.Knowledge.Path))
	if err != nil {
		slog.Error("failed to load knowledge base", "error", err)
		os.Exit(1)
	}
	if err := kb.Watch(); err != nil {
		slog.Warn("knowledge base watch disabled", "error", err)
	}
	defer kb.Stop()

	store, err := buildSessionStore(cfg)
	if err != nil {
		slog.Error("failed to open session store", "backend", cfg.Sessions.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("session store ready", "backend", cfg.Sessions.Backend)

	if cfg.Completion.APIKey == "" {
		slog.Warn("ONBOARDBOT_OPENAI_API_KEY not set, completions will fail and replies fall back to canned responses")
	}
	providerOpts := []providers.OpenAIOption{providers.WithOpenAIModel(cfg.Completion.Model)}
	if cfg.Completion.BaseURL != "" {
		providerOpts = append(providerOpts, providers.WithOpenAIBaseURL(cfg.Completion.BaseURL))
	}
	provider := providers.NewOpenAIProvider(cfg.Completion.APIKey, providerOpts...)

	var notifier escalate.Notifier = escalate.LogNotifier{}
	if cfg.Escalation.WebhookURL != "" {
		notifier = escalate.NewWebhookNotifier(cfg.Escalation.WebhookURL)
	}

	engine := reply.NewEngine(reply.Config{
		Provider:        provider,
		Checker:         escalate.NewChecker(provider, cfg.Completion.ClassifierModel),
		Notifier:        notifier,
		Knowledge:       kb.Text,
		MainModel:       cfg.Completion.Model,
		ClassifierModel: cfg.Completion.ClassifierModel,
		Temperature:     cfg.Completion.Temperature,
		MaxTokens:       cfg.Completion.MaxTokens,
	})

	client, err := buildDeliveryClient(cfg)
	if err != nil {
		slog.Error("failed to set up delivery channel", "channel", cfg.Delivery.Channel, "error", err)
		os.Exit(1)
	}
	sender := delivery.NewSender(delivery.SenderConfig{
		Client:            client,
		MessagesPerSecond: cfg.Delivery.MessagesPerSecond,
	})
	slog.Info("delivery channel ready", "channel", client.Name())

	limiter := ratelimit.New(cfg.RateLimit.PerMinute, cfg.RateLimit.PerHour)
	sweeper, err := ratelimit.NewSweeper(limiter, cfg.RateLimit.SweepCron)
	if err != nil {
		slog.Error("invalid rate limit sweep cron", "cron", cfg.RateLimit.SweepCron, "error", err)
		os.Exit(1)
	}
	if sweeper != nil {
		go sweeper.Run(ctx)
	}

	// One lock table for every writer of session state.
	locks := session.NewUserLocks()

	dispatcher := pipeline.New(pipeline.Config{
		Store:    store,
		Limiter:  limiter,
		Detector: language.NewDetector(language.NewKeywordClassifier(), 0),
		Engine:   engine,
		Sender:   sender,
		Locks:    locks,
	})

	if cfg.Webhook.VerifyToken == "" {
		slog.Warn("ONBOARDBOT_WEBHOOK_VERIFY_TOKEN not set, webhook verification will reject all handshakes")
	}
	webhook := httpapi.NewWebhookHandler(cfg.Webhook.VerifyToken, dispatcher.Dispatch)

	var admin *httpapi.AdminHandler
	if cfg.Server.AdminToken != "" {
		adminCfg := httpapi.AdminConfig{
			Store:  store,
			Locks:  locks,
			Sender: sender,
			Token:  cfg.Server.AdminToken,
			Config: cfg,
		}
		if templates, ok := client.(delivery.TemplateDeliverer); ok {
			adminCfg.Templates = templates
			adminCfg.Template = delivery.Template{
				Name:             cfg.Campaign.TemplateName,
				LanguageCode:     cfg.Campaign.TemplateLanguage,
				DocumentLink:     cfg.Campaign.DocumentLink,
				DocumentFilename: cfg.Campaign.DocumentFilename,
			}
		}
		admin = httpapi.NewAdminHandler(adminCfg)
	} else {
		slog.Warn("admin API disabled: ONBOARDBOT_ADMIN_TOKEN not set")
	}

	server := httpapi.NewServer(cfg.Server.Host, cfg.Server.Port, webhook, admin)
	if err := server.Start(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("draining in-flight messages")
	dispatcher.Wait()
	slog.Info("shutdown complete")
}

// watchConfig reloads the config file on change. Collaborators built at
// startup keep the settings they were constructed with; the reload feeds
// live readers such as the admin config view.
func watchConfig(ctx context.Context, path string, cfg *config.Config) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watch disabled", "error", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		slog.Warn("config watch disabled", "path", path, "error", err)
		return
	}

	clean := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != clean {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			next, err := config.Load(path)
			if err != nil {
				slog.Warn("config reload failed", "error", err)
				continue
			}
			if err := next.Validate(); err != nil {
				slog.Warn("config reload rejected", "error", err)
				continue
			}
			cfg.ReplaceFrom(next)
			slog.Info("config reloaded", "path", path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watch error", "error", err)
		}
	}
}

func buildSessionStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Sessions.Backend {
	case "sqlite":
		path := config.ExpandHome(cfg.Sessions.SQLitePath)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		return session.NewSQLiteStore(path)
	case "postgres":
		return session.NewPostgresStore(cfg.Sessions.PostgresDSN)
	default:
		return session.NewMemoryStore(), nil
	}
}

func buildDeliveryClient(cfg *config.Config) (delivery.Client, error) {
	switch cfg.Delivery.Channel {
	case "telegram":
		if cfg.Delivery.Telegram.Token == "" {
			return nil, fmt.Errorf("ONBOARDBOT_TELEGRAM_TOKEN is not set")
		}
		return delivery.NewTelegramClient(cfg.Delivery.Telegram.Token)
	default:
		if cfg.Delivery.WhatsApp.AccessToken == "" {
			return nil, fmt.Errorf("ONBOARDBOT_WHATSAPP_ACCESS_TOKEN is not set")
		}
		if cfg.Delivery.WhatsApp.PhoneNumberID == "" {
			return nil, fmt.Errorf("delivery.whatsapp.phone_number_id is not configured")
		}
		return delivery.NewWhatsAppClient(cfg.Delivery.WhatsApp.AccessToken, cfg.Delivery.WhatsApp.PhoneNumberID), nil
	}
}
