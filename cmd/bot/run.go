package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"threadbot/internal/config"
	"threadbot/internal/conversation"
	"threadbot/internal/dedupe"
	"threadbot/internal/metrics"
	"threadbot/internal/providers"
	"threadbot/internal/providers/registry"
	"threadbot/internal/storage"
	"threadbot/internal/telegram"
)

func run(parent context.Context, llmService string) error {
	cfg, err := config.Load(llmService)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("version", version).
		Str("llm_provider", cfg.LLM.Provider).
		Str("db_driver", cfg.DB.Driver).
		Bool("dev_polling", cfg.DevPolling).
		Bool("redis", cfg.Redis.Enabled).
		Msg("starting threadbot")

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()

	var dedup *dedupe.UpdateDeduplicator
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		dedup = dedupe.New(rdb, cfg.Redis.UpdateTTL)
		if err := dedup.Ping(ctx); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}

	backends, err := registry.NewSelector(registry.SelectorConfig{
		Kind: cfg.LLM.Provider,
		Credentials: map[string]registry.Credential{
			providers.KindOpenAI: {APIKey: cfg.LLM.OpenAIKey, BaseURL: cfg.LLM.OpenAIBaseURL},
			providers.KindGroq:   {APIKey: cfg.LLM.GroqKey, BaseURL: cfg.LLM.GroqBaseURL},
		},
		MaxTokens:  cfg.LLM.MaxTokens,
		HTTPClient: &http.Client{Timeout: cfg.HTTP.ClientTimeout},
		Logger:     log.Logger,
	})
	if err != nil {
		return fmt.Errorf("configure llm backend: %w", err)
	}

	m := metrics.Global()
	engine := conversation.New(conversation.Config{
		Store:    store,
		Backends: backends,
		Logger:   log.Logger,
		Metrics:  m,
	})

	bot, err := gotgbot.NewBot(cfg.BotToken, nil)
	if err != nil {
		return fmt.Errorf("create telegram bot: %s", sanitizeTelegramErr(err, cfg.BotToken))
	}
	log.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")

	logTelegramErr := func(err error) {
		log.Error().Str("component", "telegram").Msg(sanitizeTelegramErr(err, cfg.BotToken))
	}
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		MaxRoutines:      cfg.DispatcherMaxRoutines,
		UnhandledErrFunc: logTelegramErr,
		Error: func(_ *gotgbot.Bot, _ *ext.Context, err error) ext.DispatcherAction {
			logTelegramErr(err)
			return ext.DispatcherActionNoop
		},
		Processor: telegram.Processor{
			Dedupe:  dedup,
			Metrics: m,
			Logger:  log.Logger,
		},
	})
	service := telegram.NewService(telegram.Config{
		Engine:      engine,
		Audit:       store,
		Logger:      log.Logger,
		Metrics:     m,
		TurnTimeout: cfg.HTTP.TurnTimeout,
		Version:     version,
	})
	service.Register(dispatcher)
	updater := ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
		UnhandledErrFunc: logTelegramErr,
	})

	var webhookHandler http.HandlerFunc
	var webhookRoute string
	if cfg.DevPolling {
		if err := updater.StartPolling(bot, &ext.PollingOpts{
			EnableWebhookDeletion: true,
			DropPendingUpdates:    true,
			GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
				Timeout: 50,
				RequestOpts: &gotgbot.RequestOpts{
					Timeout: 60 * time.Second,
				},
			},
		}); err != nil {
			return fmt.Errorf("start polling: %s", sanitizeTelegramErr(err, cfg.BotToken))
		}
		log.Info().Msg("polling mode started")
	} else {
		path := strings.Trim(cfg.Webhook.SecretPath, "/")
		if path == "" {
			path = "telegram"
		}
		if cfg.Webhook.PublicURL == "" {
			return fmt.Errorf("WEBHOOK_URL is required unless DEV_POLLING is set")
		}
		if err := updater.AddWebhook(bot, path, &ext.AddWebhookOpts{SecretToken: cfg.Webhook.SecretToken}); err != nil {
			return fmt.Errorf("configure webhook handler: %w", err)
		}

		webhookURL := strings.TrimSuffix(cfg.Webhook.PublicURL, "/") + "/" + path
		if _, err := bot.SetWebhook(webhookURL, &gotgbot.SetWebhookOpts{
			DropPendingUpdates: false,
			SecretToken:        cfg.Webhook.SecretToken,
		}); err != nil {
			return fmt.Errorf("set telegram webhook: %s", sanitizeTelegramErr(err, cfg.BotToken))
		}
		log.Info().Str("webhook_url", webhookURL).Msg("webhook registered")
		webhookRoute = "/" + path
		webhookHandler = updater.GetHandlerFunc("/")
	}

	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Webhook.HealthPath, healthHandler(store, dedup))
	mux.Handle(cfg.Webhook.MetricsPath, promhttp.Handler())
	if webhookHandler != nil {
		mux.HandleFunc(webhookRoute, webhookHandler)
	}
	httpServer := &http.Server{
		Addr:              cfg.Webhook.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Webhook.WebhookTimeout,
	}
	go func() {
		log.Info().Str("addr", cfg.Webhook.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("runtime error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := updater.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop updater")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
	return runErr
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(store pinger, dedup *dedupe.UpdateDeduplicator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		if dedup != nil {
			if err := dedup.Ping(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func sanitizeTelegramErr(err error, token string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.TrimSpace(token) == "" {
		return msg
	}

	msg = strings.ReplaceAll(msg, token, "<redacted-token>")
	if idx := strings.Index(token, ":"); idx > 0 {
		botID := token[:idx]
		msg = strings.ReplaceAll(msg, "/bot"+botID+":", "/bot<redacted>:")
		msg = strings.ReplaceAll(msg, "bot"+botID+"/", "bot<redacted>/")
	}
	return msg
}
