package telegram

import (
	"context"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/rs/zerolog"

	"threadbot/internal/conversation"
	"threadbot/internal/metrics"
	"threadbot/internal/storage"
)

type AuditLog interface {
	LogAction(ctx context.Context, e storage.AuditEntry) error
}

type Service struct {
	engine      *conversation.Engine
	audit       AuditLog
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	turnTimeout time.Duration
	version     string
}

type Config struct {
	Engine      *conversation.Engine
	Audit       AuditLog
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	TurnTimeout time.Duration
	Version     string
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 60 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Service{
		engine:      cfg.Engine,
		audit:       cfg.Audit,
		logger:      cfg.Logger.With().Str("component", "telegram").Logger(),
		metrics:     m,
		turnTimeout: cfg.TurnTimeout,
		version:     cfg.Version,
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("start", s.start))
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCommand("menu", s.menu))
	d.AddHandler(handlers.NewCommand("version", s.versionCmd))
	d.AddHandler(handlers.NewCommand("new", s.newThread))
	d.AddHandler(handlers.NewCommand("behavior", s.getBehavior))
	d.AddHandler(handlers.NewCommand("get_behavior", s.getBehavior))
	d.AddHandler(handlers.NewCommand("set_behavior", s.setBehavior))
	d.AddHandler(handlers.NewCommand("cancel", s.cancel))
	d.AddHandler(handlers.NewCommand("model", s.model))
	d.AddHandler(handlers.NewCommand("status", s.status))
	d.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbPrefix), s.onCallback))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Text(msg) && !message.Command(msg)
	}, s.onText).SetAllowEdited(true))
}

func (s *Service) turnContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.turnTimeout)
}

func (s *Service) logAction(chatID, userID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.audit.LogAction(ctx, storage.AuditEntry{ChatID: chatID, UserID: userID, Action: action, Meta: meta}); err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", chatID).Str("action", action).Msg("audit log failed")
	}
}
