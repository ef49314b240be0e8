package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"threadbot/internal/metrics"
	"threadbot/internal/providers"
	"threadbot/internal/storage"
)

type Store interface {
	GetOrCreateBot(ctx context.Context, chatID int64) (storage.ChatBot, error)
	GetBot(ctx context.Context, chatID int64) (storage.ChatBot, error)
	SetBehavior(ctx context.Context, botID int64, behavior string) (storage.ChatBot, error)
	SetModelSelection(ctx context.Context, botID int64, provider, model string) (storage.ChatBot, error)
	GetOrCreateCurrentThread(ctx context.Context, chatID int64) (storage.ChatThread, error)
	CurrentThread(ctx context.Context, chatID int64) (storage.ChatThread, error)
	CloseCurrentThread(ctx context.Context, chatID int64) (string, bool, error)
	AppendMessage(ctx context.Context, chatID int64, threadID, role, content string) (string, error)
	ListThreadMessages(ctx context.Context, threadID string) ([]storage.ChatMessage, error)
}

// Backends builds the completion client for a bot's model selection.
type Backends interface {
	Active() string
	Select(models providers.ModelSelection) (providers.Completion, error)
}

type ReplyKind int

const (
	ReplyAnswer ReplyKind = iota
	ReplyBehaviorUpdated
)

type Reply struct {
	Kind     ReplyKind
	Text     string
	ThreadID string
}

type Config struct {
	Store    Store
	Backends Backends
	States   *States
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

type Engine struct {
	store    Store
	backends Backends
	states   *States
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func New(cfg Config) *Engine {
	states := cfg.States
	if states == nil {
		states = NewStates()
	}
	return &Engine{
		store:    cfg.Store,
		backends: cfg.Backends,
		states:   states,
		logger:   cfg.Logger.With().Str("component", "conversation").Logger(),
		metrics:  cfg.Metrics,
	}
}

// Provider is the active backend kind for every chat.
func (e *Engine) Provider() string {
	return e.backends.Active()
}

func (e *Engine) State(chatID int64) State {
	return e.states.Get(chatID)
}

// HandleMessage interprets one inbound text. In AwaitingBehaviorInput the
// text becomes the behavior; otherwise it is a turn against the current
// thread. The state lock is released before the backend is called.
func (e *Engine) HandleMessage(ctx context.Context, chatID int64, text string) (Reply, error) {
	bot, err := e.store.GetOrCreateBot(ctx, chatID)
	if err != nil {
		e.metrics.Turn(metrics.OutcomeStorageError)
		return Reply{}, err
	}

	var consumed bool
	err = e.states.Transition(bot.ID, func(st State) (State, error) {
		if st != AwaitingBehaviorInput {
			return st, nil
		}
		updated, err := e.store.SetBehavior(ctx, bot.ID, text)
		if err != nil {
			return st, err
		}
		bot, consumed = updated, true
		return Default, nil
	})
	if err != nil {
		e.metrics.Turn(metrics.OutcomeStorageError)
		return Reply{}, err
	}
	if consumed {
		e.metrics.Turn(metrics.OutcomeBehaviorSet)
		e.metrics.BehaviorChanged()
		e.logger.Info().Int64("chat_id", chatID).Int("behavior_len", len(text)).Msg("behavior updated")
		return Reply{Kind: ReplyBehaviorUpdated, Text: bot.Behavior}, nil
	}

	return e.turn(ctx, bot, text)
}

func (e *Engine) turn(ctx context.Context, bot storage.ChatBot, text string) (Reply, error) {
	backend, err := e.backends.Select(bot.Models)
	if err != nil {
		e.metrics.Turn(metrics.OutcomeConfigError)
		return Reply{}, err
	}

	thread, err := e.store.GetOrCreateCurrentThread(ctx, bot.ID)
	if err != nil {
		e.metrics.Turn(metrics.OutcomeStorageError)
		return Reply{}, err
	}
	log := e.logger.With().Int64("chat_id", bot.ID).Str("thread_id", thread.ID).Logger()

	if _, err := e.store.AppendMessage(ctx, bot.ID, thread.ID, storage.RoleUser, text); err != nil {
		e.metrics.Turn(metrics.OutcomeStorageError)
		return Reply{}, err
	}

	payload, err := e.BuildPayload(ctx, bot.ID, thread.ID)
	if err != nil {
		e.metrics.Turn(metrics.OutcomeStorageError)
		return Reply{}, err
	}

	started := time.Now()
	answer, err := backend.Complete(ctx, payload)
	e.metrics.ObserveBackend(e.backends.Active(), time.Since(started).Seconds())
	if err != nil {
		var be *providers.BackendError
		if !errors.As(err, &be) {
			err = providers.NewBackendError(e.backends.Active(), "completion failed", err)
		}
		e.metrics.Turn(metrics.OutcomeBackendError)
		log.Warn().Err(err).Str("backend", backend.Describe()).Msg("completion failed")
		return Reply{ThreadID: thread.ID}, err
	}

	if _, err := e.store.AppendMessage(ctx, bot.ID, thread.ID, storage.RoleAssistant, answer); err != nil {
		e.metrics.Turn(metrics.OutcomeStorageError)
		return Reply{}, err
	}
	e.metrics.Turn(metrics.OutcomeAnswered)
	log.Debug().Int("payload_len", len(payload)).Msg("turn completed")
	return Reply{Kind: ReplyAnswer, Text: answer, ThreadID: thread.ID}, nil
}

// RequestBehaviorChange moves the chat to AwaitingBehaviorInput and returns
// the bot with its current behavior.
func (e *Engine) RequestBehaviorChange(ctx context.Context, chatID int64) (storage.ChatBot, error) {
	bot, err := e.store.GetOrCreateBot(ctx, chatID)
	if err != nil {
		return storage.ChatBot{}, err
	}
	_ = e.states.Transition(bot.ID, func(State) (State, error) {
		return AwaitingBehaviorInput, nil
	})
	return bot, nil
}

// CancelBehaviorChange returns the chat to Default. It reports whether a
// change was pending.
func (e *Engine) CancelBehaviorChange(chatID int64) bool {
	var pending bool
	_ = e.states.Transition(chatID, func(st State) (State, error) {
		pending = st == AwaitingBehaviorInput
		return Default, nil
	})
	return pending
}

func (e *Engine) Behavior(ctx context.Context, chatID int64) (string, error) {
	bot, err := e.store.GetOrCreateBot(ctx, chatID)
	if err != nil {
		return "", err
	}
	return bot.Behavior, nil
}

// StartNewThread closes the current thread. The next message opens a new one.
func (e *Engine) StartNewThread(ctx context.Context, chatID int64) (string, bool, error) {
	id, closed, err := e.store.CloseCurrentThread(ctx, chatID)
	if err != nil {
		return "", false, err
	}
	if closed {
		e.metrics.ThreadClosed()
		e.logger.Info().Int64("chat_id", chatID).Str("thread_id", id).Msg("thread closed")
	}
	return id, closed, nil
}

type ModelChoice struct {
	Provider  string
	Current   string
	Available []string
}

func (e *Engine) Models(ctx context.Context, chatID int64) (ModelChoice, error) {
	bot, err := e.store.GetOrCreateBot(ctx, chatID)
	if err != nil {
		return ModelChoice{}, err
	}
	kind := e.backends.Active()
	return ModelChoice{
		Provider:  kind,
		Current:   bot.Models.Get(kind),
		Available: providers.Models(kind),
	}, nil
}

// SetModel stores the model the active provider uses for this chat.
func (e *Engine) SetModel(ctx context.Context, chatID int64, model string) (storage.ChatBot, error) {
	bot, err := e.store.GetOrCreateBot(ctx, chatID)
	if err != nil {
		return storage.ChatBot{}, err
	}
	updated, err := e.store.SetModelSelection(ctx, bot.ID, e.backends.Active(), model)
	if err != nil {
		return storage.ChatBot{}, err
	}
	e.logger.Info().Int64("chat_id", chatID).Str("provider", e.backends.Active()).Str("model", model).Msg("model selected")
	return updated, nil
}

// Describe identifies the backend this chat's next turn would use.
func (e *Engine) Describe(ctx context.Context, chatID int64) (string, error) {
	bot, err := e.store.GetOrCreateBot(ctx, chatID)
	if err != nil {
		return "", err
	}
	backend, err := e.backends.Select(bot.Models)
	if err != nil {
		return "", err
	}
	return backend.Describe(), nil
}

type Status struct {
	Backend  string
	State    State
	ThreadID string
	Messages int
}

func (e *Engine) Status(ctx context.Context, chatID int64) (Status, error) {
	desc, err := e.Describe(ctx, chatID)
	if err != nil {
		return Status{}, err
	}
	st := Status{Backend: desc, State: e.states.Get(chatID)}

	thread, err := e.store.CurrentThread(ctx, chatID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return st, nil
	case err != nil:
		return Status{}, fmt.Errorf("load current thread: %w", err)
	}
	msgs, err := e.store.ListThreadMessages(ctx, thread.ID)
	if err != nil {
		return Status{}, fmt.Errorf("count thread messages: %w", err)
	}
	st.ThreadID = thread.ID
	st.Messages = len(msgs)
	return st, nil
}
