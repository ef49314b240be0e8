package telegram

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"threadbot/internal/conversation"
	"threadbot/internal/providers"
	"threadbot/internal/storage"
)

func (s *Service) start(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.replyWithMarkup(ctx, b, s.helpText(), s.mainMenuKeyboard())
}

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.reply(ctx, b, s.helpText())
}

func (s *Service) versionCmd(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.reply(ctx, b, "threadbot "+s.version)
}

func (s *Service) newThread(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	return s.reply(ctx, b, s.newThreadText(ctx.EffectiveChat.Id, userID(ctx)))
}

func (s *Service) getBehavior(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	return s.reply(ctx, b, s.behaviorText(ctx.EffectiveChat.Id))
}

func (s *Service) setBehavior(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	return s.reply(ctx, b, s.requestBehaviorText(ctx.EffectiveChat.Id))
}

func (s *Service) cancel(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	if !s.engine.CancelBehaviorChange(ctx.EffectiveChat.Id) {
		return s.reply(ctx, b, "Nothing to cancel.")
	}
	return s.reply(ctx, b, "Behavior change canceled. The current behavior is kept.")
}

func (s *Service) model(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil {
		return nil
	}
	chatID := ctx.EffectiveChat.Id
	name, _ := splitFirstWord(commandRemainder(msg.GetText()))
	if name == "" {
		return s.reply(ctx, b, s.modelsText(chatID))
	}

	rctx, cancel := s.turnContext()
	defer cancel()
	bot, err := s.engine.SetModel(rctx, chatID, name)
	if err != nil {
		var ce *providers.ConfigError
		if errors.As(err, &ce) {
			return s.reply(ctx, b, fmt.Sprintf("Unknown model %q.\n\n%s", name, s.modelsText(chatID)))
		}
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("set model failed")
		return s.reply(ctx, b, errorText(err))
	}
	s.logAction(chatID, userID(ctx), storage.ActionModelSet, map[string]any{"model": name})
	active := s.engine.Provider()
	return s.reply(ctx, b, fmt.Sprintf("This chat now uses %s with %s.", providers.DisplayName(active), bot.Models.Get(active)))
}

func (s *Service) status(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	return s.replyWithMarkup(ctx, b, s.statusText(ctx.EffectiveChat.Id), s.backToMenuKeyboard())
}

// onText handles every non-command text message, edited ones included.
func (s *Service) onText(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil {
		return nil
	}
	if ctx.EditedMessage != nil {
		return s.reply(ctx, b, "Edited message: "+msg.Text)
	}

	chatID := ctx.EffectiveChat.Id
	tctx, cancel := s.turnContext()
	defer cancel()

	_, _ = b.SendChatActionWithContext(tctx, chatID, "typing", nil)

	reply, err := s.engine.HandleMessage(tctx, chatID, msg.Text)
	if err != nil {
		s.logTurnError(chatID, err)
		return s.reply(ctx, b, errorText(err))
	}

	switch reply.Kind {
	case conversation.ReplyBehaviorUpdated:
		s.logAction(chatID, userID(ctx), storage.ActionBehaviorSet, map[string]any{"length": len(reply.Text)})
		return s.reply(ctx, b, fmt.Sprintf("Defined the new bot behavior as: '%s'", reply.Text))
	default:
		return s.reply(ctx, b, reply.Text)
	}
}

func (s *Service) newThreadText(chatID, uid int64) string {
	rctx, cancel := s.turnContext()
	defer cancel()

	id, closed, err := s.engine.StartNewThread(rctx, chatID)
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("close thread failed")
		return errorText(err)
	}
	if !closed {
		return "There is no active thread in this chat. Send a message to start one!"
	}
	s.logAction(chatID, uid, storage.ActionThreadClose, map[string]any{"thread_id": id})
	return fmt.Sprintf("Thread %s has been closed. Start a new one!", id)
}

func (s *Service) behaviorText(chatID int64) string {
	rctx, cancel := s.turnContext()
	defer cancel()

	behavior, err := s.engine.Behavior(rctx, chatID)
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("load behavior failed")
		return errorText(err)
	}
	return fmt.Sprintf("The current bot behavior is defined as follows: '%s'. Use /set_behavior to change it.", behavior)
}

func (s *Service) requestBehaviorText(chatID int64) string {
	rctx, cancel := s.turnContext()
	defer cancel()

	if _, err := s.engine.RequestBehaviorChange(rctx, chatID); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("request behavior change failed")
		return errorText(err)
	}
	return "Please enter the desired bot behavior in the next message. Example: 'You are a helpful assistant.'\nSend /cancel to keep the current one."
}

func (s *Service) modelsText(chatID int64) string {
	rctx, cancel := s.turnContext()
	defer cancel()

	choice, err := s.engine.Models(rctx, chatID)
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("load models failed")
		return errorText(err)
	}
	lines := []string{fmt.Sprintf("%s models:", providers.DisplayName(choice.Provider))}
	for _, m := range choice.Available {
		line := "- " + m
		if m == choice.Current {
			line += " [current]"
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "Use /model <name> to switch.")
	return strings.Join(lines, "\n")
}

func (s *Service) statusText(chatID int64) string {
	rctx, cancel := s.turnContext()
	defer cancel()

	st, err := s.engine.Status(rctx, chatID)
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("load status failed")
		return errorText(err)
	}
	thread := "<none>"
	if st.ThreadID != "" {
		thread = fmt.Sprintf("%s (%d messages)", st.ThreadID, st.Messages)
	}
	return strings.Join([]string{
		"Chat status",
		st.Backend,
		fmt.Sprintf("chat_id: %d", chatID),
		fmt.Sprintf("state: %s", st.State),
		fmt.Sprintf("thread: %s", thread),
	}, "\n")
}

func (s *Service) logTurnError(chatID int64, err error) {
	var be *providers.BackendError
	var ce *providers.ConfigError
	switch {
	case errors.As(err, &be):
		s.logger.Warn().Err(err).Int64("chat_id", chatID).Str("provider", be.Provider).Msg("turn failed at backend")
	case errors.As(err, &ce):
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("backend is misconfigured")
	default:
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("turn failed")
	}
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	return s.replyWithMarkup(ctx, b, text, nil)
}

func userID(ctx *ext.Context) int64 {
	if ctx.EffectiveUser == nil {
		return 0
	}
	return ctx.EffectiveUser.Id
}
