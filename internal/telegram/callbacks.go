package telegram

import (
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

func (s *Service) onCallback(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx == nil || ctx.CallbackQuery == nil {
		return nil
	}

	data := strings.TrimSpace(ctx.CallbackQuery.Data)
	chatID, ok := s.callbackChatID(ctx)
	if !ok {
		s.answerCallback(b, ctx, "Chat is unavailable for this action.", true)
		return nil
	}
	s.answerCallback(b, ctx, "", false)

	switch data {
	case cbMenu:
		return s.editOrReplyCallback(ctx, b, s.mainMenuText(), s.mainMenuKeyboard())

	case cbHelp:
		return s.editOrReplyCallback(ctx, b, s.helpText(), s.backToMenuKeyboard())

	case cbNewThread:
		return s.editOrReplyCallback(ctx, b, s.newThreadText(chatID, userID(ctx)), s.backToMenuKeyboard())

	case cbBehavior:
		return s.editOrReplyCallback(ctx, b, s.behaviorText(chatID), s.backToMenuKeyboard())

	case cbSetBehavior:
		return s.editOrReplyCallback(ctx, b, s.requestBehaviorText(chatID), nil)

	case cbModels:
		return s.editOrReplyCallback(ctx, b, s.modelsText(chatID), s.backToMenuKeyboard())

	case cbStatus:
		return s.editOrReplyCallback(ctx, b, s.statusText(chatID), s.backToMenuKeyboard())

	default:
		s.answerCallback(b, ctx, fmt.Sprintf("Unknown action: %s", data), true)
		return nil
	}
}

func (s *Service) answerCallback(b *gotgbot.Bot, ctx *ext.Context, text string, alert bool) {
	if ctx == nil || ctx.CallbackQuery == nil {
		return
	}
	opts := &gotgbot.AnswerCallbackQueryOpts{ShowAlert: alert}
	if text != "" {
		opts.Text = text
	}
	_, _ = b.AnswerCallbackQuery(ctx.CallbackQuery.Id, opts)
}

func (s *Service) editOrReplyCallback(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx != nil && ctx.CallbackQuery != nil && ctx.CallbackQuery.Message != nil {
		opts := &gotgbot.EditMessageTextOpts{}
		if markup != nil {
			opts.ReplyMarkup = *markup
		}
		_, _, err := ctx.CallbackQuery.Message.EditText(b, truncate(text, maxMessageRunes), opts)
		if err == nil {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
	}
	return s.replyWithMarkup(ctx, b, text, markup)
}

func (s *Service) callbackChatID(ctx *ext.Context) (int64, bool) {
	if ctx != nil && ctx.EffectiveChat != nil {
		return ctx.EffectiveChat.Id, true
	}
	if ctx != nil && ctx.CallbackQuery != nil && ctx.CallbackQuery.Message != nil {
		chat := ctx.CallbackQuery.Message.GetChat()
		return chat.Id, true
	}
	return 0, false
}
