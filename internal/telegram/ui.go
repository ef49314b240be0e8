package telegram

import (
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

const (
	cbPrefix = "tb:"

	cbMenu        = cbPrefix + "menu"
	cbHelp        = cbPrefix + "help"
	cbNewThread   = cbPrefix + "new_thread"
	cbBehavior    = cbPrefix + "behavior"
	cbSetBehavior = cbPrefix + "set_behavior"
	cbModels      = cbPrefix + "models"
	cbStatus      = cbPrefix + "status"
)

func (s *Service) menu(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.replyWithMarkup(ctx, b, s.mainMenuText(), s.mainMenuKeyboard())
}

func (s *Service) helpText() string {
	return strings.Join([]string{
		"Send any message to talk to the assistant. The conversation is kept in the current thread.",
		"",
		"Commands:",
		"/new - close the current thread",
		"/behavior - show the assistant behavior",
		"/set_behavior - define a new behavior with your next message",
		"/cancel - keep the current behavior",
		"/model [name] - list or switch models",
		"/status - backend and thread info",
		"/menu - buttons for the above",
		"/version",
	}, "\n")
}

func (s *Service) mainMenuText() string {
	return strings.Join([]string{
		"threadbot menu",
		"",
		"Use the inline buttons below, or /help for the command list.",
	}, "\n")
}

func (s *Service) mainMenuKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{
			{Text: "New thread", CallbackData: cbNewThread},
			{Text: "Chat status", CallbackData: cbStatus},
		},
		{
			{Text: "Show behavior", CallbackData: cbBehavior},
			{Text: "Change behavior", CallbackData: cbSetBehavior},
		},
		{
			{Text: "Models", CallbackData: cbModels},
			{Text: "Help", CallbackData: cbHelp},
		},
	}}
}

func (s *Service) backToMenuKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{{Text: "Back to menu", CallbackData: cbMenu}},
	}}
}

func (s *Service) replyWithMarkup(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx == nil || ctx.EffectiveChat == nil {
		return nil
	}
	opts := &gotgbot.SendMessageOpts{}
	if markup != nil {
		opts.ReplyMarkup = *markup
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, truncate(text, maxMessageRunes), opts)
	return err
}
