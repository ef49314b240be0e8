package conversation

import (
	"context"

	"threadbot/internal/providers"
	"threadbot/internal/storage"
)

// assemble prepends the behavior as a system entry and keeps the stored
// order of the thread's messages. Nothing is trimmed.
func assemble(behavior string, history []storage.ChatMessage) []providers.Message {
	out := make([]providers.Message, 0, len(history)+1)
	out = append(out, providers.Message{Role: providers.RoleSystem, Content: behavior})
	for _, m := range history {
		out = append(out, providers.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// BuildPayload reads the bot's current behavior and the thread history and
// returns the ordered completion payload.
func (e *Engine) BuildPayload(ctx context.Context, chatID int64, threadID string) ([]providers.Message, error) {
	bot, err := e.store.GetBot(ctx, chatID)
	if err != nil {
		return nil, err
	}
	history, err := e.store.ListThreadMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return assemble(bot.Behavior, history), nil
}
