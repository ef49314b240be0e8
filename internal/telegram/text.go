package telegram

import (
	"errors"
	"strings"
	"unicode/utf8"

	"threadbot/internal/providers"
	"threadbot/internal/storage"
)

// Telegram rejects messages over 4096 characters.
const maxMessageRunes = 4000

func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}

// errorText renders a failed turn for the user.
func errorText(err error) string {
	var be *providers.BackendError
	var ce *providers.ConfigError
	var se *storage.Error
	switch {
	case errors.As(err, &be):
		return "Error: " + be.Reason
	case errors.As(err, &ce):
		return "The assistant backend is not configured correctly: " + ce.Error()
	case errors.As(err, &se):
		return "Failed to access the conversation history. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}

func commandRemainder(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func splitFirstWord(s string) (first string, rest string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}
