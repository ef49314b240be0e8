package storage

import (
	"time"

	"threadbot/internal/providers"
)

const DefaultBehavior = "You're a helpful assistant."

const (
	RoleUser      = providers.RoleUser
	RoleAssistant = providers.RoleAssistant
)

// ChatBot is the per-chat configuration. ID equals the chat id.
type ChatBot struct {
	ID        int64
	Behavior  string
	Models    providers.ModelSelection
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChatThread struct {
	ID        string
	ChatID    int64
	IsCurrent bool
	CreatedAt time.Time
	ClosedAt  *time.Time
}

type ChatMessage struct {
	ID         string
	ChatID     int64
	ThreadID   string
	Role       string
	Content    string
	InsertedAt time.Time
}

type AuditEntry struct {
	ChatID int64
	UserID int64
	Action string
	Meta   map[string]any
}

const (
	ActionBehaviorSet = "behavior.set"
	ActionThreadClose = "thread.close"
	ActionModelSet    = "model.set"
)
