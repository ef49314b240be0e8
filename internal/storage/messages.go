package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// AppendMessage inserts one message into a thread and returns its id.
// Messages are never updated or removed.
func (s *Store) AppendMessage(ctx context.Context, chatID int64, threadID, role, content string) (string, error) {
	id := uuid.NewString()
	q := s.sql.Insert("chat_messages").
		Columns("id", "chat_id", "thread_id", "role", "content").
		Values(id, chatID, threadID, role, content)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build append message query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return "", wrapErr("append message", chatID, threadID, err)
	}
	return id, nil
}

// ListThreadMessages returns a thread's messages in insertion order.
func (s *Store) ListThreadMessages(ctx context.Context, threadID string) ([]ChatMessage, error) {
	q := s.sql.Select("id", "chat_id", "thread_id", "role", "content", "inserted_at").
		From("chat_messages").
		Where(sq.Eq{"thread_id": threadID}).
		OrderBy("inserted_at ASC", "seq ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, wrapErr("list messages", 0, threadID, err)
	}
	defer rows.Close()

	out := make([]ChatMessage, 0)
	for rows.Next() {
		var m ChatMessage
		var insertedAt dbTime
		if err := rows.Scan(&m.ID, &m.ChatID, &m.ThreadID, &m.Role, &m.Content, &insertedAt); err != nil {
			return nil, wrapErr("scan message row", 0, threadID, err)
		}
		m.InsertedAt = insertedAt.Time
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate message rows", 0, threadID, err)
	}
	return out, nil
}
