package storage

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) LogAction(ctx context.Context, e AuditEntry) error {
	meta := []byte("{}")
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("marshal audit meta: %w", err)
		}
		meta = b
	}

	q := s.sql.Insert("audit_log").
		Columns("chat_id", "user_id", "action", "meta_json").
		Values(e.ChatID, e.UserID, e.Action, string(meta))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return wrapErr("insert audit entry", e.ChatID, "", err)
	}
	return nil
}

// RecentActions returns the newest audit actions for a chat, newest first.
func (s *Store) RecentActions(ctx context.Context, chatID int64, limit uint64) ([]string, error) {
	q := s.sql.Select("action").
		From("audit_log").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(limit)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent actions query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, wrapErr("recent actions", chatID, "", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, wrapErr("scan audit row", chatID, "", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate audit rows", chatID, "", err)
	}
	return out, nil
}
