package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var threadColumns = []string{"id", "chat_id", "is_current", "created_at", "closed_at"}

// GetOrCreateCurrentThread returns the chat's current thread, opening a new
// one when none exists. The partial unique index on (chat_id) WHERE
// is_current keeps a concurrent opener from producing a second current row.
func (s *Store) GetOrCreateCurrentThread(ctx context.Context, chatID int64) (ChatThread, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ChatThread{}, wrapErr("begin thread tx", chatID, "", err)
	}
	defer func() { _ = tx.Rollback() }()

	th, err := s.currentThread(ctx, tx, chatID)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return ChatThread{}, wrapErr("commit thread tx", chatID, th.ID, err)
		}
		return th, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ChatThread{}, wrapErr("get current thread", chatID, "", err)
	}

	ins := s.sql.Insert("chat_threads").
		Columns("id", "chat_id", "is_current").
		Values(uuid.NewString(), chatID, true).
		Suffix("ON CONFLICT (chat_id) WHERE is_current = TRUE DO NOTHING")
	sqlStr, args, err := ins.ToSql()
	if err != nil {
		return ChatThread{}, fmt.Errorf("build create thread query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return ChatThread{}, wrapErr("create thread", chatID, "", err)
	}

	th, err = s.currentThread(ctx, tx, chatID)
	if err != nil {
		return ChatThread{}, wrapErr("get current thread", chatID, "", err)
	}
	if err := tx.Commit(); err != nil {
		return ChatThread{}, wrapErr("commit thread tx", chatID, th.ID, err)
	}
	return th, nil
}

// CloseCurrentThread marks the current thread closed. closed is false when
// the chat had no current thread.
func (s *Store) CloseCurrentThread(ctx context.Context, chatID int64) (threadID string, closed bool, err error) {
	q := s.sql.Update("chat_threads").
		Set("is_current", false).
		Set("closed_at", nowExpr(s.driver)).
		Where(sq.Eq{"chat_id": chatID, "is_current": true}).
		Suffix("RETURNING id")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build close thread query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, wrapErr("close thread", chatID, "", err)
	}
	return threadID, true, nil
}

// CurrentThread returns the current thread without creating one.
func (s *Store) CurrentThread(ctx context.Context, chatID int64) (ChatThread, error) {
	th, err := s.currentThread(ctx, s.db, chatID)
	if err != nil {
		return ChatThread{}, wrapErr("get current thread", chatID, "", err)
	}
	return th, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) currentThread(ctx context.Context, q queryRower, chatID int64) (ChatThread, error) {
	sel := s.sql.Select(threadColumns...).
		From("chat_threads").
		Where(sq.Eq{"chat_id": chatID, "is_current": true})
	sqlStr, args, err := sel.ToSql()
	if err != nil {
		return ChatThread{}, fmt.Errorf("build current thread query: %w", err)
	}

	var th ChatThread
	var createdAt, closedAt dbTime
	if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&th.ID, &th.ChatID, &th.IsCurrent, &createdAt, &closedAt); err != nil {
		return ChatThread{}, err
	}
	th.CreatedAt = createdAt.Time
	if closedAt.Valid {
		t := closedAt.Time
		th.ClosedAt = &t
	}
	return th, nil
}

func (s *Store) CountThreads(ctx context.Context, chatID int64) (int, error) {
	q := s.sql.Select("COUNT(*)").From("chat_threads").Where(sq.Eq{"chat_id": chatID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count threads query: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, wrapErr("count threads", chatID, "", err)
	}
	return n, nil
}
