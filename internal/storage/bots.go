package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"threadbot/internal/providers"
)

var modelColumns = map[string]string{
	providers.KindOpenAI: "openai_model",
	providers.KindGroq:   "groq_model",
	providers.KindStub:   "stub_model",
}

var botColumns = []string{"id", "behavior", "openai_model", "groq_model", "stub_model", "created_at", "updated_at"}

// GetOrCreateBot returns the chat's bot, creating it with the default
// behavior and default models. The upsert is a single statement, so
// concurrent first messages for one chat all get the same row.
func (s *Store) GetOrCreateBot(ctx context.Context, chatID int64) (ChatBot, error) {
	defaults := providers.DefaultSelection()
	q := s.sql.Insert("chat_bots").
		Columns("id", "behavior", "openai_model", "groq_model", "stub_model").
		Values(chatID, DefaultBehavior,
			defaults.Get(providers.KindOpenAI),
			defaults.Get(providers.KindGroq),
			defaults.Get(providers.KindStub),
		).
		Suffix("ON CONFLICT (id) DO UPDATE SET id = excluded.id").
		Suffix("RETURNING " + strings.Join(botColumns, ", "))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return ChatBot{}, fmt.Errorf("build get or create bot query: %w", err)
	}
	bot, err := scanBot(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		return ChatBot{}, wrapErr("get or create bot", chatID, "", err)
	}
	return bot, nil
}

func (s *Store) GetBot(ctx context.Context, chatID int64) (ChatBot, error) {
	q := s.sql.Select(botColumns...).From("chat_bots").Where(sq.Eq{"id": chatID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return ChatBot{}, fmt.Errorf("build get bot query: %w", err)
	}
	bot, err := scanBot(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		return ChatBot{}, wrapErr("get bot", chatID, "", err)
	}
	return bot, nil
}

// SetBehavior overwrites the behavior text. Empty text is stored as given.
func (s *Store) SetBehavior(ctx context.Context, botID int64, behavior string) (ChatBot, error) {
	q := s.sql.Update("chat_bots").
		Set("behavior", behavior).
		Set("updated_at", nowExpr(s.driver)).
		Where(sq.Eq{"id": botID}).
		Suffix("RETURNING " + strings.Join(botColumns, ", "))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return ChatBot{}, fmt.Errorf("build set behavior query: %w", err)
	}
	bot, err := scanBot(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		return ChatBot{}, wrapErr("set behavior", botID, "", err)
	}
	return bot, nil
}

// SetModelSelection changes the model one provider uses for this bot.
func (s *Store) SetModelSelection(ctx context.Context, botID int64, provider, model string) (ChatBot, error) {
	if err := providers.ValidateModel(provider, model); err != nil {
		return ChatBot{}, err
	}
	column := modelColumns[providers.NormalizeKind(provider)]

	q := s.sql.Update("chat_bots").
		Set(column, model).
		Set("updated_at", nowExpr(s.driver)).
		Where(sq.Eq{"id": botID}).
		Suffix("RETURNING " + strings.Join(botColumns, ", "))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return ChatBot{}, fmt.Errorf("build set model query: %w", err)
	}
	bot, err := scanBot(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		return ChatBot{}, wrapErr("set model", botID, "", err)
	}
	return bot, nil
}

func scanBot(row *sql.Row) (ChatBot, error) {
	var b ChatBot
	var openaiModel, groqModel, stubModel string
	var createdAt, updatedAt dbTime
	if err := row.Scan(&b.ID, &b.Behavior, &openaiModel, &groqModel, &stubModel, &createdAt, &updatedAt); err != nil {
		return ChatBot{}, err
	}
	b.CreatedAt, b.UpdatedAt = createdAt.Time, updatedAt.Time
	b.Models = providers.ModelSelection{
		providers.KindOpenAI: openaiModel,
		providers.KindGroq:   groqModel,
		providers.KindStub:   stubModel,
	}
	return b, nil
}
