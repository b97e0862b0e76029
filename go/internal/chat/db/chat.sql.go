package db

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

//go:embed schema.sql
var Schema string

func (q *Queries) EnsureSchema(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, Schema)
	return err
}

const createMessage = `-- name: CreateMessage :one
INSERT INTO chat_messages (id, user_nick, user_email, type, text, dice, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, user_nick, user_email, type, text, dice, created_at
`

type CreateMessageParams struct {
	ID        uuid.UUID             `json:"id"`
	UserNick  string                `json:"user_nick"`
	UserEmail sql.NullString        `json:"user_email"`
	Type      string                `json:"type"`
	Text      string                `json:"text"`
	Dice      pqtype.NullRawMessage `json:"dice"`
	CreatedAt time.Time             `json:"created_at"`
}

func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) (ChatMessage, error) {
	row := q.db.QueryRowContext(ctx, createMessage,
		arg.ID,
		arg.UserNick,
		arg.UserEmail,
		arg.Type,
		arg.Text,
		arg.Dice,
		arg.CreatedAt,
	)
	var i ChatMessage
	err := row.Scan(
		&i.ID,
		&i.UserNick,
		&i.UserEmail,
		&i.Type,
		&i.Text,
		&i.Dice,
		&i.CreatedAt,
	)
	return i, err
}

const listRecentMessages = `-- name: ListRecentMessages :many
SELECT id, user_nick, user_email, type, text, dice, created_at FROM (
    SELECT id, user_nick, user_email, type, text, dice, created_at
    FROM chat_messages
    ORDER BY created_at DESC, id DESC
    LIMIT $1
) recent
ORDER BY created_at ASC, id ASC
`

func (q *Queries) ListRecentMessages(ctx context.Context, limit int32) ([]ChatMessage, error) {
	rows, err := q.db.QueryContext(ctx, listRecentMessages, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ChatMessage
	for rows.Next() {
		var i ChatMessage
		if err := rows.Scan(
			&i.ID,
			&i.UserNick,
			&i.UserEmail,
			&i.Type,
			&i.Text,
			&i.Dice,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
