package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type ChatMessage struct {
	ID        uuid.UUID             `json:"id"`
	UserNick  string                `json:"user_nick"`
	UserEmail sql.NullString        `json:"user_email"`
	Type      string                `json:"type"`
	Text      string                `json:"text"`
	Dice      pqtype.NullRawMessage `json:"dice"`
	CreatedAt time.Time             `json:"created_at"`
}
