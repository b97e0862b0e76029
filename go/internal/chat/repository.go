package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/tavern/go/internal/chat/db"
	"github.com/mcdev12/tavern/go/internal/models"
	"github.com/mcdev12/tavern/go/internal/sqlutil"
)

// Querier defines what the repository needs from the database layer
type Querier interface {
	CreateMessage(ctx context.Context, arg db.CreateMessageParams) (db.ChatMessage, error)
	ListRecentMessages(ctx context.Context, limit int32) ([]db.ChatMessage, error)
}

// Repository implements chat persistence on Postgres
type Repository struct {
	queries Querier
}

// NewRepository creates a new chat repository
func NewRepository(querier Querier) *Repository {
	return &Repository{
		queries: querier,
	}
}

// Insert stores msg
func (r *Repository) Insert(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	id, err := uuid.Parse(msg.ID)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("invalid message id: %w", err)
	}
	var dice pqtype.NullRawMessage
	if msg.Dice != nil {
		raw, err := json.Marshal(msg.Dice)
		if err != nil {
			return models.ChatMessage{}, fmt.Errorf("failed to marshal dice: %w", err)
		}
		dice = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	row, err := r.queries.CreateMessage(ctx, db.CreateMessageParams{
		ID:        id,
		UserNick:  msg.UserNick,
		UserEmail: sqlutil.ToSqlString(msg.UserEmail),
		Type:      string(msg.Type),
		Text:      msg.Text,
		Dice:      dice,
		CreatedAt: msg.Timestamp,
	})
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("failed to create chat message: %w", err)
	}
	return r.dbMessageToModel(row)
}

// Recent returns the newest limit messages, oldest first
func (r *Repository) Recent(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	rows, err := r.queries.ListRecentMessages(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	out := make([]models.ChatMessage, 0, len(rows))
	for _, row := range rows {
		msg, err := r.dbMessageToModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *Repository) dbMessageToModel(row db.ChatMessage) (models.ChatMessage, error) {
	msg := models.ChatMessage{
		ID:        row.ID.String(),
		UserNick:  row.UserNick,
		UserEmail: sqlutil.FromSqlString(row.UserEmail, ""),
		Type:      models.MessageType(row.Type),
		Text:      row.Text,
		Timestamp: row.CreatedAt.UTC(),
	}
	if row.Dice.Valid {
		var roll models.DiceRoll
		if err := json.Unmarshal(row.Dice.RawMessage, &roll); err != nil {
			return models.ChatMessage{}, fmt.Errorf("failed to decode dice for %s: %w", msg.ID, err)
		}
		msg.Dice = &roll
	}
	return msg, nil
}
