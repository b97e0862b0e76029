// Package chat stores the session chat and rolls dice for /roll commands.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tavern/go/internal/models"
)

// DefaultHistory is how many messages Recent returns when no limit is given.
const DefaultHistory = 100

const maxMessageLength = 2000

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
)

// IsValidation reports whether err was caused by the caller's input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyMessage) || errors.Is(err, ErrMessageTooLong) || errors.Is(err, ErrInvalidDice)
}

// ChatRepository defines what the app needs from persistence
type ChatRepository interface {
	Insert(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error)
	Recent(ctx context.Context, limit int) ([]models.ChatMessage, error)
}

// App implements chat business logic
type App struct {
	repo    ChatRepository
	clock   clockwork.Clock
	history int
	seed    func() int64
}

// NewApp creates a new chat App
func NewApp(repo ChatRepository, clock clockwork.Clock, history int) *App {
	if history <= 0 {
		history = DefaultHistory
	}
	return &App{
		repo:    repo,
		clock:   clock,
		history: history,
		seed:    func() int64 { return clock.Now().UnixNano() },
	}
}

// Post stores text from who. "/roll <expr>" and "/r <expr>" become dice messages.
func (a *App) Post(ctx context.Context, who models.Actor, text string) (models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}
	if len(text) > maxMessageLength {
		return models.ChatMessage{}, ErrMessageTooLong
	}

	msg := models.ChatMessage{
		ID:        uuid.New().String(),
		UserNick:  displayName(who),
		UserEmail: who.Email,
		Text:      text,
		Timestamp: a.clock.Now().UTC(),
	}

	if expr, ok := rollCommand(text); ok {
		roll, err := Roll(expr, a.seed())
		if err != nil {
			return models.ChatMessage{}, err
		}
		msg.Type = models.MessageTypeDice
		msg.Dice = &roll
	} else {
		msg.Type = Classify(text)
	}

	stored, err := a.repo.Insert(ctx, msg)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("failed to store chat message: %w", err)
	}

	log.Debug().
		Str("message_id", stored.ID).
		Str("nick", stored.UserNick).
		Str("type", string(stored.Type)).
		Msg("chat message posted")
	return stored, nil
}

// Recent returns up to limit messages, oldest first. Limits outside (0, history] use history.
func (a *App) Recent(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > a.history {
		limit = a.history
	}
	msgs, err := a.repo.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	return msgs, nil
}

func rollCommand(text string) (string, bool) {
	for _, prefix := range []string{"/roll", "/r"} {
		if text == prefix {
			return "", true
		}
		if strings.HasPrefix(text, prefix+" ") {
			return strings.TrimSpace(text[len(prefix):]), true
		}
	}
	return "", false
}

func displayName(who models.Actor) string {
	switch {
	case who.Nick != "":
		return who.Nick
	case who.ID != "":
		return who.ID
	default:
		return "anonymous"
	}
}
