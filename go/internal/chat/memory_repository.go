package chat

import (
	"context"
	"sync"

	"github.com/mcdev12/tavern/go/internal/models"
)

// MemoryRepository keeps the most recent messages in process.
type MemoryRepository struct {
	mu       sync.RWMutex
	messages []models.ChatMessage
	capacity int
}

// NewMemoryRepository keeps at most capacity messages.
func NewMemoryRepository(capacity int) *MemoryRepository {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &MemoryRepository{capacity: capacity}
}

func (r *MemoryRepository) Insert(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	if over := len(r.messages) - r.capacity; over > 0 {
		r.messages = append([]models.ChatMessage(nil), r.messages[over:]...)
	}
	return msg, nil
}

func (r *MemoryRepository) Recent(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start := max(0, len(r.messages)-limit)
	out := make([]models.ChatMessage, len(r.messages)-start)
	copy(out, r.messages[start:])
	return out, nil
}
