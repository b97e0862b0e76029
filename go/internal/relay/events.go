package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/tavern/go/internal/models"
)

// Event is the envelope for every battle map message in both directions
type Event struct {
	Type      EventType       `json:"type"`
	MapID     string          `json:"map_id"`
	Origin    string          `json:"origin,omitempty"` // Actor that caused the change
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType represents the type of battle map event
type EventType string

const (
	EventTypeInit        EventType = "init"
	EventTypeAddToken    EventType = "addToken"
	EventTypeUpdateToken EventType = "updateToken"
	EventTypeDeleteToken EventType = "deleteToken"
	EventTypeReorder     EventType = "reorder"
)

// InitPayload carries the full list sent when a client connects
type InitPayload struct {
	Tokens []models.Token `json:"tokens"`
}

// UpdateTokenPayload moves or resizes a token. Nil sizes are left unchanged. Dragging marks
// an in-flight drag position, which is relayed but not persisted.
type UpdateTokenPayload struct {
	ID       string   `json:"id"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Width    *float64 `json:"width,omitempty"`
	Height   *float64 `json:"height,omitempty"`
	Dragging bool     `json:"dragging,omitempty"`
}

// DeleteTokenPayload names the token to remove
type DeleteTokenPayload struct {
	ID string `json:"id"`
}

// ReorderPayload is the complete list in its new z-order
type ReorderPayload struct {
	Tokens []models.Token `json:"tokens"`
}

// NewEvent wraps payload in an envelope.
func NewEvent(eventType EventType, mapID, origin string, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		Type:      eventType,
		MapID:     mapID,
		Origin:    origin,
		Timestamp: now.UTC(),
		Data:      data,
	}, nil
}

// ParsePayload decodes the event data into the payload struct for its type
func ParsePayload(event Event) (any, error) {
	switch event.Type {
	case EventTypeInit:
		var payload InitPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeAddToken:
		var payload models.Token
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeUpdateToken:
		var payload UpdateTokenPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeDeleteToken:
		var payload DeleteTokenPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeReorder:
		var payload ReorderPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unknown event type %q", event.Type)
	}
}
