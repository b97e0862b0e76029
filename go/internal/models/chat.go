package models

import "time"

// MessageType classifies what a chat message renders as.
type MessageType string

const (
	MessageTypeText    MessageType = "text"
	MessageTypeImage   MessageType = "image"
	MessageTypeGIF     MessageType = "gif"
	MessageTypeVideo   MessageType = "video"
	MessageTypeYouTube MessageType = "youtube"
	MessageTypeLink    MessageType = "link"
	MessageTypeDice    MessageType = "dice"
)

// DiceTerm is one NdS group of a roll, or a flat modifier when Sides is zero.
type DiceTerm struct {
	Count   int   `json:"count"`
	Sides   int   `json:"sides"`
	Sign    int   `json:"sign"`
	Results []int `json:"results,omitempty"`
	Total   int   `json:"total"`
}

// DiceRoll is the breakdown stored with a dice message.
type DiceRoll struct {
	Expression string     `json:"expression"`
	Terms      []DiceTerm `json:"terms"`
	Total      int        `json:"total"`
	Seed       int64      `json:"seed"`
}

// ChatMessage is one entry in the session chat.
type ChatMessage struct {
	ID        string      `json:"id"`
	UserNick  string      `json:"userNick"`
	UserEmail string      `json:"userEmail"`
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	Dice      *DiceRoll   `json:"dice,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
