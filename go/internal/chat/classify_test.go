package chat

import (
	"testing"

	"github.com/mcdev12/tavern/go/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want models.MessageType
	}{
		{"hello there", models.MessageTypeText},
		{"https://example.com/map.png", models.MessageTypeImage},
		{"https://example.com/MAP.JPG?x=1", models.MessageTypeImage},
		{"https://media.example.com/dance.gif", models.MessageTypeGIF},
		{"https://tenor.com/view/xyz", models.MessageTypeGIF},
		{"https://example.com/clip.mp4", models.MessageTypeVideo},
		{"https://www.youtube.com/watch?v=abc", models.MessageTypeYouTube},
		{"https://youtu.be/abc", models.MessageTypeYouTube},
		{"https://example.com/wiki", models.MessageTypeLink},
		{"look https://example.com/map.png", models.MessageTypeText},
		{"ftp://example.com/a.png", models.MessageTypeText},
	}
	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}
