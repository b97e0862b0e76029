package chat

import (
	"net/url"
	"path"
	"strings"

	"github.com/mcdev12/tavern/go/internal/models"
)

// Classify decides how a plain message renders. Only a message that is a single URL is
// treated as media or a link.
func Classify(text string) models.MessageType {
	text = strings.TrimSpace(text)
	if strings.ContainsAny(text, " \t\n") {
		return models.MessageTypeText
	}
	u, err := url.Parse(text)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.MessageTypeText
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "youtu.be":
		return models.MessageTypeYouTube
	}

	switch strings.ToLower(path.Ext(u.Path)) {
	case ".gif":
		return models.MessageTypeGIF
	case ".png", ".jpg", ".jpeg", ".webp", ".bmp", ".svg":
		return models.MessageTypeImage
	case ".mp4", ".webm", ".mov", ".ogg":
		return models.MessageTypeVideo
	}
	if strings.HasSuffix(host, "giphy.com") || strings.HasSuffix(host, "tenor.com") {
		return models.MessageTypeGIF
	}
	return models.MessageTypeLink
}
