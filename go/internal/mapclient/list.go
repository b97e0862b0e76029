package mapclient

import (
	"github.com/mcdev12/tavern/go/internal/models"
	"github.com/mcdev12/tavern/go/internal/relay"
)

func normalizeList(tokens []models.Token) []models.Token {
	out := make([]models.Token, 0, len(tokens))
	for _, t := range tokens {
		if models.TokenIndex(out, t.ID) >= 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

func addToken(tokens []models.Token, t models.Token) []models.Token {
	if models.TokenIndex(tokens, t.ID) >= 0 {
		return tokens
	}
	return append(tokens, t)
}

func updateToken(tokens []models.Token, p relay.UpdateTokenPayload) []models.Token {
	i := models.TokenIndex(tokens, p.ID)
	if i < 0 {
		return tokens
	}
	tokens[i].X, tokens[i].Y = p.X, p.Y
	if p.Width != nil {
		tokens[i].Width = *p.Width
	}
	if p.Height != nil {
		tokens[i].Height = *p.Height
	}
	return tokens
}

func removeToken(tokens []models.Token, id string) []models.Token {
	i := models.TokenIndex(tokens, id)
	if i < 0 {
		return tokens
	}
	return append(tokens[:i], tokens[i+1:]...)
}

// swapNeighbour returns a copy of tokens with id swapped one step towards the top (dir 1) or
// the bottom (dir -1). ok is false when id is unknown or already at that end.
func swapNeighbour(tokens []models.Token, id string, dir int) (out []models.Token, ok bool) {
	i := models.TokenIndex(tokens, id)
	j := i + dir
	if i < 0 || j < 0 || j >= len(tokens) {
		return tokens, false
	}
	out = make([]models.Token, len(tokens))
	copy(out, tokens)
	out[i], out[j] = out[j], out[i]
	return out, true
}
