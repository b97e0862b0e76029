package relay

import (
	"testing"
	"time"

	"github.com/mcdev12/tavern/go/internal/models"
)

func tok(id string) models.Token {
	return models.Token{ID: id, ImageRef: id + ".png", Width: 50, Height: 50}
}

func ids(tokens []models.Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.ID
	}
	return out
}

func equalIDs(a []models.Token, want ...string) bool {
	got := ids(a)
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestBoardAddIsIdempotent(t *testing.T) {
	b := NewBoard("m1", nil)
	if !b.Add(tok("a")) {
		t.Fatal("first add reported no change")
	}
	if b.Add(models.Token{ID: "a", ImageRef: "other.png"}) {
		t.Fatal("duplicate add reported a change")
	}
	tokens := b.Tokens()
	if len(tokens) != 1 || tokens[0].ImageRef != "a.png" {
		t.Fatalf("tokens = %+v", tokens)
	}
}

func TestBoardUpdateAndDelete(t *testing.T) {
	b := NewBoard("m1", []models.Token{tok("a"), tok("b")})

	w := 80.0
	if !b.Update(UpdateTokenPayload{ID: "b", X: 10, Y: 20, Width: &w}) {
		t.Fatal("update of known token reported no change")
	}
	got := b.Tokens()[1]
	if got.X != 10 || got.Y != 20 || got.Width != 80 || got.Height != 50 {
		t.Fatalf("updated token = %+v", got)
	}
	if b.Update(UpdateTokenPayload{ID: "zz", X: 1}) {
		t.Fatal("update of unknown token reported a change")
	}

	if !b.Delete("a") || b.Delete("a") {
		t.Fatal("delete should change once")
	}
	if !equalIDs(b.Tokens(), "b") {
		t.Fatalf("tokens = %v", ids(b.Tokens()))
	}
}

func TestBoardReorderDropsDuplicates(t *testing.T) {
	b := NewBoard("m1", []models.Token{tok("a"), tok("b")})
	b.Reorder([]models.Token{tok("b"), tok("a"), tok("b"), tok("c")})
	if !equalIDs(b.Tokens(), "b", "a", "c") {
		t.Fatalf("tokens = %v", ids(b.Tokens()))
	}
}

func TestBoardTokensIsACopy(t *testing.T) {
	b := NewBoard("m1", []models.Token{tok("a")})
	tokens := b.Tokens()
	tokens[0].X = 999
	if b.Tokens()[0].X != 0 {
		t.Fatal("caller mutated the board")
	}
}

func TestBoardApply(t *testing.T) {
	b := NewBoard("m1", nil)
	now := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

	steps := []struct {
		eventType EventType
		payload   any
		changed   bool
		want      []string
	}{
		{EventTypeAddToken, tok("a"), true, []string{"a"}},
		{EventTypeAddToken, tok("b"), true, []string{"a", "b"}},
		{EventTypeAddToken, tok("a"), false, []string{"a", "b"}},
		{EventTypeReorder, ReorderPayload{Tokens: []models.Token{tok("b"), tok("a")}}, true, []string{"b", "a"}},
		{EventTypeDeleteToken, DeleteTokenPayload{ID: "b"}, true, []string{"a"}},
		{EventTypeUpdateToken, UpdateTokenPayload{ID: "b", X: 3}, false, []string{"a"}},
	}
	for i, step := range steps {
		event, err := NewEvent(step.eventType, "m1", "gm", step.payload, now)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		changed, err := b.Apply(event)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if changed != step.changed || !equalIDs(b.Tokens(), step.want...) {
			t.Fatalf("step %d: changed=%v tokens=%v", i, changed, ids(b.Tokens()))
		}
	}

	initEvent, _ := NewEvent(EventTypeInit, "m1", "", InitPayload{}, now)
	if _, err := b.Apply(initEvent); err == nil {
		t.Fatal("init applied as a mutation")
	}
}
