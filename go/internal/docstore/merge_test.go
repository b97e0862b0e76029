package docstore

import (
	"reflect"
	"testing"
)

func TestMergeIntoNestedObjects(t *testing.T) {
	dst := Document{
		"world": map[string]any{"season": "Spring", "day": float64(1)},
		"turn":  map[string]any{"playerId": "a", "playerNick": "Ana", "startedAt": "t0"},
	}
	src := Document{
		"world": map[string]any{"day": float64(4)},
		"xpMap": map[string]any{"p1": map[string]any{"xp": float64(10), "level": float64(1)}},
	}

	got := MergeInto(dst, src)

	want := Document{
		"world": map[string]any{"season": "Spring", "day": float64(4)},
		"turn":  map[string]any{"playerId": "a", "playerNick": "Ana", "startedAt": "t0"},
		"xpMap": map[string]any{"p1": map[string]any{"xp": float64(10), "level": float64(1)}},
	}
	if !reflect.DeepEqual(normalizeForCompare(t, got), normalizeForCompare(t, want)) {
		t.Fatalf("merged = %#v, want %#v", got, want)
	}
}

func TestMergeIntoReplacesArraysAndScalars(t *testing.T) {
	dst := Document{
		"tokens": []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}},
		"name":   "old",
	}
	src := Document{
		"tokens": []any{map[string]any{"id": "c"}},
		"name":   nil,
	}

	got := MergeInto(dst, src)

	tokens, ok := got["tokens"].([]any)
	if !ok || len(tokens) != 1 {
		t.Fatalf("tokens = %#v, want single element", got["tokens"])
	}
	if got["name"] != nil {
		t.Fatalf("name = %#v, want nil", got["name"])
	}
}

func TestMergeIntoDoesNotAliasSource(t *testing.T) {
	inner := map[string]any{"x": float64(1)}
	src := Document{"pos": inner}

	got := MergeInto(nil, src)
	inner["x"] = float64(99)

	pos := got["pos"].(map[string]any)
	if pos["x"] != float64(1) {
		t.Fatalf("merged value changed with source: %v", pos["x"])
	}
}

func TestClone(t *testing.T) {
	if Clone(nil) != nil {
		t.Fatalf("Clone(nil) should be nil")
	}
	doc := Document{"list": []any{map[string]any{"k": "v"}}}
	cp := Clone(doc)
	cp["list"].([]any)[0].(map[string]any)["k"] = "changed"
	if doc["list"].([]any)[0].(map[string]any)["k"] != "v" {
		t.Fatalf("clone shares nested values")
	}
}

func normalizeForCompare(t *testing.T, doc Document) Document {
	t.Helper()
	out, err := normalize(doc)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return out
}
