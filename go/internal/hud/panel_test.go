package hud

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mcdev12/tavern/go/internal/models"
)

func TestFilePanelStoreKeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.json")
	if err := os.WriteFile(path, []byte(`{"theme":"dark"}`), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := NewFilePanelStore(path)

	if pos, err := store.Load(); err != nil || pos != nil {
		t.Fatalf("Load() = %v, %v", pos, err)
	}
	if err := store.Save(models.PanelPosition{X: 12, Y: 34}); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(data, &values); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(values["theme"]) != `"dark"` {
		t.Fatalf("theme lost: %s", data)
	}
	if _, ok := values[PanelKey]; !ok {
		t.Fatalf("panel key missing: %s", data)
	}

	pos, err := store.Load()
	if err != nil || pos == nil || *pos != (models.PanelPosition{X: 12, Y: 34}) {
		t.Fatalf("Load() = %+v, %v", pos, err)
	}
}
