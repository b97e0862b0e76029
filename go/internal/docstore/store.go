// Package docstore is the document database the session state lives in: point reads,
// merge-writes and live subscriptions keyed by a slash-separated document path.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when no document exists at the path.
var ErrNotFound = errors.New("document not found")

// ErrInvalidPath is returned for empty or malformed document paths.
var ErrInvalidPath = errors.New("invalid document path")

// Document is the JSON object stored at a path.
type Document map[string]any

// Snapshot is a point-in-time view of one document.
type Snapshot struct {
	Path      string
	Exists    bool
	Data      Document
	UpdatedAt time.Time
}

// CancelFunc stops a subscription. It is safe to call more than once.
type CancelFunc func()

// Store is implemented by every backend.
type Store interface {
	// Get returns the document at path or ErrNotFound.
	Get(ctx context.Context, path string) (Snapshot, error)
	// Set replaces the document at path.
	Set(ctx context.Context, path string, doc Document) error
	// Merge deep-merges doc into the document at path, creating it when absent.
	// Nested objects merge key by key; scalars, arrays and nulls replace.
	Merge(ctx context.Context, path string, doc Document) error
	// Subscribe calls fn with the current snapshot and then with every later change.
	// Deliveries for one subscription are sequential and coalesced: a slow fn only
	// ever sees the latest state.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (CancelFunc, error)
	Close() error
}

// Encode converts a JSON-tagged value into a Document.
func Encode(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode fills v from a Document.
func Decode(doc Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

func validatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") || strings.Contains(path, "//") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return nil
}

func marshalDocument(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	return json.Marshal(doc)
}

func unmarshalDocument(raw []byte) (Document, error) {
	doc := Document{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
