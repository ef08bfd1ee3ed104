package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testDoc builds a minimal document body with a creation date.
func testDoc(id string, created time.Time, extra map[string]any) map[string]any {
	doc := map[string]any{
		"id":             id,
		"dateOfCreation": created.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range extra {
		doc[k] = v
	}
	return doc
}

// commitDocs writes docs into collection in one batch.
func commitDocs(t *testing.T, s *Store, collection string, docs ...map[string]any) {
	t.Helper()
	b := s.NewBatch()
	for _, d := range docs {
		if err := b.Set(collection, d["id"].(string), d, false); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}
	if err := b.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}
