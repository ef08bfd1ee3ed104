package store

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/roach88/archivist/internal/query"
)

func scanAll(collection string) query.Scan {
	return query.Scan{Collection: collection}
}

func ids(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestScan_OrdersByCreationDate(t *testing.T) {
	s := createTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Inserted out of date order; fractional seconds of varying width.
	commitDocs(t, s, "log",
		testDoc("c", base.Add(2*time.Second), nil),
		testDoc("a", base, nil),
		testDoc("b", base.Add(1500*time.Millisecond), nil),
	)

	rows, err := s.Scan(context.Background(), scanAll("log"))
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if got := ids(rows); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("ids = %v, want [a b c]", got)
	}

	rows, err = s.Scan(context.Background(), query.Scan{Collection: "log", Descending: true})
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if got := ids(rows); !reflect.DeepEqual(got, []string{"c", "b", "a"}) {
		t.Errorf("desc ids = %v, want [c b a]", got)
	}
}

func TestScan_TiesBrokenByInsertion(t *testing.T) {
	s := createTestStore(t)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	commitDocs(t, s, "log", testDoc("z", at, nil), testDoc("y", at, nil))

	rows, err := s.Scan(context.Background(), scanAll("log"))
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if got := ids(rows); !reflect.DeepEqual(got, []string{"z", "y"}) {
		t.Errorf("ids = %v, want [z y]", got)
	}
}

func TestScan_FilterAndPaging(t *testing.T) {
	s := createTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var docs []map[string]any
	for i, id := range []string{"a", "b", "c", "d", "e", "f"} {
		docs = append(docs, testDoc(id, base.Add(time.Duration(i)*time.Minute), map[string]any{
			"archival": map[string]any{"isArchived": i%2 == 0},
		}))
	}
	commitDocs(t, s, "docs", docs...)
	ctx := context.Background()

	rows, err := s.Scan(ctx, query.Scan{
		Collection: "docs",
		Filter:     query.Equals{Path: "archival.isArchived", Value: true},
	})
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if got := ids(rows); !reflect.DeepEqual(got, []string{"a", "c", "e"}) {
		t.Errorf("archived ids = %v", got)
	}

	rows, err = s.Scan(ctx, query.Scan{Collection: "docs", Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if got := ids(rows); !reflect.DeepEqual(got, []string{"e", "f"}) {
		t.Errorf("page ids = %v", got)
	}

	n, err := s.Count(ctx, query.Scan{Collection: "docs", Limit: 1})
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 6 {
		t.Errorf("Count() = %d, want 6", n)
	}
}

func TestScan_EmptyCollectionReturnsEmptySlice(t *testing.T) {
	s := createTestStore(t)
	rows, err := s.Scan(context.Background(), scanAll("nothing"))
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("rows = %#v, want empty non-nil slice", rows)
	}
}

func TestCollections(t *testing.T) {
	s := createTestStore(t)
	commitDocs(t, s, "b", map[string]any{"id": "1"})
	commitDocs(t, s, "a", map[string]any{"id": "1"})

	got, err := s.Collections(context.Background())
	if err != nil {
		t.Fatalf("Collections() failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Collections() = %v", got)
	}
}
