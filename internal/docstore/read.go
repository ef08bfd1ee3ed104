package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/index"
	"github.com/roach88/archivist/internal/query"
)

// Page bounds a listing. Limit <= 0 means no limit.
type Page struct {
	Limit      int
	Offset     int
	Descending bool
}

// GetByID loads a document. ok is false when it does not exist.
func (s *Store) GetByID(ctx context.Context, collection, id string) (*document.Document, bool, error) {
	body, ok, err := s.backend.Get(ctx, collection, id)
	if err != nil || !ok {
		return nil, false, err
	}
	d, err := decode(collection, body)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// GetByIDWithAssert loads a document and fails with NOT_FOUND when it does
// not exist.
func (s *Store) GetByIDWithAssert(ctx context.Context, collection, id string) (*document.Document, error) {
	d, ok, err := s.GetByID(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NotFound(collection, id)
	}
	return d, nil
}

// GetByIndex resolves value through the declared index on field and loads
// the owning document. An entry whose owner no longer exists resolves to
// nothing.
func (s *Store) GetByIndex(ctx context.Context, collection, field string, value any) (*document.Document, bool, error) {
	f, err := s.indexField(collection, field)
	if err != nil {
		return nil, false, err
	}
	id, ok, err := s.indexes.Get(ctx, collection, f, value)
	if err != nil || !ok {
		return nil, false, err
	}
	d, ok, err := s.GetByID(ctx, collection, id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		s.logger.Debugw("orphaned index entry", "collection", collection, "field", field, "id", id)
	}
	return d, ok, nil
}

// GetByIndexWithAssert is GetByIndex failing with NOT_FOUND on a miss.
func (s *Store) GetByIndexWithAssert(ctx context.Context, collection, field string, value any) (*document.Document, error) {
	d, ok, err := s.GetByIndex(ctx, collection, field, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &errs.Error{
			Code:       errs.CodeNotFound,
			Message:    fmt.Sprintf("no document with %s %q", field, fmt.Sprint(value)),
			Collection: collection,
			Field:      field,
		}
	}
	return d, nil
}

// ListByIndex loads every document whose field maps to value, in index
// insertion order. Orphaned entries are skipped.
func (s *Store) ListByIndex(ctx context.Context, collection, field string, value any) ([]*document.Document, error) {
	f, err := s.indexField(collection, field)
	if err != nil {
		return nil, err
	}
	ids, err := s.indexes.List(ctx, collection, f, value)
	if err != nil {
		return nil, err
	}
	out := make([]*document.Document, 0, len(ids))
	for _, id := range ids {
		d, ok, err := s.GetByID(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetAllForState lists documents whose track currently holds value, ordered
// by creation date. Approval takes a document.ApprovalState (or its string
// form); the other tracks take a bool.
func (s *Store) GetAllForState(ctx context.Context, collection string, track document.Track, value any, page Page) ([]*document.Document, error) {
	desc, err := s.registry.descriptor(collection)
	if err != nil {
		return nil, err
	}
	if !desc.HasTrack(track) {
		return nil, errs.Validation("collection %s does not carry the %s track", collection, track)
	}
	v, err := stateValue(track, value)
	if err != nil {
		return nil, err
	}
	return s.scan(ctx, query.Scan{
		Collection: collection,
		Filter:     query.Equals{Path: track.StatePath(), Value: v},
		Limit:      page.Limit,
		Offset:     page.Offset,
		Descending: page.Descending,
	})
}

// List returns every document of a collection ordered by creation date.
func (s *Store) List(ctx context.Context, collection string, page Page) ([]*document.Document, error) {
	if _, err := s.registry.descriptor(collection); err != nil {
		return nil, err
	}
	return s.scan(ctx, query.Scan{
		Collection: collection,
		Limit:      page.Limit,
		Offset:     page.Offset,
		Descending: page.Descending,
	})
}

// Count returns the number of documents in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if _, err := s.registry.descriptor(collection); err != nil {
		return 0, err
	}
	return s.backend.Count(ctx, query.Scan{Collection: collection})
}

func (s *Store) scan(ctx context.Context, q query.Scan) ([]*document.Document, error) {
	rows, err := s.backend.Scan(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*document.Document, 0, len(rows))
	for _, r := range rows {
		d, err := decode(q.Collection, r.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) indexField(collection, field string) (index.Field, error) {
	desc, err := s.registry.descriptor(collection)
	if err != nil {
		return index.Field{}, err
	}
	f, ok := desc.Index(field)
	if !ok {
		return index.Field{}, &errs.Error{
			Code:       errs.CodeValidationFailed,
			Message:    "field is not indexed",
			Collection: collection,
			Field:      field,
		}
	}
	return f, nil
}

func stateValue(track document.Track, value any) (any, error) {
	if track == document.TrackApproval {
		switch v := value.(type) {
		case document.ApprovalState:
			return string(v), nil
		case string:
			return v, nil
		}
		return nil, errs.Validation("approval state must be a string, got %T", value)
	}
	b, ok := value.(bool)
	if !ok {
		return nil, errs.Validation("%s state must be a bool, got %T", track, value)
	}
	return b, nil
}

func withLocation(err error, collection, field string) error {
	var e *errs.Error
	if errors.As(err, &e) {
		cp := *e
		cp.Collection = collection
		cp.Field = field
		return &cp
	}
	return err
}
