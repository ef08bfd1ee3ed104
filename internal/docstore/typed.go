package docstore

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/roach88/archivist/internal/authz"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/mutation"
)

// Collection is a typed view over one collection. T is converted to and
// from the document field map through its JSON encoding, so json tags on T
// name the stored fields.
type Collection[T any] struct {
	store *Store
	name  string
}

// Typed pairs a decoded value with the document it came from.
type Typed[T any] struct {
	Value T
	Doc   *document.Document
}

// NewCollection returns a typed view of a registered collection.
func NewCollection[T any](s *Store, name string) (*Collection[T], error) {
	if _, err := s.registry.descriptor(name); err != nil {
		return nil, err
	}
	return &Collection[T]{store: s, name: name}, nil
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Create queues a new document holding value.
func (c *Collection[T]) Create(ctx context.Context, b Batch, auth authz.State, id string, value T) (*Typed[T], error) {
	fields, err := toFields(value)
	if err != nil {
		return nil, err
	}
	d, err := c.store.Create(ctx, b, auth, c.name, Seed{ID: id, Fields: fields})
	if err != nil {
		return nil, err
	}
	return c.wrap(d)
}

// Get loads and decodes a document. ok is false when it does not exist.
func (c *Collection[T]) Get(ctx context.Context, id string) (*Typed[T], bool, error) {
	d, ok, err := c.store.GetByID(ctx, c.name, id)
	if err != nil || !ok {
		return nil, false, err
	}
	t, err := c.wrap(d)
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// MustGet loads and decodes a document, failing with NOT_FOUND on a miss.
func (c *Collection[T]) MustGet(ctx context.Context, id string) (*Typed[T], error) {
	d, err := c.store.GetByIDWithAssert(ctx, c.name, id)
	if err != nil {
		return nil, err
	}
	return c.wrap(d)
}

// GetByIndex resolves value through field's index and decodes the owner.
func (c *Collection[T]) GetByIndex(ctx context.Context, field string, value any) (*Typed[T], bool, error) {
	d, ok, err := c.store.GetByIndex(ctx, c.name, field, value)
	if err != nil || !ok {
		return nil, false, err
	}
	t, err := c.wrap(d)
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// Replace queues an update that makes current's fields equal to value's
// encoding. Fields absent from value are deleted.
func (c *Collection[T]) Replace(ctx context.Context, b Batch, auth authz.State, current *document.Document, value T) (*Typed[T], error) {
	fields, err := toFields(value)
	if err != nil {
		return nil, err
	}
	d, err := c.store.Update(ctx, b, auth, current, diff(current.Fields, fields))
	if err != nil {
		return nil, err
	}
	return c.wrap(d)
}

// Decode converts a document's fields into T.
func (c *Collection[T]) Decode(d *document.Document) (T, error) {
	var v T
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", d.Collection, d.ID, err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", d.Collection, d.ID, err)
	}
	return v, nil
}

func (c *Collection[T]) wrap(d *document.Document) (*Typed[T], error) {
	v, err := c.Decode(d)
	if err != nil {
		return nil, err
	}
	return &Typed[T]{Value: v, Doc: d}, nil
}

func toFields(value any) (document.Fields, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, errs.Validation("encode fields: %v", err)
	}
	var fields document.Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errs.Validation("fields must encode to a JSON object: %v", err)
	}
	if fields == nil {
		fields = document.Fields{}
	}
	return fields, nil
}

// diff builds the mutations turning before into after.
func diff(before, after document.Fields) mutation.Updates {
	u := mutation.Updates{}
	for k := range before {
		if _, ok := after[k]; !ok {
			u[k] = mutation.Delete()
		}
	}
	for k, v := range after {
		if old, ok := before[k]; !ok || !mutation.Equal(old, v) {
			u[k] = mutation.Set(v)
		}
	}
	return u
}
