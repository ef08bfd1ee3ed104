package docstore

import (
	"context"
	"fmt"
	"maps"

	"github.com/roach88/archivist/internal/audit"
	"github.com/roach88/archivist/internal/authz"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/index"
	"github.com/roach88/archivist/internal/mutation"
)

// Seed is the initial content of a new document. ID is optional; the
// store generates one when it is empty.
type Seed struct {
	ID     string
	Fields document.Fields
}

// Create composes a new document from seed, records its creation history,
// initializes the collection's workflow tracks and queues the document and
// its index entries into b.
//
// A declared unique value that is already claimed, or an explicit id that
// already exists, fails with ALREADY_EXISTS. That check reads committed
// state only; two uncommitted batches can still claim the same value.
func (s *Store) Create(ctx context.Context, b Batch, auth authz.State, collection string, seed Seed) (*document.Document, error) {
	desc, err := s.registry.descriptor(collection)
	if err != nil {
		return nil, err
	}
	if err := s.gate(auth, collection, authz.ActionCreate); err != nil {
		return nil, err
	}

	id := seed.ID
	if id == "" {
		id = s.ids.Generate()
	} else {
		_, exists, err := s.backend.Get(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, &errs.Error{
				Code:       errs.CodeAlreadyExists,
				Message:    "document id is already taken",
				Collection: collection,
				DocumentID: id,
			}
		}
	}

	fields := maps.Clone(seed.Fields)
	if fields == nil {
		fields = document.Fields{}
	}
	if err := s.checkIndexValues(ctx, desc, fields, id); err != nil {
		return nil, err
	}

	d := &document.Document{Record: document.Record{
		ID:              id,
		Collection:      collection,
		DateOfCreation:  s.clock.Now().UTC(),
		UserIDOfCreator: auth.UserID,
		Fields:          fields,
	}}
	document.NewTracks(&d.Record, desc.Tracks...)

	d, err = audit.RecordCreate(d)
	if err != nil {
		return nil, err
	}

	if err := s.put(b, d); err != nil {
		return nil, err
	}
	for _, f := range desc.Indexes {
		v, ok := fields[f.Name]
		if !ok || v == nil {
			continue
		}
		if err := s.indexes.Put(b, collection, f, v, id); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Update merges updates into current, appends a history entry stamped with
// the caller and queues the merged document. Index entries are moved for
// every declared field whose value changed. current must be the caller's
// latest snapshot; it is not re-read.
func (s *Store) Update(ctx context.Context, b Batch, auth authz.State, current *document.Document, updates mutation.Updates) (*document.Document, error) {
	if current == nil {
		return nil, errs.Validation("update requires the current document")
	}
	desc, err := s.registry.descriptor(current.Collection)
	if err != nil {
		return nil, err
	}
	if err := s.gate(auth, current.Collection, authz.ActionUpdate); err != nil {
		return nil, err
	}

	merged, err := audit.RecordUpdate(current, audit.Partial{Fields: updates}, auth.UserID, s.clock.Now())
	if err != nil {
		return nil, err
	}

	changed := changedIndexes(desc, current.Fields, merged.Fields)
	if err := s.checkIndexValues(ctx, desc, onlyFields(merged.Fields, changed), current.ID); err != nil {
		return nil, err
	}

	if err := s.put(b, merged); err != nil {
		return nil, err
	}
	for _, f := range changed {
		if old, ok := current.Fields[f.Name]; ok && old != nil {
			if err := s.indexes.Remove(b, current.Collection, f, old, current.ID); err != nil {
				return nil, err
			}
		}
		if v, ok := merged.Fields[f.Name]; ok && v != nil {
			if err := s.indexes.Put(b, current.Collection, f, v, current.ID); err != nil {
				return nil, err
			}
		}
	}
	return merged, nil
}

// Purge physically removes doc and its index entries. This is an
// administrative operation outside the normal document lifecycle.
func (s *Store) Purge(ctx context.Context, b Batch, auth authz.State, doc *document.Document) error {
	if doc == nil {
		return errs.Validation("purge requires the current document")
	}
	desc, err := s.registry.descriptor(doc.Collection)
	if err != nil {
		return err
	}
	if err := s.gate(auth, doc.Collection, authz.ActionPurge); err != nil {
		return err
	}

	if err := b.Delete(doc.Collection, doc.ID); err != nil {
		return fmt.Errorf("purge %s/%s: %w", doc.Collection, doc.ID, err)
	}
	for _, f := range desc.Indexes {
		if v, ok := doc.Fields[f.Name]; ok && v != nil {
			if err := s.indexes.Remove(b, doc.Collection, f, v, doc.ID); err != nil {
				return err
			}
		}
	}
	s.logger.Infow("document purged", "collection", doc.Collection, "id", doc.ID, "user", auth.UserID)
	return nil
}

// checkIndexValues normalizes every declared index value present in
// fields and rejects unique values already claimed by another document.
func (s *Store) checkIndexValues(ctx context.Context, desc *CollectionDescriptor, fields document.Fields, ownerID string) error {
	for _, f := range desc.Indexes {
		v, ok := fields[f.Name]
		if !ok || v == nil {
			continue
		}
		if _, err := index.Normalize(v); err != nil {
			return withLocation(err, desc.Name, f.Name)
		}
		if f.Kind != index.Unique {
			continue
		}
		owner, taken, err := s.indexes.Get(ctx, desc.Name, f, v)
		if err != nil {
			return err
		}
		if taken && owner != ownerID {
			return errs.AlreadyExists(desc.Name, f.Name, fmt.Sprint(v))
		}
	}
	return nil
}

func changedIndexes(desc *CollectionDescriptor, before, after document.Fields) []index.Field {
	var out []index.Field
	for _, f := range desc.Indexes {
		if !mutation.Equal(before[f.Name], after[f.Name]) {
			out = append(out, f)
		}
	}
	return out
}

func onlyFields(fields document.Fields, keep []index.Field) document.Fields {
	out := document.Fields{}
	for _, f := range keep {
		if v, ok := fields[f.Name]; ok {
			out[f.Name] = v
		}
	}
	return out
}
