// Package audit maintains the append-only update history embedded in every
// document.
//
// RecordCreate seeds history with the creation snapshot. RecordUpdate
// merges a Partial into a copy of the document, stamps the updater and
// appends a snapshot of the merged record. Every call appends, even when
// the partial leaves the document unchanged.
package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/mutation"
)

// Partial is a pending change to a document. Nil tracks are left as they
// are; Fields mutations are resolved against the current field map.
type Partial struct {
	Fields     mutation.Updates
	Approval   *document.Approval
	Suspension *document.Suspension
	Archival   *document.Archival
	Deletion   *document.Deletion
}

// Empty reports whether p carries no change at all.
func (p Partial) Empty() bool {
	return len(p.Fields) == 0 && p.Approval == nil && p.Suspension == nil &&
		p.Archival == nil && p.Deletion == nil
}

// Snapshot returns a deep copy of r.
func Snapshot(r *document.Record) (document.Record, error) {
	var out document.Record
	if err := deepcopy.Copy(&out, r); err != nil {
		return document.Record{}, fmt.Errorf("snapshot %s/%s: %w", r.Collection, r.ID, err)
	}
	return out, nil
}

// Clone returns a deep copy of d including its history.
func Clone(d *document.Document) (*document.Document, error) {
	out := &document.Document{}
	if err := deepcopy.Copy(out, d); err != nil {
		return nil, fmt.Errorf("clone %s/%s: %w", d.Collection, d.ID, err)
	}
	return out, nil
}

// RecordCreate returns a copy of d whose history holds exactly one
// snapshot of its initial state. Any history already on d is discarded.
func RecordCreate(d *document.Document) (*document.Document, error) {
	out, err := Clone(d)
	if err != nil {
		return nil, err
	}
	if out.Fields == nil {
		out.Fields = document.Fields{}
	}
	snap, err := Snapshot(&out.Record)
	if err != nil {
		return nil, err
	}
	out.UpdateHistory = []document.Record{snap}
	return out, nil
}

// RecordUpdate merges p into a copy of d, stamps actorID and at as the
// latest update and appends a snapshot of the result. d is not modified
// and existing history entries are carried over untouched.
func RecordUpdate(d *document.Document, p Partial, actorID string, at time.Time) (*document.Document, error) {
	if len(d.UpdateHistory) == 0 {
		return nil, errs.Validation("document has no creation history").WithDocument(d.Collection, d.ID)
	}

	out, err := Clone(d)
	if err != nil {
		return nil, err
	}

	if len(p.Fields) > 0 {
		merged, err := mutation.Apply(out.Fields, p.Fields)
		if err != nil {
			return nil, withDocument(err, d)
		}
		out.Fields = merged
	}
	if p.Approval != nil {
		out.Approval = copyTrack(p.Approval)
	}
	if p.Suspension != nil {
		out.Suspension = copyTrack(p.Suspension)
	}
	if p.Archival != nil {
		out.Archival = copyTrack(p.Archival)
	}
	if p.Deletion != nil {
		out.Deletion = copyTrack(p.Deletion)
	}

	at = at.UTC()
	out.HasBeenUpdated = true
	out.DateOfLatestUpdate = &at
	out.UserIDOfLatestUpdater = actorID

	snap, err := Snapshot(&out.Record)
	if err != nil {
		return nil, err
	}
	out.UpdateHistory = append(out.UpdateHistory, snap)
	return out, nil
}

func copyTrack[T any](t *T) *T {
	cp := *t
	return &cp
}

func withDocument(err error, d *document.Document) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.WithDocument(d.Collection, d.ID)
	}
	return err
}
