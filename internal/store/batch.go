package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/archivist/internal/errs"
)

type batchState int

const (
	batchOpen batchState = iota
	batchCommitted
	batchFailed
	batchDiscarded
)

func (s batchState) String() string {
	switch s {
	case batchCommitted:
		return "committed"
	case batchFailed:
		return "failed"
	case batchDiscarded:
		return "discarded"
	default:
		return "open"
	}
}

type writeOp int

const (
	opSet writeOp = iota
	opDelete
)

// write is one queued mutation of a single document.
type write struct {
	op         writeOp
	collection string
	id         string
	body       []byte
	merge      bool
}

// Write describes a queued write for inspection.
type Write struct {
	Collection string
	ID         string
	Delete     bool
	Merge      bool
}

// Batch accumulates writes that become visible together on Commit.
//
// A batch is a caller-held value threaded explicitly through one logical
// operation. Nothing is written until Commit; a batch commits at most once.
// After a failed Commit or a Discard the batch rejects further use, so a
// half-populated batch can never be silently reused.
//
// Thread-safety: Batch is safe for concurrent use via internal mutex, but
// writes are applied in the order they were queued.
type Batch struct {
	mu     sync.Mutex
	store  *Store
	writes []write
	state  batchState
}

// NewBatch opens an empty batch against s.
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s}
}

// Set queues a write of value to collection/id. value must encode to a
// JSON object. With merge, top-level keys of value overlay the stored
// document (absent documents are created); without merge the stored
// document is replaced.
func (b *Batch) Set(collection, id string, value any, merge bool) error {
	if collection == "" || id == "" {
		return errs.Validation("batch set: collection and id are required")
	}
	body, err := marshalBody(value)
	if err != nil {
		return errs.Validation("batch set %s/%s: %v", collection, id, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.writes = append(b.writes, write{
		op:         opSet,
		collection: collection,
		id:         id,
		body:       body,
		merge:      merge,
	})
	return nil
}

// Delete queues removal of collection/id. Deleting an absent document is
// not an error.
func (b *Batch) Delete(collection, id string) error {
	if collection == "" || id == "" {
		return errs.Validation("batch delete: collection and id are required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.writes = append(b.writes, write{op: opDelete, collection: collection, id: id})
	return nil
}

// Len returns the number of queued writes.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes)
}

// Writes returns the queued writes in order.
func (b *Batch) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Write, len(b.writes))
	for i, w := range b.writes {
		out[i] = Write{
			Collection: w.collection,
			ID:         w.id,
			Delete:     w.op == opDelete,
			Merge:      w.merge,
		}
	}
	return out
}

// Discard drops every queued write. The batch cannot be used afterwards.
func (b *Batch) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == batchOpen {
		b.state = batchDiscarded
	}
	b.writes = nil
}

// Open reports whether writes can still be queued.
func (b *Batch) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == batchOpen
}

func (b *Batch) checkOpen() error {
	if b.state != batchOpen {
		return errs.Validation("batch is %s", b.state)
	}
	return nil
}

// Commit applies every queued write in one transaction. Either all writes
// become visible or none do. Failed commits are surfaced, not retried.
func (b *Batch) Commit(ctx context.Context) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return err
	}

	n := len(b.writes)
	defer func() {
		if err != nil {
			b.state = batchFailed
		} else {
			b.state = batchCommitted
		}
		b.store.metrics.BatchCommitted(n, err)
	}()

	if n == 0 {
		return nil
	}

	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for i, w := range b.writes {
		if err := applyWrite(ctx, tx, w); err != nil {
			return fmt.Errorf("commit batch: write %d (%s/%s): %w", i, w.collection, w.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	b.store.logger.Debugw("batch committed", "writes", n)
	return nil
}

func applyWrite(ctx context.Context, tx *sql.Tx, w write) error {
	if w.op == opDelete {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM documents WHERE collection = ? AND id = ?
		`, w.collection, w.id)
		return err
	}

	body := w.body
	if w.merge {
		var existing string
		err := tx.QueryRowContext(ctx, `
			SELECT body FROM documents WHERE collection = ? AND id = ?
		`, w.collection, w.id).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read for merge: %w", err)
		default:
			merged, err := mergeBodies([]byte(existing), w.body)
			if err != nil {
				return err
			}
			body = merged
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sequence SET value = value + 1 WHERE name = 'documents'
	`); err != nil {
		return fmt.Errorf("advance sequence: %w", err)
	}

	// Insertion sequence is assigned once; updates keep it and bump version.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, seq)
		VALUES (?, ?, ?, (SELECT value FROM sequence WHERE name = 'documents'))
		ON CONFLICT(collection, id) DO UPDATE SET
			body = excluded.body,
			version = documents.version + 1
	`, w.collection, w.id, string(body))
	return err
}
