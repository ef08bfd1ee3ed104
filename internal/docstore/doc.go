// Package docstore is the document store façade: typed collections with
// generated ids, secondary indices, embedded audit history, workflow
// tracks and an authorization gate in front of every mutation.
//
// Mutating operations never commit. They validate, pass the gate and
// queue writes into a caller-held Batch; the caller commits once per
// logical business action and re-reads afterwards:
//
//	b := backend.NewBatch()
//	doc, err := ds.Create(ctx, b, auth, "users", docstore.Seed{Fields: fields})
//	if err != nil {
//		b.Discard()
//		return err
//	}
//	if err := b.Commit(ctx); err != nil {
//		return err
//	}
//
// Updates take the caller's current snapshot; the store does not re-read
// the document before merging. Concurrent batches touching the same
// document are last-writer-wins.
package docstore
