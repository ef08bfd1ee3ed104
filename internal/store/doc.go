// Package store provides SQLite-backed durable storage for documents.
//
// Every document lives in one table keyed by (collection, id) and holds a
// JSON object body. Secondary index entries and activity log items are
// ordinary documents in their own collections, so a single Batch can
// write a document and its index entries atomically.
//
// # Ordering
//
//   - Each inserted document receives a logical seq from the sequence table.
//     Updates keep the original seq and bump version.
//   - Scans order by dateOfCreation (a generated julianday column), then
//     seq, then id COLLATE BINARY, so results are deterministic even when
//     two documents share a timestamp.
//
// # Batches
//
// Writes are queued on a Batch and applied by Commit in one transaction.
// Either all queued writes become visible or none do. A batch commits at
// most once.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds (configurable)
package store
