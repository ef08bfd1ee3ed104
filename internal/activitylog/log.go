package activitylog

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/archivist/internal/metrics"
	"github.com/roach88/archivist/internal/query"
	"github.com/roach88/archivist/internal/store"
)

// Backend is the subset of the document store the log needs.
type Backend interface {
	Get(ctx context.Context, collection, id string) ([]byte, bool, error)
	Scan(ctx context.Context, q query.Scan) ([]store.Row, error)
	Count(ctx context.Context, q query.Scan) (int, error)
	NewBatch() *store.Batch
}

// Log records and lists activity items.
//
// Thread-safety: Log is safe for concurrent use.
type Log struct {
	backend Backend
	now     func() time.Time
	newID   func() string
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// Option configures a Log.
type Option func(*Log)

// WithClock sets the time source for creation dates.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDs sets the item id source.
func WithIDs(newID func() string) Option {
	return func(l *Log) {
		if newID != nil {
			l.newID = newID
		}
	}
}

// WithLogger sets the logger that receives swallowed failures.
func WithLogger(lg *zap.SugaredLogger) Option {
	return func(l *Log) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// WithMetrics counts dropped items on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Log) { l.metrics = m }
}

// New returns a Log writing to backend.
func New(backend Backend, opts ...Option) *Log {
	l := &Log{
		backend: backend,
		now:     time.Now,
		newID:   func() string { return uuid.Must(uuid.NewV7()).String() },
		logger:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record completes item with an id, creation date, canonical resource and
// root/external correlation taken from ctx when unset, then persists it in
// its own batch. It never returns an error: a failed write is logged and
// counted, and the completed item is returned either way.
func (l *Log) Record(ctx context.Context, item Item) Item {
	if item.ID == "" {
		item.ID = l.newID()
	}
	if item.DateOfCreation.IsZero() {
		item.DateOfCreation = l.now()
	}
	item.DateOfCreation = item.DateOfCreation.UTC()
	if item.ExecutionState == "" {
		item.ExecutionState = StateSucceeded
	}
	if item.ActorIDs == nil {
		item.ActorIDs = []string{}
	}
	item.ResourceCanonical = CanonicalResource(item.Resource)

	if item.RootLogItemID == "" {
		if root, ok := RootFrom(ctx); ok {
			item.RootLogItemID = root
		} else {
			item.RootLogItemID = item.ID
		}
	}
	if item.ExternalLogItemID == "" {
		if ext, ok := ExternalFrom(ctx); ok && ext != item.ID {
			item.ExternalLogItemID = ext
		}
	}

	if err := l.persist(ctx, item); err != nil {
		l.metrics.ActivityDropped()
		l.logger.Warnw("activity log item not persisted",
			"id", item.ID,
			"activityType", item.ActivityType,
			"error", err)
	}
	return item
}

func (l *Log) persist(ctx context.Context, item Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if l.backend == nil {
		return fmt.Errorf("no backend")
	}
	b := l.backend.NewBatch()
	if err := b.Set(Collection, item.ID, item, false); err != nil {
		b.Discard()
		return err
	}
	return b.Commit(ctx)
}

// Get loads one item.
func (l *Log) Get(ctx context.Context, id string) (Item, bool, error) {
	body, ok, err := l.backend.Get(ctx, Collection, id)
	if err != nil || !ok {
		return Item{}, false, err
	}
	var it Item
	if err := json.Unmarshal(body, &it); err != nil {
		return Item{}, false, fmt.Errorf("decode activity item %s: %w", id, err)
	}
	return it, true, nil
}
