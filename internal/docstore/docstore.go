package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/roach88/archivist/internal/authz"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/index"
	"github.com/roach88/archivist/internal/metrics"
	"github.com/roach88/archivist/internal/query"
	"github.com/roach88/archivist/internal/store"
	"github.com/roach88/archivist/internal/workflow"
)

// Backend is the read side of the transactional document store.
type Backend interface {
	Get(ctx context.Context, collection, id string) ([]byte, bool, error)
	Scan(ctx context.Context, q query.Scan) ([]store.Row, error)
	Count(ctx context.Context, q query.Scan) (int, error)
}

// Batch accumulates writes for one atomic commit. *store.Batch satisfies it.
type Batch interface {
	Set(collection, id string, value any, merge bool) error
	Delete(collection, id string) error
}

// Store is the document store façade.
//
// Thread-safety: Store holds no per-request state and is safe for
// concurrent use.
type Store struct {
	backend  Backend
	registry *Registry
	indexes  *index.Manager
	machine  *workflow.Machine
	clock    Clock
	ids      IDGenerator
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for stamps.
func WithClock(c Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator sets the generator for store-generated ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records gate rejections and transitions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New returns a Store reading through backend and configured by registry.
func New(backend Backend, registry *Registry, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		registry: registry,
		indexes:  index.New(backend),
		clock:    SystemClock{},
		ids:      UUIDv7Generator{},
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.machine = workflow.New(
		workflow.WithClock(func() time.Time { return s.clock.Now() }),
		workflow.WithPolicies(registry.SameStatePolicy),
		workflow.WithLogger(s.logger),
		workflow.WithMetrics(s.metrics),
	)
	return s
}

// Registry returns the registry the store was built with.
func (s *Store) Registry() *Registry {
	return s.registry
}

// gate checks that auth may perform action on collection.
func (s *Store) gate(auth authz.State, collection, action string) error {
	check, err := s.registry.Policy().AssertPermitted(auth, collection, action)
	if err == nil {
		return nil
	}
	if errs.IsUnauthorized(err) {
		s.metrics.AuthzRejected(check)
		s.logger.Infow("mutation rejected",
			"collection", collection,
			"action", action,
			"check", check,
			"user", auth.UserID,
			"role", auth.RoleID)
		var e *errs.Error
		if errors.As(err, &e) {
			cp := *e
			cp.Collection = collection
			return &cp
		}
	}
	return err
}

// put queues the full document body.
func (s *Store) put(b Batch, doc *document.Document) error {
	if err := b.Set(doc.Collection, doc.ID, doc, false); err != nil {
		return fmt.Errorf("queue %s/%s: %w", doc.Collection, doc.ID, err)
	}
	s.logger.Debugw("document queued",
		"collection", doc.Collection,
		"id", doc.ID,
		"versions", doc.Versions())
	return nil
}

func decode(collection string, body []byte) (*document.Document, error) {
	var d document.Document
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("decode %s document: %w", collection, err)
	}
	if d.Fields == nil {
		d.Fields = document.Fields{}
	}
	return &d, nil
}
