// Package index maintains secondary-index side-collections for documents.
//
// Each declared field of a collection gets one side-collection named
// "_index.<collection>.<field>". Entries are ordinary documents whose body
// is {"value": <owning document id>, "field": ..., "normalized": ...}.
//
// Unique fields store one entry per normalized value, keyed by a
// deterministic hash of that value. Lookup fields store one entry per
// (value, document) pair, keyed by "<hash>_<documentID>".
//
// The manager never reads before it writes. Two batches that race to
// claim the same unique value both commit, and the later one wins; callers
// that need uniqueness pre-check with Get before queueing a create.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/query"
	"github.com/roach88/archivist/internal/store"
)

// domainEntry is the hash domain for index entry ids.
// Version suffix enables future normalization changes.
const domainEntry = "archivist/index/v1"

// CollectionPrefix starts every side-collection name.
const CollectionPrefix = "_index."

// Kind distinguishes unique from lookup indices.
type Kind string

const (
	Unique Kind = "unique"
	Lookup Kind = "lookup"
)

// Field is a statically declared index on one document field.
type Field struct {
	Name string
	Kind Kind
}

// Reader is the read side of the document store.
type Reader interface {
	Get(ctx context.Context, collection, id string) ([]byte, bool, error)
	Scan(ctx context.Context, q query.Scan) ([]store.Row, error)
}

// Writer queues index writes. *store.Batch satisfies it.
type Writer interface {
	Set(collection, id string, value any, merge bool) error
	Delete(collection, id string) error
}

// Entry is the stored body of one index entry.
type Entry struct {
	Value      string `json:"value"`
	Field      string `json:"field"`
	Normalized string `json:"normalized"`
}

// Manager reads and queues writes of index entries.
type Manager struct {
	reader Reader
}

// New returns a Manager reading through r.
func New(r Reader) *Manager {
	return &Manager{reader: r}
}

// Collection returns the side-collection name for collection.field.
func Collection(collection, field string) string {
	return CollectionPrefix + collection + "." + field
}

// IsIndexCollection reports whether name is a side-collection.
func IsIndexCollection(name string) bool {
	return strings.HasPrefix(name, CollectionPrefix)
}

// Normalize converts a raw field value into the canonical string form used
// for index keys. Strings are NFC-normalized and Unicode case-folded, so
// "Ada" and "ADA" claim the same unique entry. Empty and nil values cannot
// be indexed.
func Normalize(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", errs.Validation("index value is empty")
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", errs.Validation("index value is empty")
		}
		return cases.Fold().String(norm.NFC.String(s)), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", errs.Validation("index value %v is not a finite number", v)
		}
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return "", errs.Validation("index value of type %T is not supported", raw)
	}
}

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntryID composes the side-collection document id for a normalized value.
// docID is ignored for unique fields.
func EntryID(kind Kind, normalized, docID string) string {
	h := hashWithDomain(domainEntry, []byte(normalized))
	if kind == Lookup {
		return h + "_" + docID
	}
	return h
}

// Put queues an entry mapping raw to docID.
func (m *Manager) Put(w Writer, collection string, f Field, raw any, docID string) error {
	normalized, err := Normalize(raw)
	if err != nil {
		return withField(err, collection, f.Name)
	}
	if docID == "" {
		return errs.Validation("index put %s.%s: document id is required", collection, f.Name)
	}
	entry := Entry{Value: docID, Field: f.Name, Normalized: normalized}
	if err := w.Set(Collection(collection, f.Name), EntryID(f.Kind, normalized, docID), entry, false); err != nil {
		return fmt.Errorf("index put %s.%s: %w", collection, f.Name, err)
	}
	return nil
}

// Remove queues deletion of the entry mapping raw to docID. For unique
// fields the entry is removed whichever document it currently names.
func (m *Manager) Remove(w Writer, collection string, f Field, raw any, docID string) error {
	normalized, err := Normalize(raw)
	if err != nil {
		return withField(err, collection, f.Name)
	}
	if err := w.Delete(Collection(collection, f.Name), EntryID(f.Kind, normalized, docID)); err != nil {
		return fmt.Errorf("index remove %s.%s: %w", collection, f.Name, err)
	}
	return nil
}

// Get resolves raw to one owning document id. For lookup fields the
// earliest-inserted entry wins.
func (m *Manager) Get(ctx context.Context, collection string, f Field, raw any) (string, bool, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return "", false, withField(err, collection, f.Name)
	}

	if f.Kind == Unique {
		body, ok, err := m.reader.Get(ctx, Collection(collection, f.Name), EntryID(Unique, normalized, ""))
		if err != nil || !ok {
			return "", false, err
		}
		e, err := decodeEntry(body)
		if err != nil {
			return "", false, fmt.Errorf("index get %s.%s: %w", collection, f.Name, err)
		}
		return e.Value, true, nil
	}

	ids, err := m.list(ctx, collection, f, normalized, 1)
	if err != nil || len(ids) == 0 {
		return "", false, err
	}
	return ids[0], true, nil
}

// List resolves raw to every owning document id, in insertion order.
func (m *Manager) List(ctx context.Context, collection string, f Field, raw any) ([]string, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return nil, withField(err, collection, f.Name)
	}
	if f.Kind == Unique {
		id, ok, err := m.Get(ctx, collection, f, raw)
		if err != nil || !ok {
			return []string{}, err
		}
		return []string{id}, nil
	}
	return m.list(ctx, collection, f, normalized, 0)
}

func (m *Manager) list(ctx context.Context, collection string, f Field, normalized string, limit int) ([]string, error) {
	rows, err := m.reader.Scan(ctx, query.Scan{
		Collection: Collection(collection, f.Name),
		Filter:     query.Equals{Path: "normalized", Value: normalized},
		OrderBy:    query.ByInsertion,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("index list %s.%s: %w", collection, f.Name, err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		e, err := decodeEntry(r.Body)
		if err != nil {
			return nil, fmt.Errorf("index list %s.%s: %w", collection, f.Name, err)
		}
		ids = append(ids, e.Value)
	}
	return ids, nil
}

func decodeEntry(body []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(body, &e); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return e, nil
}

func withField(err error, collection, field string) error {
	var e *errs.Error
	if errors.As(err, &e) {
		cp := *e
		cp.Collection = collection
		cp.Field = field
		return &cp
	}
	return err
}
