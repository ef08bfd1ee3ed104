// Package export dumps collections to a portable stream and restores them.
//
// A dump is a sequence of records, each holding one stored document body
// with its collection and id. Two encodings are supported: JSON Lines and
// concatenated BSON documents. Documents are written in insertion order
// so a restore reproduces scan order.
package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/query"
	"github.com/roach88/archivist/internal/store"
)

// Encoding selects the on-disk record format.
type Encoding string

const (
	JSONL Encoding = "jsonl"
	BSON  Encoding = "bson"
)

// ParseEncoding validates an encoding name.
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(s); e {
	case JSONL, BSON:
		return e, nil
	}
	return "", errs.Validation("unknown encoding %q (want jsonl or bson)", s)
}

// Record is one exported document.
type Record struct {
	Collection string         `json:"collection" bson:"collection"`
	ID         string         `json:"id" bson:"id"`
	Body       map[string]any `json:"body" bson:"body"`
}

// Source is the read side of the store used by Dump.
type Source interface {
	Scan(ctx context.Context, q query.Scan) ([]store.Row, error)
}

// Sink queues restored documents. *store.Batch satisfies it.
type Sink interface {
	Set(collection, id string, value any, merge bool) error
}

// Writer encodes records to an underlying stream.
type Writer struct {
	w   *bufio.Writer
	enc Encoding
}

// NewWriter returns a Writer using enc. Call Flush when done.
func NewWriter(w io.Writer, enc Encoding) *Writer {
	return &Writer{w: bufio.NewWriter(w), enc: enc}
}

// Write encodes one record.
func (w *Writer) Write(r Record) error {
	switch w.enc {
	case BSON:
		data, err := bson.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode %s/%s as BSON: %w", r.Collection, r.ID, err)
		}
		_, err = w.w.Write(data)
		return err
	default:
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode %s/%s as JSON: %w", r.Collection, r.ID, err)
		}
		if _, err := w.w.Write(data); err != nil {
			return err
		}
		return w.w.WriteByte('\n')
	}
}

// Flush writes any buffered data.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Reader decodes records from a stream.
type Reader struct {
	r   *bufio.Reader
	enc Encoding
}

// NewReader returns a Reader using enc.
func NewReader(r io.Reader, enc Encoding) *Reader {
	return &Reader{r: bufio.NewReader(r), enc: enc}
}

// Next returns the next record, or io.EOF at a clean end of stream.
func (r *Reader) Next() (Record, error) {
	if r.enc == BSON {
		return r.nextBSON()
	}
	return r.nextJSON()
}

func (r *Reader) nextJSON() (Record, error) {
	for {
		line, err := r.r.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return Record{}, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			if err != nil {
				return Record{}, err
			}
			continue
		}
		var rec Record
		if jerr := json.Unmarshal(line, &rec); jerr != nil {
			return Record{}, errs.Validation("malformed record: %v", jerr)
		}
		return rec, nil
	}
}

func (r *Reader) nextBSON() (Record, error) {
	var size [4]byte
	if _, err := io.ReadFull(r.r, size[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, errs.Validation("truncated BSON length prefix")
		}
		return Record{}, err
	}
	n := int(binary.LittleEndian.Uint32(size[:]))
	if n < 5 {
		return Record{}, errs.Validation("invalid BSON document length %d", n)
	}
	doc := make([]byte, n)
	copy(doc, size[:])
	if _, err := io.ReadFull(r.r, doc[4:]); err != nil {
		return Record{}, errs.Validation("truncated BSON document: %v", err)
	}

	raw := bson.Raw(doc)
	if err := raw.Validate(); err != nil {
		return Record{}, errs.Validation("malformed BSON document: %v", err)
	}
	coll, ok := raw.Lookup("collection").StringValueOK()
	if !ok {
		return Record{}, errs.Validation("BSON record without collection")
	}
	id, ok := raw.Lookup("id").StringValueOK()
	if !ok {
		return Record{}, errs.Validation("BSON record %s without id", coll)
	}
	body, ok := raw.Lookup("body").DocumentOK()
	if !ok {
		return Record{}, errs.Validation("BSON record %s/%s without body", coll, id)
	}

	// Relaxed extended JSON maps BSON numbers back onto plain JSON numbers.
	text, err := bson.MarshalExtJSON(body, false, false)
	if err != nil {
		return Record{}, fmt.Errorf("convert %s/%s body: %w", coll, id, err)
	}
	rec := Record{Collection: coll, ID: id}
	if err := json.Unmarshal(text, &rec.Body); err != nil {
		return Record{}, fmt.Errorf("convert %s/%s body: %w", coll, id, err)
	}
	return rec, nil
}

// Dump writes every document of each collection, in insertion order, and
// returns the number written.
func Dump(ctx context.Context, src Source, w *Writer, collections []string) (int, error) {
	n := 0
	for _, c := range collections {
		rows, err := src.Scan(ctx, query.Scan{Collection: c, OrderBy: query.ByInsertion})
		if err != nil {
			return n, err
		}
		for _, row := range rows {
			var body map[string]any
			if err := json.Unmarshal(row.Body, &body); err != nil {
				return n, fmt.Errorf("decode %s/%s: %w", c, row.ID, err)
			}
			if err := w.Write(Record{Collection: c, ID: row.ID, Body: body}); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, w.Flush()
}

// Restore queues every record of r into sink, replacing any stored
// document with the same collection and id. It returns the number queued.
func Restore(r *Reader, sink Sink) (int, error) {
	n := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if rec.Body == nil {
			rec.Body = map[string]any{}
		}
		if err := sink.Set(rec.Collection, rec.ID, rec.Body, false); err != nil {
			return n, err
		}
		n++
	}
}
