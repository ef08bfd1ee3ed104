// Package query describes collection scans and compiles them to
// parameterized SQLite.
//
// A Scan selects the documents of one collection, optionally filtered by
// field equality on the JSON body, ordered by creation date, and paged with
// offset/limit. Every compiled query carries a total ORDER BY so repeated
// scans over the same data return the same sequence.
//
// Field values and JSON paths are always bound as parameters, never
// interpolated into the SQL text.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

// Predicate is a filter over a document body. Sealed to this package.
type Predicate interface {
	predicateNode()
}

// Equals matches documents whose field at Path equals Value.
// Path is a dotted field path relative to the document root
// ("approval.state", "fields.accountName").
type Equals struct {
	Path  string
	Value any
}

func (Equals) predicateNode() {}

// IsNull matches documents where Path is absent or JSON null.
type IsNull struct {
	Path string
}

func (IsNull) predicateNode() {}

// And matches documents satisfying every predicate.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Order selects the primary sort key of a scan.
type Order int

const (
	// ByCreation orders by the document's dateOfCreation, then insertion sequence.
	ByCreation Order = iota
	// ByInsertion orders by insertion sequence only.
	ByInsertion
)

// Scan describes one collection scan.
type Scan struct {
	Collection string
	Filter     Predicate // nil = every document
	OrderBy    Order
	Descending bool
	Limit      int // <= 0 means no limit
	Offset     int
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// JSONPath converts a dotted field path into a SQLite JSON path ("$.a.b").
func JSONPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty field path")
	}
	for _, seg := range strings.Split(path, ".") {
		if !segmentPattern.MatchString(seg) {
			return "", fmt.Errorf("invalid field path segment %q in %q", seg, path)
		}
	}
	return "$." + path, nil
}

// Compile converts a Scan to a SELECT returning (id, body, seq) rows.
// Returns (sql, params, error).
func Compile(s Scan) (string, []any, error) {
	where, params, err := compileWhere(s)
	if err != nil {
		return "", nil, err
	}

	limit := s.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	offset := s.Offset
	if offset < 0 {
		offset = 0
	}

	sql := fmt.Sprintf(
		"SELECT id, body, seq FROM documents WHERE %s ORDER BY %s LIMIT ? OFFSET ?",
		where, stableOrderKey(s))
	params = append(params, limit, offset)
	return sql, params, nil
}

// CompileCount converts a Scan to a COUNT(*) query. Paging is ignored.
func CompileCount(s Scan) (string, []any, error) {
	where, params, err := compileWhere(s)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM documents WHERE " + where, params, nil
}

func compileWhere(s Scan) (string, []any, error) {
	if s.Collection == "" {
		return "", nil, fmt.Errorf("scan: collection is required")
	}
	sql := "collection = ?"
	params := []any{s.Collection}
	if s.Filter != nil {
		filterSQL, filterParams, err := compilePredicate(s.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		sql += " AND " + filterSQL
		params = append(params, filterParams...)
	}
	return sql, params, nil
}

// stableOrderKey returns the ORDER BY clause. id is always the final
// tiebreaker, compared as raw bytes.
func stableOrderKey(s Scan) string {
	dir := "ASC"
	if s.Descending {
		dir = "DESC"
	}
	switch s.OrderBy {
	case ByInsertion:
		return fmt.Sprintf("seq %s, id %s COLLATE BINARY", dir, dir)
	default:
		return fmt.Sprintf("created_at %s, seq %s, id %s COLLATE BINARY", dir, dir, dir)
	}
}

func compilePredicate(p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case Equals:
		return compileEquals(pred)
	case *Equals:
		return compileEquals(*pred)
	case IsNull:
		return compileIsNull(pred)
	case *IsNull:
		return compileIsNull(*pred)
	case And:
		return compileAnd(pred)
	case *And:
		return compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileEquals(eq Equals) (string, []any, error) {
	path, err := JSONPath(eq.Path)
	if err != nil {
		return "", nil, err
	}
	if eq.Value == nil {
		return "json_extract(body, ?) IS NULL", []any{path}, nil
	}
	param, err := toParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", eq.Path, err)
	}
	return "json_extract(body, ?) = ?", []any{path, param}, nil
}

func compileIsNull(n IsNull) (string, []any, error) {
	path, err := JSONPath(n.Path)
	if err != nil {
		return "", nil, err
	}
	return "json_extract(body, ?) IS NULL", []any{path}, nil
}

func compileAnd(and And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}
	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, pred := range and.Predicates {
		sql, p, err := compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	return "(" + strings.Join(parts, " AND ") + ")", params, nil
}

// toParam converts a Go value to a SQLite parameter comparable with the
// output of json_extract. JSON booleans extract as 1/0.
func toParam(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case string, int, int32, int64, uint32, float32, float64:
		return val, nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		return nil, fmt.Errorf("unsupported filter value type %T", v)
	}
}
