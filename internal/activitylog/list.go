package activitylog

import (
	"context"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/roach88/archivist/internal/query"
)

// ListOptions selects, orders, pages and groups items.
type ListOptions struct {
	// GroupByRootID attaches items to the item named by their root id.
	GroupByRootID bool
	// GroupByExternalID attaches items to the item named by their external
	// id. Root grouping wins when both apply.
	GroupByExternalID bool

	// Limit <= 0 means no limit.
	Limit      int
	Offset     int
	Descending bool

	ActivityType string
	Requestor    string
}

// Entry is an item with the items grouped under it.
type Entry struct {
	Item
	SubItems []*Entry `json:"subItems,omitempty"`
}

// Page is one page of grouped entries.
type Page struct {
	Entries []*Entry `json:"entries"`
	// Total counts matching items before paging.
	Total int `json:"total"`
}

// List pages items by creation date, then groups the items of that page.
// Paging counts items, not groups, so a child whose parent falls on a
// different page stays top-level.
func (l *Log) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	p, err := l.ListPage(ctx, opts)
	if err != nil {
		return nil, err
	}
	return p.Entries, nil
}

// ListPage is List plus the total number of matching items.
func (l *Log) ListPage(ctx context.Context, opts ListOptions) (*Page, error) {
	q := query.Scan{
		Collection: Collection,
		Filter:     filter(opts),
		Limit:      opts.Limit,
		Offset:     opts.Offset,
		Descending: opts.Descending,
	}
	rows, err := l.backend.Scan(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list activity log: %w", err)
	}
	total, err := l.backend.Count(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count activity log: %w", err)
	}

	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		var it Item
		if err := json.Unmarshal(r.Body, &it); err != nil {
			return nil, fmt.Errorf("decode activity item %s: %w", r.ID, err)
		}
		items = append(items, it)
	}
	return &Page{Entries: Group(items, opts.GroupByRootID, opts.GroupByExternalID), Total: total}, nil
}

func filter(opts ListOptions) query.Predicate {
	var preds []query.Predicate
	if opts.ActivityType != "" {
		preds = append(preds, query.Equals{Path: "activityType", Value: opts.ActivityType})
	}
	if opts.Requestor != "" {
		preds = append(preds, query.Equals{Path: "requestor", Value: opts.Requestor})
	}
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	}
	return query.And{Predicates: preds}
}

// Group arranges items into a forest. An item is attached under the item
// its root id names (byRoot) or else under the item its external id names
// (byExternal), when that item is present in items. Everything else stays
// top-level. Input order is kept at every level.
func Group(items []Item, byRoot, byExternal bool) []*Entry {
	entries := make([]*Entry, len(items))
	byID := make(map[string]*Entry, len(items))
	for i := range items {
		entries[i] = &Entry{Item: items[i]}
		byID[items[i].ID] = entries[i]
	}

	parent := make(map[*Entry]*Entry, len(items))
	for _, e := range entries {
		var p *Entry
		if byRoot && !e.IsRoot() {
			p = byID[e.RootLogItemID]
		}
		if p == nil && byExternal && e.ExternalLogItemID != "" && e.ExternalLogItemID != e.ID {
			p = byID[e.ExternalLogItemID]
		}
		if p == nil || createsCycle(parent, p, e) {
			continue
		}
		parent[e] = p
	}

	var top []*Entry
	for _, e := range entries {
		if p, ok := parent[e]; ok {
			p.SubItems = append(p.SubItems, e)
			continue
		}
		top = append(top, e)
	}
	if top == nil {
		top = []*Entry{}
	}
	return top
}

// createsCycle reports whether making p the parent of e would make e its
// own ancestor.
func createsCycle(parent map[*Entry]*Entry, p, e *Entry) bool {
	for cur := p; cur != nil; cur = parent[cur] {
		if cur == e {
			return true
		}
	}
	return false
}

// Render writes entries as an indented tree, one item per line.
func Render(w io.Writer, entries []*Entry) error {
	for _, e := range entries {
		if err := render(w, e, 0); err != nil {
			return err
		}
	}
	return nil
}

func render(w io.Writer, e *Entry, depth int) error {
	indent := strings.Repeat("  ", depth)
	marker := "-"
	if depth > 0 {
		marker = "└─"
	}
	line := fmt.Sprintf("%s%s %s %s [%s]", indent, marker,
		e.DateOfCreation.Format("2006-01-02T15:04:05Z07:00"), e.ActivityType, e.ExecutionState)
	if e.Requestor != "" {
		line += " by " + e.Requestor
	}
	if e.ResourceCanonical != "" {
		line += " " + e.ResourceCanonical
	}
	if _, err := fmt.Fprintf(w, "%s (%s)\n", line, e.ID); err != nil {
		return err
	}
	for _, c := range e.SubItems {
		if err := render(w, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}
