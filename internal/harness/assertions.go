package harness

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/roach88/archivist/internal/docstore"
	"github.com/roach88/archivist/internal/document"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s/%s", ev.Seq, ev.Action, ev.Collection, ev.ID)
		if ev.Error != "" {
			fmt.Fprintf(&buf, " error=%s", ev.Error)
		} else if ev.Outcome != "" {
			fmt.Fprintf(&buf, " %s", ev.Outcome)
		}
		buf.WriteByte('\n')
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the trace and the
// committed documents, returning all failures.
func EvaluateAssertions(ctx context.Context, docs *docstore.Store, trace []TraceEvent, assertions []Assertion) []*AssertionError {
	var failures []*AssertionError
	for _, a := range assertions {
		var err *AssertionError
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(trace, a)
		case AssertTraceCount:
			err = assertTraceCount(trace, a)
		case AssertFinalState:
			err = assertFinalState(ctx, docs, a)
		case AssertHistoryLength:
			err = assertHistoryLength(ctx, docs, a)
		case AssertLookup:
			err = assertLookup(ctx, docs, a)
		default:
			err = &AssertionError{Type: a.Type, Expected: "known assertion type", Actual: a.Type}
		}
		if err != nil {
			err.Trace = trace
			failures = append(failures, err)
		}
	}
	return failures
}

// matchesEvent reports whether ev ran without error and, when set, matches
// the assertion's collection and id.
func matchesEvent(ev TraceEvent, a Assertion) bool {
	if ev.Error != "" || ev.Action != a.Action {
		return false
	}
	if a.Collection != "" && ev.Collection != a.Collection {
		return false
	}
	return a.ID == "" || ev.ID == a.ID
}

func assertTraceContains(trace []TraceEvent, a Assertion) *AssertionError {
	if slices.ContainsFunc(trace, func(ev TraceEvent) bool { return matchesEvent(ev, a) }) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("successful %s %s/%s", a.Action, a.Collection, a.ID),
		Actual:   "not found in trace",
	}
}

// assertTraceOrder checks that the first successful occurrence of each
// action appears in the listed order. Intervening steps are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) *AssertionError {
	last := -1
	for _, action := range a.Actions {
		pos := slices.IndexFunc(trace, func(ev TraceEvent) bool {
			return ev.Error == "" && ev.Action == action
		})
		if pos < 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("order %v", a.Actions),
				Actual:   fmt.Sprintf("%s never succeeded", action),
			}
		}
		if pos < last {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("order %v", a.Actions),
				Actual:   fmt.Sprintf("%s first succeeded at step %d, before an earlier action", action, pos+1),
			}
		}
		last = pos
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) *AssertionError {
	n := 0
	for _, ev := range trace {
		if matchesEvent(ev, a) {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d successful %s", a.Count, a.Action),
		Actual:   fmt.Sprintf("%d", n),
	}
}

func assertFinalState(ctx context.Context, docs *docstore.Store, a Assertion) *AssertionError {
	doc, ok, err := docs.GetByID(ctx, a.Collection, a.ID)
	if err != nil {
		return &AssertionError{Type: AssertFinalState, Expected: "readable document", Actual: err.Error()}
	}
	if a.Absent {
		if ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s/%s absent", a.Collection, a.ID),
				Actual:   "document exists",
			}
		}
		return nil
	}
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s/%s present", a.Collection, a.ID),
			Actual:   "not found",
		}
	}
	if problems := matchPaths(doc, a.Expect); len(problems) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s/%s matching %v", a.Collection, a.ID, a.Expect),
			Actual:   strings.Join(problems, "; "),
		}
	}
	return nil
}

func assertHistoryLength(ctx context.Context, docs *docstore.Store, a Assertion) *AssertionError {
	doc, err := docs.GetByIDWithAssert(ctx, a.Collection, a.ID)
	if err != nil {
		return &AssertionError{Type: AssertHistoryLength, Expected: fmt.Sprintf("%d versions", a.Count), Actual: err.Error()}
	}
	if doc.Versions() != a.Count {
		return &AssertionError{
			Type:     AssertHistoryLength,
			Expected: fmt.Sprintf("%d versions", a.Count),
			Actual:   fmt.Sprintf("%d versions", doc.Versions()),
		}
	}
	return nil
}

func assertLookup(ctx context.Context, docs *docstore.Store, a Assertion) *AssertionError {
	found, err := docs.ListByIndex(ctx, a.Collection, a.Field, a.Value)
	if err != nil {
		return &AssertionError{Type: AssertLookup, Expected: fmt.Sprintf("ids %v", a.IDs), Actual: err.Error()}
	}
	got := make([]string, 0, len(found))
	for _, d := range found {
		got = append(got, d.ID)
	}
	want := slices.Clone(a.IDs)
	sort.Strings(got)
	sort.Strings(want)
	if slices.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertLookup,
		Expected: fmt.Sprintf("%s.%s=%v -> %v", a.Collection, a.Field, a.Value, want),
		Actual:   fmt.Sprintf("%v", got),
	}
}

// matchPaths compares dotted JSON paths of doc against want. Values are
// compared by their JSON encoding, so YAML integers match stored numbers.
func matchPaths(doc *document.Document, want map[string]any) []string {
	raw, err := json.Marshal(doc)
	if err != nil {
		return []string{fmt.Sprintf("marshal document: %v", err)}
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return []string{fmt.Sprintf("unmarshal document: %v", err)}
	}

	paths := make([]string, 0, len(want))
	for p := range want {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var problems []string
	for _, p := range paths {
		got, ok := lookupPath(tree, p)
		if !ok {
			if want[p] != nil {
				problems = append(problems, fmt.Sprintf("%s: missing", p))
			}
			continue
		}
		if !jsonEqual(got, want[p]) {
			problems = append(problems, fmt.Sprintf("%s: expected %v, got %v", p, want[p], got))
		}
	}
	return problems
}

func lookupPath(tree map[string]any, path string) (any, bool) {
	var cur any = tree
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func jsonEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
