package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/archivist/internal/document"
)

func sampleTrace() []TraceEvent {
	r := NewResult()
	r.AddTrace(TraceEvent{Action: ActionCreate, Collection: "contacts", ID: "c-1", Outcome: "applied", Versions: 1})
	r.AddTrace(TraceEvent{Action: ActionArchive, Collection: "contacts", ID: "c-1", Error: "UNAUTHORIZED"})
	r.AddTrace(TraceEvent{Action: ActionUpdate, Collection: "contacts", ID: "c-1", Outcome: "applied", Versions: 2})
	r.AddTrace(TraceEvent{Action: ActionArchive, Collection: "contacts", ID: "c-1", Outcome: "applied", Versions: 3})
	return r.Trace
}

func TestAddTrace_NumbersEvents(t *testing.T) {
	trace := sampleTrace()
	for i, ev := range trace {
		assert.Equal(t, i+1, ev.Seq)
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()
	assert.Nil(t, assertTraceContains(trace, Assertion{Action: ActionUpdate}))
	assert.Nil(t, assertTraceContains(trace, Assertion{Action: ActionArchive, Collection: "contacts", ID: "c-1"}))

	err := assertTraceContains(trace, Assertion{Action: ActionArchive, ID: "c-2"})
	require.NotNil(t, err)
	assert.Equal(t, AssertTraceContains, err.Type)
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	// The failed archive at seq 2 does not count, so archive follows update.
	assert.Nil(t, assertTraceOrder(trace, Assertion{Actions: []string{ActionCreate, ActionUpdate, ActionArchive}}))

	err := assertTraceOrder(trace, Assertion{Actions: []string{ActionArchive, ActionUpdate}})
	require.NotNil(t, err)
	assert.Contains(t, err.Actual, "update first succeeded at step 3")

	err = assertTraceOrder(trace, Assertion{Actions: []string{ActionCreate, ActionPurge}})
	require.NotNil(t, err)
	assert.Equal(t, "purge never succeeded", err.Actual)
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()
	assert.Nil(t, assertTraceCount(trace, Assertion{Action: ActionArchive, Count: 1}))
	assert.Nil(t, assertTraceCount(trace, Assertion{Action: ActionDelete, Count: 0}))

	err := assertTraceCount(trace, Assertion{Action: ActionArchive, Count: 2})
	require.NotNil(t, err)
	assert.Equal(t, "1", err.Actual)
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{Type: AssertTraceCount, Expected: "2", Actual: "1", Trace: sampleTrace()}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "[2] archive contacts/c-1 error=UNAUTHORIZED")
	assert.Contains(t, msg, "[4] archive contacts/c-1 applied")
}

func TestMatchPaths(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := &document.Document{
		Record: document.Record{
			ID:             "c-1",
			Collection:     "contacts",
			DateOfCreation: now,
			Fields: document.Fields{
				"name":  "Ada",
				"score": float64(3),
				"tags":  []any{"a", "b"},
				"addr":  map[string]any{"city": "Paris"},
			},
			Archival: &document.Archival{IsArchived: true},
		},
	}

	assert.Empty(t, matchPaths(doc, map[string]any{
		"id":                  "c-1",
		"fields.name":         "Ada",
		"fields.score":        3,
		"fields.tags":         []any{"a", "b"},
		"fields.addr.city":    "Paris",
		"archival.isArchived": true,
		"fields.absent":       nil,
	}))

	problems := matchPaths(doc, map[string]any{
		"fields.name":    "Grace",
		"fields.nope":    "x",
		"deletion.state": "y",
	})
	assert.Equal(t, []string{
		"deletion.state: missing",
		"fields.name: expected Grace, got Ada",
		"fields.nope: missing",
	}, problems)
}
