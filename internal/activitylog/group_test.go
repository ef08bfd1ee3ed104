package activitylog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(entries []*Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestGroup_RootPriority(t *testing.T) {
	items := []Item{
		{ID: "r", RootLogItemID: "r"},
		{ID: "e", RootLogItemID: "e"},
		{ID: "c", RootLogItemID: "r", ExternalLogItemID: "e"},
	}

	both := Group(items, true, true)
	assert.Equal(t, []string{"r", "e"}, ids(both))
	assert.Equal(t, []string{"c"}, ids(both[0].SubItems))

	extOnly := Group(items, false, true)
	assert.Equal(t, []string{"r", "e"}, ids(extOnly))
	assert.Equal(t, []string{"c"}, ids(extOnly[1].SubItems))

	none := Group(items, false, false)
	assert.Equal(t, []string{"r", "e", "c"}, ids(none))
}

func TestGroup_UnknownParentStaysTopLevel(t *testing.T) {
	items := []Item{{ID: "c", RootLogItemID: "missing", ExternalLogItemID: "gone"}}
	out := Group(items, true, true)
	assert.Equal(t, []string{"c"}, ids(out))
}

func TestGroup_ExternalCycle(t *testing.T) {
	items := []Item{
		{ID: "a", RootLogItemID: "a", ExternalLogItemID: "b"},
		{ID: "b", RootLogItemID: "b", ExternalLogItemID: "a"},
	}
	out := Group(items, false, true)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, []string{"a"}, ids(out[0].SubItems))
}

func TestGroup_Empty(t *testing.T) {
	out := Group(nil, true, true)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
