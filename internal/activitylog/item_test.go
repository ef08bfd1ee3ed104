package activitylog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalResource(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://x.com/", "https://x.com/index.html"},
		{"https://x.com", "https://x.com/index.html"},
		{"https://x.com?utm=1", "https://x.com/index.html?utm=1"},
		{"https://x.com/docs/?page=2", "https://x.com/docs/index.html?page=2"},
		{"https://x.com/#top", "https://x.com/index.html#top"},
		{"https://x.com/docs/page.html", "https://x.com/docs/page.html"},
		{"https://x.com/search?q=a/", "https://x.com/search?q=a/"},
		{"/admin/", "/admin/index.html"},
		{"users", "users"},
		{"", ""},
		{"https://", "https://"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalResource(tt.in))
		})
	}
}

func TestContextCorrelation(t *testing.T) {
	ctx := context.Background()
	_, ok := RootFrom(ctx)
	assert.False(t, ok)

	ctx = WithRoot(ctx, "r1")
	ctx = WithExternal(ctx, "e1")
	root, ok := RootFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "r1", root)
	ext, ok := ExternalFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "e1", ext)

	_, ok = RootFrom(WithRoot(context.Background(), ""))
	assert.False(t, ok)
}

func TestItem_IsRoot(t *testing.T) {
	assert.True(t, (&Item{ID: "a", RootLogItemID: "a"}).IsRoot())
	assert.True(t, (&Item{ID: "a"}).IsRoot())
	assert.False(t, (&Item{ID: "a", RootLogItemID: "b"}).IsRoot())
}
