package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/archivist/internal/authz"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/index"
	"github.com/roach88/archivist/internal/workflow"
)

func TestDefault(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{"accessRequests", "contacts", "installation", "roles", "users"}, reg.Names())

	users, ok := reg.Collection("users")
	require.True(t, ok)
	f, ok := users.Index("accountName")
	require.True(t, ok)
	assert.Equal(t, index.Unique, f.Kind)
	f, ok = users.Index("email")
	require.True(t, ok)
	assert.Equal(t, index.Lookup, f.Kind)
	assert.Equal(t, document.Tracks, users.Tracks)
	assert.Equal(t, workflow.CreatorOnly, users.Deletion)

	p, ok := reg.SameStatePolicy("contacts", document.TrackArchival)
	require.True(t, ok)
	assert.Equal(t, workflow.Restamp, p)

	inst, ok := reg.Collection("installation")
	require.True(t, ok)
	assert.Empty(t, inst.Tracks)
	assert.Equal(t, workflow.AnyAuthorized, inst.Deletion)

	allow, err := reg.Policy().AllowList("users", authz.ActionCreate)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-admin", "r-editor", "r-guest", "r-owner"}, allow)

	allow, err = reg.Policy().AllowList("users", authz.ActionPurge)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-admin", "r-owner"}, allow)

	role, ok := reg.Policy().Role("r-viewer")
	require.True(t, ok)
	assert.Equal(t, authz.Viewer, role.Type)
}

func TestDefaultSource_IsCopy(t *testing.T) {
	a := DefaultSource()
	a[0] = '#'
	assert.NotEqual(t, a[0], DefaultSource()[0])
}

func TestCompileBytes(t *testing.T) {
	reg, err := CompileBytes("inline.cue", []byte(`
		collection: notes: {
			indexes: slug: "unique"
			tracks: ["archival"]
		}
		role: w: {name: "Writer", type: "editor"}
		permission: [{roleType: "editor", collection: "notes", actions: ["create", "update"]}]
	`))
	require.NoError(t, err)
	assert.Equal(t, []string{"notes"}, reg.Names())

	allow, err := reg.Policy().AllowList("notes", authz.ActionUpdate)
	require.NoError(t, err)
	assert.Equal(t, []string{"w"}, allow)
}

func TestCompileBytes_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{
			name:    "unknown index kind",
			src:     `collection: c: indexes: a: "fulltext"`,
			wantMsg: "",
		},
		{
			name:    "unknown track",
			src:     `collection: c: tracks: ["publication"]`,
			wantMsg: "",
		},
		{
			name:    "misspelled field",
			src:     `collection: c: indices: a: "unique"`,
			wantMsg: "",
		},
		{
			name:    "same-state policy for unattached track",
			src:     `collection: c: {tracks: ["archival"], sameState: deletion: "ignore"}`,
			wantMsg: "not attached",
		},
		{
			name:    "creator-only without deletion track",
			src:     `collection: c: deletion: "creatorOnly"`,
			wantMsg: "requires the deletion track",
		},
		{
			name:    "reserved prefix",
			src:     `collection: "_index.x": {}`,
			wantMsg: "reserved",
		},
		{
			name:    "duplicate track",
			src:     `collection: c: tracks: ["archival", "archival"]`,
			wantMsg: "twice",
		},
		{
			name:    "unknown action",
			src:     "collection: c: {}\npermission: [{roleType: \"owner\", collection: \"c\", actions: [\"fly\"]}]",
			wantMsg: "unknown action",
		},
		{
			name:    "permission for unknown collection",
			src:     "collection: c: {}\npermission: [{roleType: \"owner\", collection: \"d\", actions: [\"view\"]}]",
			wantMsg: "unknown collection",
		},
		{
			name:    "no collections",
			src:     `role: r: {name: "R", type: "guest"}`,
			wantMsg: "at least one collection",
		},
		{
			name:    "syntax",
			src:     `collection: {`,
			wantMsg: "inline.cue",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileBytes("inline.cue", []byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCompileError_Position(t *testing.T) {
	_, err := CompileBytes("bad.cue", []byte("collection: c: {}\nrole: ::\n"))
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Pos.IsValid())
	assert.Equal(t, "bad.cue", ce.Pos.Filename())
	assert.Equal(t, 2, ce.Pos.Line())
}

func TestLoad(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)
	assert.Contains(t, reg.Names(), "users")

	dir := t.TempDir()
	path := filepath.Join(dir, "registry.cue")
	require.NoError(t, os.WriteFile(path, []byte(`collection: things: {}`), 0o644))

	reg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"things"}, reg.Names())

	pkgDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "a.cue"), []byte("package archive\n\ncollection: things: {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "b.cue"), []byte("package archive\n\ncollection: notes: tracks: [\"archival\"]\n"), 0o644))

	reg, err = Load(pkgDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes", "things"}, reg.Names())

	_, err = Load(filepath.Join(dir, "missing.cue"))
	assert.Error(t, err)
}
