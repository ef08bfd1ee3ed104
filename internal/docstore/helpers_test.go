package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/archivist/internal/authz"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/index"
	"github.com/roach88/archivist/internal/store"
	"github.com/roach88/archivist/internal/testutil"
	"github.com/roach88/archivist/internal/workflow"
)

var (
	owner  = authz.State{UserID: "u-owner", RoleID: "r-owner", RoleType: authz.Owner, Approval: document.Approved}
	admin  = authz.State{UserID: "u-admin", RoleID: "r-admin", RoleType: authz.Administrator, Approval: document.Approved}
	editor = authz.State{UserID: "u-editor", RoleID: "r-editor", RoleType: authz.Editor, Approval: document.Approved}
	viewer = authz.State{UserID: "u-viewer", RoleID: "r-viewer", RoleType: authz.Viewer, Approval: document.Approved}
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	var perms []authz.Permission
	perms = append(perms, authz.Permission{RoleType: authz.Owner, Collection: "*", Action: "*"})
	for _, a := range []string{authz.ActionCreate, authz.ActionUpdate, authz.ActionView, authz.ActionApprove,
		authz.ActionSuspend, authz.ActionArchive, authz.ActionDelete} {
		perms = append(perms, authz.Permission{RoleType: authz.Administrator, Collection: "users", Action: a})
	}
	for _, a := range []string{authz.ActionCreate, authz.ActionUpdate, authz.ActionArchive, authz.ActionDelete} {
		perms = append(perms, authz.Permission{RoleType: authz.Editor, Collection: "contacts", Action: a})
	}

	r, err := NewRegistry(
		[]CollectionDescriptor{
			{
				Name: "users",
				Indexes: []index.Field{
					{Name: "accountName", Kind: index.Unique},
					{Name: "email", Kind: index.Lookup},
				},
				Tracks: []document.Track{
					document.TrackApproval, document.TrackSuspension,
					document.TrackArchival, document.TrackDeletion,
				},
				Deletion: workflow.CreatorOnly,
			},
			{
				Name:      "contacts",
				Indexes:   []index.Field{{Name: "email", Kind: index.Lookup}},
				Tracks:    []document.Track{document.TrackArchival, document.TrackDeletion},
				SameState: map[document.Track]workflow.SameStatePolicy{document.TrackArchival: workflow.Restamp},
			},
		},
		[]authz.Role{
			{ID: "r-owner", Type: authz.Owner},
			{ID: "r-admin", Type: authz.Administrator},
			{ID: "r-editor", Type: authz.Editor},
			{ID: "r-viewer", Type: authz.Viewer},
		},
		perms,
	)
	require.NoError(t, err)
	return r
}

type fixture struct {
	backend *store.Store
	ds      *Store
	clock   *testutil.StepClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := testutil.OpenStore(t)
	clock := testutil.NewStepClock(testutil.Epoch, time.Second)
	ds := New(backend, testRegistry(t),
		WithClock(clock),
		WithIDGenerator(testutil.NewSequenceIDs("doc")),
	)
	return &fixture{backend: backend, ds: ds, clock: clock}
}

// run queues writes through fn and commits them.
func (f *fixture) run(t *testing.T, fn func(b Batch) error) {
	t.Helper()
	b := f.backend.NewBatch()
	if err := fn(b); err != nil {
		b.Discard()
		require.NoError(t, err)
	}
	require.NoError(t, b.Commit(context.Background()))
}

func (f *fixture) create(t *testing.T, auth authz.State, collection string, seed Seed) *document.Document {
	t.Helper()
	var d *document.Document
	f.run(t, func(b Batch) error {
		var err error
		d, err = f.ds.Create(context.Background(), b, auth, collection, seed)
		return err
	})
	return d
}
