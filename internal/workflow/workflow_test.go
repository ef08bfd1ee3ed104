package workflow

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/archivist/internal/audit"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/metrics"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// stepClock returns t0, t0+1m, t0+2m, ...
func stepClock() func() time.Time {
	n := 0
	return func() time.Time {
		t := t0.Add(time.Duration(n) * time.Minute)
		n++
		return t
	}
}

func newDoc(t *testing.T, tracks ...document.Track) *document.Document {
	t.Helper()
	d := &document.Document{Record: document.Record{
		ID:              "d1",
		Collection:      "users",
		DateOfCreation:  t0,
		UserIDOfCreator: "creator",
		Fields:          document.Fields{"name": "Ada"},
	}}
	document.NewTracks(&d.Record, tracks...)
	out, err := audit.RecordCreate(d)
	require.NoError(t, err)
	return out
}

func TestApproval(t *testing.T) {
	m := New(WithClock(stepClock()))
	d := newDoc(t, document.TrackApproval)

	d, outcome, err := m.ApplyApproval(d, document.Approved, "admin")
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, document.Approved, d.Approval.State)
	assert.True(t, d.Approval.HasBeenDecided)
	assert.Equal(t, "admin", d.Approval.UserIDOfDecider)
	assert.Equal(t, t0, *d.Approval.DateOfDecision)
	assert.Len(t, d.UpdateHistory, 2)

	// Re-deciding is allowed.
	d, outcome, err = m.ApplyApproval(d, document.Denied, "owner")
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, document.Denied, d.Approval.State)
	assert.Equal(t, "owner", d.Approval.UserIDOfDecider)
	assert.Len(t, d.UpdateHistory, 3)
}

func TestApproval_SameStateIsNoopByDefault(t *testing.T) {
	m := New(WithClock(stepClock()))
	d := newDoc(t, document.TrackApproval)

	d, _, err := m.ApplyApproval(d, document.Approved, "admin")
	require.NoError(t, err)

	again, outcome, err := m.ApplyApproval(d, document.Approved, "other")
	require.NoError(t, err)
	assert.Equal(t, Noop, outcome)
	assert.Same(t, d, again)
	assert.Equal(t, "admin", again.Approval.UserIDOfDecider, "not re-stamped")
	assert.Len(t, again.UpdateHistory, 2)
}

func TestApproval_CannotReturnToPending(t *testing.T) {
	m := New()
	d := newDoc(t, document.TrackApproval)
	d, _, err := m.ApplyApproval(d, document.Denied, "admin")
	require.NoError(t, err)

	_, outcome, err := m.ApplyApproval(d, document.Pending, "admin")
	assert.True(t, errs.IsInvalidStateTransition(err), "got %v", err)
	assert.Equal(t, Rejected, outcome)
}

func TestApproval_UnknownTarget(t *testing.T) {
	_, _, err := New().ApplyApproval(newDoc(t), "maybe", "admin")
	assert.True(t, errs.IsValidationFailed(err))
}

func TestViewed(t *testing.T) {
	m := New(WithClock(stepClock()))
	d := newDoc(t, document.TrackApproval)
	assert.False(t, d.Approval.HasBeenViewed)

	d, outcome, err := m.ApplyViewed(d, "admin")
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.True(t, d.Approval.HasBeenViewed)
	assert.Equal(t, "admin", d.Approval.UserIDOfViewer)
	assert.Equal(t, document.Pending, d.Approval.State)

	d2, outcome, err := m.ApplyViewed(d, "someone-else")
	require.NoError(t, err)
	assert.Equal(t, Noop, outcome)
	assert.Equal(t, "admin", d2.Approval.UserIDOfViewer)
	assert.Len(t, d2.UpdateHistory, 2)
}

func TestSuspension_Alternation(t *testing.T) {
	m := New(WithClock(stepClock()))
	d := newDoc(t, document.TrackSuspension)

	_, _, err := m.ApplySuspension(d, Unsuspend, "never suspended", "admin")
	assert.True(t, errs.IsInvalidStateTransition(err), "unsuspend unsuspended: %v", err)

	d, _, err = m.ApplySuspension(d, Suspend, "spam", "admin")
	require.NoError(t, err)
	assert.True(t, d.Suspension.IsSuspended)

	_, _, err = m.ApplySuspension(d, Suspend, "again", "admin")
	assert.True(t, errs.IsInvalidStateTransition(err), "suspend suspended: %v", err)

	d, _, err = m.ApplySuspension(d, Unsuspend, "appeal granted", "owner")
	require.NoError(t, err)

	s := d.Suspension
	assert.False(t, s.IsSuspended)
	require.NotNil(t, s.DateOfSuspensionStart)
	require.NotNil(t, s.DateOfSuspensionEnd)
	assert.Equal(t, "admin", s.UserIDOfSuspensionStarter)
	assert.Equal(t, "spam", s.ReasonForSuspensionStart)
	assert.Equal(t, "owner", s.UserIDOfSuspensionEnder)
	assert.Equal(t, "appeal granted", s.ReasonForSuspensionEnd)
	assert.True(t, s.DateOfSuspensionEnd.After(*s.DateOfSuspensionStart))
	assert.Len(t, d.UpdateHistory, 3)
}

func TestSuspension_RequiresReason(t *testing.T) {
	_, _, err := New().ApplySuspension(newDoc(t), Suspend, "  ", "admin")
	assert.True(t, errs.IsValidationFailed(err))
}

func TestArchival(t *testing.T) {
	m := New(WithClock(stepClock()))
	d := newDoc(t, document.TrackArchival, document.TrackApproval)

	d, _, err := m.ApplyArchival(d, true, "admin")
	require.NoError(t, err)
	assert.True(t, d.Archival.IsArchived)
	assert.Equal(t, "admin", d.Archival.UserIDOfArchivalChanger)
	assert.Equal(t, document.Pending, d.Approval.State, "other tracks untouched")
	assert.False(t, d.Approval.HasBeenDecided)

	_, _, err = m.ApplyArchival(d, true, "admin")
	assert.True(t, errs.IsInvalidStateTransition(err))

	d, _, err = m.ApplyArchival(d, false, "admin")
	require.NoError(t, err)
	assert.False(t, d.Archival.IsArchived)
}

func TestArchival_RestampPolicy(t *testing.T) {
	m := New(
		WithClock(stepClock()),
		WithPolicies(func(collection string, track document.Track) (SameStatePolicy, bool) {
			if collection == "users" && track == document.TrackArchival {
				return Restamp, true
			}
			return "", false
		}),
	)
	d := newDoc(t, document.TrackArchival)

	d, _, err := m.ApplyArchival(d, true, "admin")
	require.NoError(t, err)
	d, outcome, err := m.ApplyArchival(d, true, "owner")
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, "owner", d.Archival.UserIDOfArchivalChanger)
	assert.Equal(t, t0.Add(time.Minute), *d.Archival.DateOfArchivalChange)
	assert.Len(t, d.UpdateHistory, 3)

	assert.Equal(t, Restamp, m.Policy("users", document.TrackArchival))
	assert.Equal(t, Reject, m.Policy("users", document.TrackDeletion))
	assert.Equal(t, Ignore, m.Policy("users", document.TrackApproval))
}

func TestDeletion_CreatorOnly(t *testing.T) {
	m := New(WithClock(stepClock()))
	d := newDoc(t, document.TrackDeletion)

	_, outcome, err := m.ApplyDeletion(d, true, "intruder", CreatorOnly)
	assert.True(t, errs.IsUnauthorized(err))
	assert.Equal(t, Rejected, outcome)

	d, _, err = m.ApplyDeletion(d, true, "creator", CreatorOnly)
	require.NoError(t, err)
	assert.True(t, d.Deletion.IsDeleted)

	d, _, err = m.ApplyDeletion(d, false, "admin", AnyAuthorized)
	require.NoError(t, err)
	assert.False(t, d.Deletion.IsDeleted)
	assert.Equal(t, "admin", d.Deletion.UserIDOfDeletionChanger)

	_, _, err = m.ApplyDeletion(d, false, "admin", AnyAuthorized)
	assert.True(t, errs.IsInvalidStateTransition(err))
}

func TestTracksAttachLazily(t *testing.T) {
	// A document created without the track starts in the initial state.
	m := New()
	d, _, err := m.ApplyArchival(newDoc(t), true, "admin")
	require.NoError(t, err)
	assert.True(t, d.Archival.IsArchived)
}

func TestRequiresActor(t *testing.T) {
	_, _, err := New().ApplyArchival(newDoc(t), true, "")
	assert.True(t, errs.IsValidationFailed(err))
}

func TestInputDocumentUnchanged(t *testing.T) {
	d := newDoc(t, document.TrackArchival)
	_, _, err := New().ApplyArchival(d, true, "admin")
	require.NoError(t, err)
	assert.False(t, d.Archival.IsArchived)
	assert.Len(t, d.UpdateHistory, 1)
}

func TestMetricsRecorded(t *testing.T) {
	mt := metrics.New(prometheus.NewRegistry())
	m := New(WithMetrics(mt))
	d := newDoc(t)
	_, _, err := m.ApplyArchival(d, false, "admin")
	assert.Error(t, err)
}

func TestParsePolicies(t *testing.T) {
	p, err := ParseSameStatePolicy("restamp")
	require.NoError(t, err)
	assert.Equal(t, Restamp, p)
	_, err = ParseSameStatePolicy("maybe")
	assert.Error(t, err)

	dp, err := ParseDeletionPolicy("creatorOnly")
	require.NoError(t, err)
	assert.Equal(t, CreatorOnly, dp)
	_, err = ParseDeletionPolicy("")
	assert.Error(t, err)
}
