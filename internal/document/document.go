// Package document defines the persisted shape of every record in the
// archive: identity and audit stamps, a free-form field map, the four
// workflow tracks and the embedded update history.
//
// A Document is a Record plus its UpdateHistory. History entries are
// plain Records, so a snapshot can never carry a nested history.
package document

import (
	"time"
)

// Fields holds the caller-defined content of a document.
type Fields = map[string]any

// Record is one version of a document without its history.
type Record struct {
	ID                    string     `json:"id"`
	Collection            string     `json:"collection"`
	DateOfCreation        time.Time  `json:"dateOfCreation"`
	UserIDOfCreator       string     `json:"userIdOfCreator"`
	HasBeenUpdated        bool       `json:"hasBeenUpdated"`
	DateOfLatestUpdate    *time.Time `json:"dateOfLatestUpdate"`
	UserIDOfLatestUpdater string     `json:"userIdOfLatestUpdater"`

	Fields Fields `json:"fields"`

	Approval   *Approval   `json:"approval,omitempty"`
	Suspension *Suspension `json:"suspension,omitempty"`
	Archival   *Archival   `json:"archival,omitempty"`
	Deletion   *Deletion   `json:"deletion,omitempty"`
}

// Document is a persisted record together with its append-only history.
type Document struct {
	Record
	UpdateHistory []Record `json:"updateHistory"`
}

// Field returns the value at a top-level field name.
func (r *Record) Field(name string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[name]
	return v, ok
}

// Versions returns the number of recorded versions.
func (d *Document) Versions() int {
	return len(d.UpdateHistory)
}

// Latest returns the most recent history entry, or nil when history is empty.
func (d *Document) Latest() *Record {
	if len(d.UpdateHistory) == 0 {
		return nil
	}
	return &d.UpdateHistory[len(d.UpdateHistory)-1]
}

// ApprovalState is a position on the Approval track.
type ApprovalState string

const (
	Pending  ApprovalState = "pending"
	Approved ApprovalState = "approved"
	Denied   ApprovalState = "denied"
)

// Approval tracks a pending/approved/denied decision and whether anyone
// with authority has looked at the document.
type Approval struct {
	State           ApprovalState `json:"state"`
	HasBeenDecided  bool          `json:"hasBeenDecided"`
	UserIDOfDecider string        `json:"userIdOfDecider,omitempty"`
	DateOfDecision  *time.Time    `json:"dateOfDecision,omitempty"`

	HasBeenViewed  bool       `json:"hasBeenViewed"`
	UserIDOfViewer string     `json:"userIdOfViewer,omitempty"`
	DateOfViewing  *time.Time `json:"dateOfViewing,omitempty"`
}

// Suspension tracks alternating suspend/unsuspend. Start and end stamps
// are kept independently and survive later cycles.
type Suspension struct {
	IsSuspended bool `json:"isSuspended"`

	HasSuspensionStarted      bool       `json:"hasSuspensionStarted"`
	UserIDOfSuspensionStarter string     `json:"userIdOfSuspensionStarter,omitempty"`
	DateOfSuspensionStart     *time.Time `json:"dateOfSuspensionStart,omitempty"`
	ReasonForSuspensionStart  string     `json:"reasonForSuspensionStart,omitempty"`

	HasSuspensionEnded      bool       `json:"hasSuspensionEnded"`
	UserIDOfSuspensionEnder string     `json:"userIdOfSuspensionEnder,omitempty"`
	DateOfSuspensionEnd     *time.Time `json:"dateOfSuspensionEnd,omitempty"`
	ReasonForSuspensionEnd  string     `json:"reasonForSuspensionEnd,omitempty"`
}

// Archival is a stamped boolean toggle.
type Archival struct {
	IsArchived              bool       `json:"isArchived"`
	UserIDOfArchivalChanger string     `json:"userIdOfArchivalChanger,omitempty"`
	DateOfArchivalChange    *time.Time `json:"dateOfArchivalChange,omitempty"`
}

// Deletion is a stamped boolean toggle for soft deletion.
type Deletion struct {
	IsDeleted               bool       `json:"isDeleted"`
	UserIDOfDeletionChanger string     `json:"userIdOfDeletionChanger,omitempty"`
	DateOfDeletionChange    *time.Time `json:"dateOfDeletionChange,omitempty"`
}

// Track names a workflow track.
type Track string

const (
	TrackApproval   Track = "approval"
	TrackSuspension Track = "suspension"
	TrackArchival   Track = "archival"
	TrackDeletion   Track = "deletion"
)

// Tracks lists every track in a stable order.
var Tracks = []Track{TrackApproval, TrackSuspension, TrackArchival, TrackDeletion}

// ParseTrack validates a track name.
func ParseTrack(s string) (Track, bool) {
	for _, t := range Tracks {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// StatePath returns the stored JSON path holding a track's current value,
// as used by collection scans.
func (t Track) StatePath() string {
	switch t {
	case TrackApproval:
		return "approval.state"
	case TrackSuspension:
		return "suspension.isSuspended"
	case TrackArchival:
		return "archival.isArchived"
	case TrackDeletion:
		return "deletion.isDeleted"
	}
	return ""
}

// NewTracks attaches the initial state of each track to r.
func NewTracks(r *Record, tracks ...Track) {
	for _, t := range tracks {
		switch t {
		case TrackApproval:
			r.Approval = &Approval{State: Pending}
		case TrackSuspension:
			r.Suspension = &Suspension{}
		case TrackArchival:
			r.Archival = &Archival{}
		case TrackDeletion:
			r.Deletion = &Deletion{}
		}
	}
}
