package workflow

import (
	"fmt"

	"github.com/roach88/archivist/internal/document"
)

// SameStatePolicy decides what happens when a track is asked to move to
// the state it is already in.
type SameStatePolicy string

const (
	// Reject fails with INVALID_STATE_TRANSITION.
	Reject SameStatePolicy = "reject"
	// Ignore succeeds without re-stamping or appending history.
	Ignore SameStatePolicy = "ignore"
	// Restamp succeeds, re-stamps actor and time and appends history.
	Restamp SameStatePolicy = "restamp"
)

// ParseSameStatePolicy validates a policy name.
func ParseSameStatePolicy(s string) (SameStatePolicy, error) {
	switch p := SameStatePolicy(s); p {
	case Reject, Ignore, Restamp:
		return p, nil
	}
	return "", fmt.Errorf("unknown same-state policy %q", s)
}

// DefaultPolicy returns the same-state policy of a track when a collection
// does not override it.
func DefaultPolicy(t document.Track) SameStatePolicy {
	if t == document.TrackApproval {
		return Ignore
	}
	return Reject
}

// DeletionPolicy restricts who may flip a document's deletion flag.
type DeletionPolicy string

const (
	// AnyAuthorized lets any caller that passed the authorization gate flip
	// the flag.
	AnyAuthorized DeletionPolicy = "anyAuthorized"
	// CreatorOnly restricts the flag to the document's own creator.
	CreatorOnly DeletionPolicy = "creatorOnly"
)

// ParseDeletionPolicy validates a deletion policy name.
func ParseDeletionPolicy(s string) (DeletionPolicy, error) {
	switch p := DeletionPolicy(s); p {
	case AnyAuthorized, CreatorOnly:
		return p, nil
	}
	return "", fmt.Errorf("unknown deletion policy %q", s)
}

// Outcome reports what a transition call did.
type Outcome string

const (
	Applied  Outcome = "applied"
	Noop     Outcome = "noop"
	Rejected Outcome = "rejected"
)
