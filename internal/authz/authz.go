// Package authz is the authorization gate checked before every document
// mutation.
//
// The Assert functions are pure: they inspect the caller's State snapshot
// and an allow-list and return UNAUTHORIZED on rejection. Policy resolves
// allow-lists from the registry's permission table.
package authz

import (
	"slices"

	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/errs"
)

// RoleType is the closed set of role kinds.
type RoleType string

const (
	Owner         RoleType = "owner"
	Administrator RoleType = "administrator"
	Editor        RoleType = "editor"
	Viewer        RoleType = "viewer"
	Guest         RoleType = "guest"
)

// RoleTypes lists every role type from most to least privileged.
var RoleTypes = []RoleType{Owner, Administrator, Editor, Viewer, Guest}

// Derived role-type sets used by permission tables.
var (
	Authorizers = []RoleType{Owner, Administrator}
	AuthViewers = []RoleType{Owner, Administrator, Editor, Viewer}
)

// ParseRoleType validates a role type name.
func ParseRoleType(s string) (RoleType, bool) {
	for _, t := range RoleTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Role is reference data: an id plus its type.
type Role struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Type RoleType `json:"type"`
}

// State is the caller's authorization snapshot.
type State struct {
	UserID   string
	RoleID   string
	RoleType RoleType
	Approval document.ApprovalState
}

// SystemUserID is the actor stamped on bootstrap writes.
const SystemUserID = "system"

// System is the state used for bootstrap writes that run before any user
// exists. ownerRoleID must name a registered owner role.
func System(ownerRoleID string) State {
	return State{UserID: SystemUserID, RoleID: ownerRoleID, RoleType: Owner, Approval: document.Approved}
}

// Check names used for rejection metrics.
const (
	CheckApproved  = "approved"
	CheckRole      = "role"
	CheckSameActor = "same_actor"
)

// AssertApproved fails unless the caller's own approval state is approved.
func AssertApproved(s State) error {
	if s.Approval != document.Approved {
		return errs.Unauthorized("caller %q is not approved (state=%s)", s.UserID, orNone(string(s.Approval)))
	}
	return nil
}

// AssertRoleAllowed fails unless the caller's role id is in allowList.
func AssertRoleAllowed(s State, allowList []string) error {
	if s.RoleID == "" || !slices.Contains(allowList, s.RoleID) {
		return errs.Unauthorized("role %q is not allowed", orNone(s.RoleID))
	}
	return nil
}

// AssertSameActor fails unless the caller is targetID.
func AssertSameActor(s State, targetID string) error {
	if s.UserID == "" || s.UserID != targetID {
		return errs.Unauthorized("caller %q is not %q", orNone(s.UserID), orNone(targetID))
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
