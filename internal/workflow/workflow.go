// Package workflow implements the four reusable document state tracks:
// Approval, Suspension, Archival and Deletion.
//
// Each track declares its transitions as a looplab/fsm event table. A call
// validates the requested move against the document's current state,
// stamps that track's actor and time fields and hands the resulting
// partial to the audit recorder. Other tracks are never touched.
//
// Moving a track to the state it already holds is governed by the
// collection's SameStatePolicy for that track.
package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/roach88/archivist/internal/audit"
	"github.com/roach88/archivist/internal/authz"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/metrics"
)

// Track states and events as known to the fsm tables.
const (
	statePending  = string(document.Pending)
	stateApproved = string(document.Approved)
	stateDenied   = string(document.Denied)

	stateUnsuspended = "unsuspended"
	stateSuspended   = "suspended"

	stateNotArchived = "not_archived"
	stateArchived    = "archived"

	stateUndeleted = "undeleted"
	stateDeleted   = "deleted"

	eventPend    = "pend"
	eventApprove = "approve"
	eventDeny    = "deny"

	eventSuspend   = "suspend"
	eventUnsuspend = "unsuspend"

	eventArchive   = "archive"
	eventUnarchive = "unarchive"

	eventDelete   = "delete"
	eventUndelete = "undelete"
)

var (
	approvalEvents = fsm.Events{
		{Name: eventPend, Src: []string{statePending}, Dst: statePending},
		{Name: eventApprove, Src: []string{statePending, stateApproved, stateDenied}, Dst: stateApproved},
		{Name: eventDeny, Src: []string{statePending, stateApproved, stateDenied}, Dst: stateDenied},
	}

	suspensionEvents = fsm.Events{
		{Name: eventSuspend, Src: []string{stateUnsuspended, stateSuspended}, Dst: stateSuspended},
		{Name: eventUnsuspend, Src: []string{stateSuspended, stateUnsuspended}, Dst: stateUnsuspended},
	}

	archivalEvents = fsm.Events{
		{Name: eventArchive, Src: []string{stateNotArchived, stateArchived}, Dst: stateArchived},
		{Name: eventUnarchive, Src: []string{stateArchived, stateNotArchived}, Dst: stateNotArchived},
	}

	deletionEvents = fsm.Events{
		{Name: eventDelete, Src: []string{stateUndeleted, stateDeleted}, Dst: stateDeleted},
		{Name: eventUndelete, Src: []string{stateDeleted, stateUndeleted}, Dst: stateUndeleted},
	}
)

// SuspensionAction is the requested half of a suspension cycle.
type SuspensionAction string

const (
	Suspend   SuspensionAction = "suspend"
	Unsuspend SuspensionAction = "unsuspend"
)

// PolicyResolver returns a collection's same-state policy for a track.
// ok is false when the collection does not override the default.
type PolicyResolver func(collection string, track document.Track) (p SameStatePolicy, ok bool)

// Machine applies workflow transitions to documents.
// It holds no per-document state and is safe for concurrent use.
type Machine struct {
	now      func() time.Time
	policies PolicyResolver
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the time source for stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithPolicies sets per-collection same-state policy overrides.
func WithPolicies(r PolicyResolver) Option {
	return func(m *Machine) { m.policies = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records transition outcomes on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// New returns a Machine.
func New(opts ...Option) *Machine {
	m := &Machine{
		now:    time.Now,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the effective same-state policy for collection and track.
func (m *Machine) Policy(collection string, track document.Track) SameStatePolicy {
	if m.policies != nil {
		if p, ok := m.policies(collection, track); ok {
			return p
		}
	}
	return DefaultPolicy(track)
}

// ApplyApproval moves the Approval track to target. A decided document may
// be re-decided; it cannot return to pending.
func (m *Machine) ApplyApproval(doc *document.Document, target document.ApprovalState, actorID string) (*document.Document, Outcome, error) {
	var event string
	switch target {
	case document.Pending:
		event = eventPend
	case document.Approved:
		event = eventApprove
	case document.Denied:
		event = eventDeny
	default:
		return nil, Rejected, errs.Validation("unknown approval state %q", target).WithDocument(doc.Collection, doc.ID)
	}

	cur := document.Approval{State: document.Pending}
	if doc.Approval != nil {
		cur = *doc.Approval
	}

	return m.apply(doc, document.TrackApproval, approvalEvents, string(cur.State), event, actorID,
		func(now time.Time) audit.Partial {
			next := cur
			next.State = target
			next.HasBeenDecided = target != document.Pending
			next.UserIDOfDecider = actorID
			next.DateOfDecision = &now
			return audit.Partial{Approval: &next}
		})
}

// ApplyViewed marks the document as viewed by actorID. Only the first view
// is stamped; later calls are no-ops.
func (m *Machine) ApplyViewed(doc *document.Document, actorID string) (*document.Document, Outcome, error) {
	if err := requireActor(doc, actorID); err != nil {
		return nil, Rejected, err
	}

	cur := document.Approval{State: document.Pending}
	if doc.Approval != nil {
		cur = *doc.Approval
	}
	if cur.HasBeenViewed {
		m.metrics.StateTransition("viewed", string(Noop))
		return doc, Noop, nil
	}

	now := m.now().UTC()
	cur.HasBeenViewed = true
	cur.UserIDOfViewer = actorID
	cur.DateOfViewing = &now

	out, err := audit.RecordUpdate(doc, audit.Partial{Approval: &cur}, actorID, now)
	if err != nil {
		return nil, Rejected, err
	}
	m.metrics.StateTransition("viewed", string(Applied))
	return out, Applied, nil
}

// ApplySuspension starts or ends a suspension. Suspend and unsuspend must
// alternate; each half stamps its own actor, time and reason, and the
// other half's stamps are kept.
func (m *Machine) ApplySuspension(doc *document.Document, action SuspensionAction, reason, actorID string) (*document.Document, Outcome, error) {
	var event string
	switch action {
	case Suspend:
		event = eventSuspend
	case Unsuspend:
		event = eventUnsuspend
	default:
		return nil, Rejected, errs.Validation("unknown suspension action %q", action).WithDocument(doc.Collection, doc.ID)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, Rejected, errs.Validation("%s requires a reason", action).WithDocument(doc.Collection, doc.ID)
	}

	var cur document.Suspension
	if doc.Suspension != nil {
		cur = *doc.Suspension
	}
	from := stateUnsuspended
	if cur.IsSuspended {
		from = stateSuspended
	}

	return m.apply(doc, document.TrackSuspension, suspensionEvents, from, event, actorID,
		func(now time.Time) audit.Partial {
			next := cur
			if action == Suspend {
				next.IsSuspended = true
				next.HasSuspensionStarted = true
				next.UserIDOfSuspensionStarter = actorID
				next.DateOfSuspensionStart = &now
				next.ReasonForSuspensionStart = reason
			} else {
				next.IsSuspended = false
				next.HasSuspensionEnded = true
				next.UserIDOfSuspensionEnder = actorID
				next.DateOfSuspensionEnd = &now
				next.ReasonForSuspensionEnd = reason
			}
			return audit.Partial{Suspension: &next}
		})
}

// ApplyArchival sets the archived flag to target.
func (m *Machine) ApplyArchival(doc *document.Document, target bool, actorID string) (*document.Document, Outcome, error) {
	var cur document.Archival
	if doc.Archival != nil {
		cur = *doc.Archival
	}

	from, event := stateNotArchived, eventUnarchive
	if cur.IsArchived {
		from = stateArchived
	}
	if target {
		event = eventArchive
	}

	return m.apply(doc, document.TrackArchival, archivalEvents, from, event, actorID,
		func(now time.Time) audit.Partial {
			next := document.Archival{
				IsArchived:              target,
				UserIDOfArchivalChanger: actorID,
				DateOfArchivalChange:    &now,
			}
			return audit.Partial{Archival: &next}
		})
}

// ApplyDeletion sets the soft-deletion flag to target. With CreatorOnly
// only the document's creator may flip it.
func (m *Machine) ApplyDeletion(doc *document.Document, target bool, actorID string, policy DeletionPolicy) (*document.Document, Outcome, error) {
	if policy == CreatorOnly {
		if err := authz.AssertSameActor(authz.State{UserID: actorID}, doc.UserIDOfCreator); err != nil {
			m.metrics.StateTransition(string(document.TrackDeletion), string(Rejected))
			return nil, Rejected, withDocument(err, doc)
		}
	}

	var cur document.Deletion
	if doc.Deletion != nil {
		cur = *doc.Deletion
	}

	from, event := stateUndeleted, eventUndelete
	if cur.IsDeleted {
		from = stateDeleted
	}
	if target {
		event = eventDelete
	}

	return m.apply(doc, document.TrackDeletion, deletionEvents, from, event, actorID,
		func(now time.Time) audit.Partial {
			next := document.Deletion{
				IsDeleted:               target,
				UserIDOfDeletionChanger: actorID,
				DateOfDeletionChange:    &now,
			}
			return audit.Partial{Deletion: &next}
		})
}

// apply runs event on a throwaway fsm positioned at from, resolves the
// same-state case through the collection policy and records the stamped
// partial through the audit recorder.
func (m *Machine) apply(
	doc *document.Document,
	track document.Track,
	events fsm.Events,
	from, event, actorID string,
	stamp func(now time.Time) audit.Partial,
) (*document.Document, Outcome, error) {
	if err := requireActor(doc, actorID); err != nil {
		return nil, Rejected, err
	}

	machine := fsm.NewFSM(from, events, fsm.Callbacks{})
	err := machine.Event(context.Background(), event)

	var (
		invalid fsm.InvalidEventError
		same    fsm.NoTransitionError
	)
	switch {
	case err == nil:
	case errors.As(err, &same):
		switch m.Policy(doc.Collection, track) {
		case Ignore:
			m.metrics.StateTransition(string(track), string(Noop))
			return doc, Noop, nil
		case Restamp:
		default:
			m.reject(doc, track, from, event)
			return nil, Rejected, errs.InvalidTransition(string(track), from, machine.Current()).WithDocument(doc.Collection, doc.ID)
		}
	case errors.As(err, &invalid):
		m.reject(doc, track, from, event)
		return nil, Rejected, errs.InvalidTransition(string(track), from, targetOf(events, event)).WithDocument(doc.Collection, doc.ID)
	default:
		return nil, Rejected, errs.Validation("%s: %v", track, err).WithDocument(doc.Collection, doc.ID)
	}

	now := m.now().UTC()
	out, err := audit.RecordUpdate(doc, stamp(now), actorID, now)
	if err != nil {
		return nil, Rejected, err
	}

	m.metrics.StateTransition(string(track), string(Applied))
	m.logger.Debugw("state transition applied",
		"collection", doc.Collection,
		"id", doc.ID,
		"track", track,
		"from", from,
		"to", targetOf(events, event),
		"actor", actorID)
	return out, Applied, nil
}

func (m *Machine) reject(doc *document.Document, track document.Track, from, event string) {
	m.metrics.StateTransition(string(track), string(Rejected))
	m.logger.Debugw("state transition rejected",
		"collection", doc.Collection,
		"id", doc.ID,
		"track", track,
		"from", from,
		"event", event)
}

func targetOf(events fsm.Events, event string) string {
	for _, e := range events {
		if e.Name == event {
			return e.Dst
		}
	}
	return event
}

func requireActor(doc *document.Document, actorID string) error {
	if actorID == "" {
		return errs.Validation("actor id is required").WithDocument(doc.Collection, doc.ID)
	}
	return nil
}

func withDocument(err error, doc *document.Document) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.WithDocument(doc.Collection, doc.ID)
	}
	return err
}
