package docstore

import (
	"github.com/roach88/archivist/internal/authz"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/workflow"
)

// Approve moves doc's Approval track to target.
func (s *Store) Approve(b Batch, auth authz.State, doc *document.Document, target document.ApprovalState) (*document.Document, workflow.Outcome, error) {
	return s.transition(b, auth, doc, document.TrackApproval, authz.ActionApprove,
		func() (*document.Document, workflow.Outcome, error) {
			return s.machine.ApplyApproval(doc, target, auth.UserID)
		})
}

// MarkViewed stamps the first view of doc by the caller.
func (s *Store) MarkViewed(b Batch, auth authz.State, doc *document.Document) (*document.Document, workflow.Outcome, error) {
	return s.transition(b, auth, doc, document.TrackApproval, authz.ActionView,
		func() (*document.Document, workflow.Outcome, error) {
			return s.machine.ApplyViewed(doc, auth.UserID)
		})
}

// Suspend starts or ends a suspension of doc with a reason.
func (s *Store) Suspend(b Batch, auth authz.State, doc *document.Document, action workflow.SuspensionAction, reason string) (*document.Document, workflow.Outcome, error) {
	return s.transition(b, auth, doc, document.TrackSuspension, authz.ActionSuspend,
		func() (*document.Document, workflow.Outcome, error) {
			return s.machine.ApplySuspension(doc, action, reason, auth.UserID)
		})
}

// Archive sets doc's archived flag.
func (s *Store) Archive(b Batch, auth authz.State, doc *document.Document, archived bool) (*document.Document, workflow.Outcome, error) {
	return s.transition(b, auth, doc, document.TrackArchival, authz.ActionArchive,
		func() (*document.Document, workflow.Outcome, error) {
			return s.machine.ApplyArchival(doc, archived, auth.UserID)
		})
}

// Delete sets doc's soft-deletion flag under the collection's deletion
// policy.
func (s *Store) Delete(b Batch, auth authz.State, doc *document.Document, deleted bool) (*document.Document, workflow.Outcome, error) {
	var policy workflow.DeletionPolicy
	if doc != nil {
		if desc, ok := s.registry.Collection(doc.Collection); ok {
			policy = desc.Deletion
		}
	}
	return s.transition(b, auth, doc, document.TrackDeletion, authz.ActionDelete,
		func() (*document.Document, workflow.Outcome, error) {
			return s.machine.ApplyDeletion(doc, deleted, auth.UserID, policy)
		})
}

// transition gates, applies and queues one workflow step. Nothing is
// queued when the step is rejected or is a no-op.
func (s *Store) transition(
	b Batch,
	auth authz.State,
	doc *document.Document,
	track document.Track,
	action string,
	apply func() (*document.Document, workflow.Outcome, error),
) (*document.Document, workflow.Outcome, error) {
	if doc == nil {
		return nil, workflow.Rejected, errs.Validation("%s requires the current document", track)
	}
	desc, err := s.registry.descriptor(doc.Collection)
	if err != nil {
		return nil, workflow.Rejected, err
	}
	if !desc.HasTrack(track) {
		return nil, workflow.Rejected, errs.Validation("collection does not carry the %s track", track).WithDocument(doc.Collection, doc.ID)
	}
	if err := s.gate(auth, doc.Collection, action); err != nil {
		return nil, workflow.Rejected, err
	}

	out, outcome, err := apply()
	if err != nil {
		if errs.IsUnauthorized(err) {
			s.metrics.AuthzRejected(authz.CheckSameActor)
		}
		return nil, outcome, err
	}
	if outcome == workflow.Applied {
		if err := s.put(b, out); err != nil {
			return nil, workflow.Rejected, err
		}
	}
	return out, outcome, nil
}
