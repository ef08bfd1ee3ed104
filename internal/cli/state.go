package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/archivist/internal/authz"
	"github.com/roach88/archivist/internal/docstore"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/workflow"
)

// TransitionResult is the JSON payload of a workflow command.
type TransitionResult struct {
	Outcome  workflow.Outcome   `json:"outcome"`
	Document *document.Document `json:"document"`
}

// transitionFunc applies one workflow transition to doc.
type transitionFunc func(ds *docstore.Store, b docstore.Batch, auth authz.State, doc *document.Document) (*document.Document, workflow.Outcome, error)

// NewStateCommand creates the state command group.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Move documents along their workflow tracks",
		Long: `Apply workflow transitions. A transition to the state a document is
already in is a no-op unless the collection's same-state policy says
otherwise; transitions a track does not allow exit with
INVALID_STATE_TRANSITION.`,
	}

	var reason string

	cmd.AddCommand(
		newTransitionCommand(rootOpts, "approve", "Approve a document", "approval",
			func(ds *docstore.Store, b docstore.Batch, auth authz.State, d *document.Document) (*document.Document, workflow.Outcome, error) {
				return ds.Approve(b, auth, d, document.Approved)
			}),
		newTransitionCommand(rootOpts, "deny", "Deny a document", "approval",
			func(ds *docstore.Store, b docstore.Batch, auth authz.State, d *document.Document) (*document.Document, workflow.Outcome, error) {
				return ds.Approve(b, auth, d, document.Denied)
			}),
		newTransitionCommand(rootOpts, "view", "Mark a document as viewed", "approval",
			func(ds *docstore.Store, b docstore.Batch, auth authz.State, d *document.Document) (*document.Document, workflow.Outcome, error) {
				return ds.MarkViewed(b, auth, d)
			}),
		withReason(newTransitionCommand(rootOpts, "suspend", "Suspend a document", "suspension",
			func(ds *docstore.Store, b docstore.Batch, auth authz.State, d *document.Document) (*document.Document, workflow.Outcome, error) {
				return ds.Suspend(b, auth, d, workflow.Suspend, reason)
			}), &reason),
		withReason(newTransitionCommand(rootOpts, "unsuspend", "Lift a suspension", "suspension",
			func(ds *docstore.Store, b docstore.Batch, auth authz.State, d *document.Document) (*document.Document, workflow.Outcome, error) {
				return ds.Suspend(b, auth, d, workflow.Unsuspend, reason)
			}), &reason),
		newTransitionCommand(rootOpts, "archive", "Archive a document", "archival",
			func(ds *docstore.Store, b docstore.Batch, auth authz.State, d *document.Document) (*document.Document, workflow.Outcome, error) {
				return ds.Archive(b, auth, d, true)
			}),
		newTransitionCommand(rootOpts, "unarchive", "Restore an archived document", "archival",
			func(ds *docstore.Store, b docstore.Batch, auth authz.State, d *document.Document) (*document.Document, workflow.Outcome, error) {
				return ds.Archive(b, auth, d, false)
			}),
		newTransitionCommand(rootOpts, "delete", "Soft-delete a document", "deletion",
			func(ds *docstore.Store, b docstore.Batch, auth authz.State, d *document.Document) (*document.Document, workflow.Outcome, error) {
				return ds.Delete(b, auth, d, true)
			}),
		newTransitionCommand(rootOpts, "undelete", "Restore a soft-deleted document", "deletion",
			func(ds *docstore.Store, b docstore.Batch, auth authz.State, d *document.Document) (*document.Document, workflow.Outcome, error) {
				return ds.Delete(b, auth, d, false)
			}),
	)
	return cmd
}

func withReason(cmd *cobra.Command, reason *string) *cobra.Command {
	cmd.Flags().StringVar(reason, "reason", "", "reason recorded with the transition")
	return cmd
}

func newTransitionCommand(rootOpts *RootOptions, name, short, track string, apply transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <collection> <id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				return runTransition(ctx, e, cmd, name, track, args[0], args[1], apply)
			})
		},
	}
}

func runTransition(ctx context.Context, e *env, cmd *cobra.Command, name, track, collection, id string, apply transitionFunc) error {
	auth, err := e.auth(ctx)
	if err != nil {
		return err
	}
	current, err := e.docs.GetByIDWithAssert(ctx, collection, id)
	if err != nil {
		return engineError(name+" failed", err)
	}

	b := e.store.NewBatch()
	d, outcome, err := apply(e.docs, b, auth, current)
	if err == nil {
		err = e.commit(ctx, b)
	} else {
		b.Discard()
	}
	e.record(ctx, "state."+name, collection+"/"+id, err)
	if err != nil {
		return engineError(name+" failed", err)
	}

	text := fmt.Sprintf("%s %s/%s: %s", track, collection, id, outcome)
	return formatter(e.opts, cmd.OutOrStdout(), cmd.ErrOrStderr()).
		Success(TransitionResult{Outcome: outcome, Document: d}, text)
}
