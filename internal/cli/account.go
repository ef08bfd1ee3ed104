package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/archivist/internal/accounts"
	"github.com/roach88/archivist/internal/document"
)

// NewAccountCommand creates the account command group.
func NewAccountCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage user accounts and access requests",
		Long: `Sign up, approve and delete user accounts, and request or decide role
changes. The acting user is always taken from --actor.`,
	}
	cmd.AddCommand(newAccountSignUpCommand(rootOpts))
	cmd.AddCommand(newAccountDecideUserCommand(rootOpts, "approve", document.Approved))
	cmd.AddCommand(newAccountDecideUserCommand(rootOpts, "deny", document.Denied))
	cmd.AddCommand(newAccountRequestCommand(rootOpts))
	cmd.AddCommand(newAccountRequestsCommand(rootOpts))
	cmd.AddCommand(newAccountDecideRequestCommand(rootOpts))
	cmd.AddCommand(newAccountDeleteCommand(rootOpts))
	return cmd
}

// AccountSignUpOptions holds flags for account signup.
type AccountSignUpOptions struct {
	*RootOptions
	AccountName string
	Email       string
	DisplayName string
}

func newAccountSignUpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountSignUpOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "signup <user-id>",
		Short: "Create a pending guest account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				b := e.store.NewBatch()
				u, err := e.accounts.SignUp(ctx, b, args[0], accounts.User{
					AccountName: opts.AccountName,
					Email:       opts.Email,
					DisplayName: opts.DisplayName,
				})
				if err == nil {
					err = e.commit(ctx, b)
				} else {
					b.Discard()
				}
				e.record(ctx, "account.signup", accounts.UsersCollection+"/"+args[0], err)
				if err != nil {
					return engineError("sign-up failed", err)
				}
				return formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).
					Success(u.Doc, fmt.Sprintf("Signed up %s (%s), awaiting approval", u.Doc.ID, u.Value.AccountName))
			})
		},
	}
	cmd.Flags().StringVar(&opts.AccountName, "account-name", "", "unique account name (required)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.DisplayName, "display-name", "", "display name")
	_ = cmd.MarkFlagRequired("account-name")
	return cmd
}

func newAccountDecideUserCommand(rootOpts *RootOptions, name string, target document.ApprovalState) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <user-id>",
		Short: fmt.Sprintf("Set a user account to %s", target),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				auth, err := e.auth(ctx)
				if err != nil {
					return err
				}
				b := e.store.NewBatch()
				d, outcome, err := e.accounts.DecideUser(ctx, b, auth, args[0], target)
				if err == nil {
					err = e.commit(ctx, b)
				} else {
					b.Discard()
				}
				e.record(ctx, "account."+name, accounts.UsersCollection+"/"+args[0], err)
				if err != nil {
					return engineError(name+" failed", err)
				}
				return formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).
					Success(TransitionResult{Outcome: outcome, Document: d},
						fmt.Sprintf("user %s: %s", args[0], outcome))
			})
		},
	}
}

// AccountRequestOptions holds flags for account request.
type AccountRequestOptions struct {
	*RootOptions
	Message string
}

func newAccountRequestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountRequestOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "request <role-id>",
		Short: "Ask for the acting user to be granted a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				auth, err := e.auth(ctx)
				if err != nil {
					return err
				}
				b := e.store.NewBatch()
				req, err := e.accounts.RequestAccess(ctx, b, auth, args[0], opts.Message)
				if err == nil {
					err = e.commit(ctx, b)
				} else {
					b.Discard()
				}
				resource := accounts.RequestsCollection
				if req != nil {
					resource += "/" + req.Doc.ID
				}
				e.record(ctx, "account.request", resource, err)
				if err != nil {
					return engineError("request failed", err)
				}
				return formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).
					Success(req.Doc, fmt.Sprintf("Requested role %s (request %s)", args[0], req.Doc.ID))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Message, "message", "", "note for the approver")
	return cmd
}

func newAccountRequestsCommand(rootOpts *RootOptions) *cobra.Command {
	var page PageOptions
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List pending access requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				reqs, err := e.accounts.PendingRequests(ctx, page.page())
				if err != nil {
					return engineError("listing requests failed", err)
				}
				docs := make([]*document.Document, len(reqs))
				for i, r := range reqs {
					docs[i] = r.Doc
				}
				return outputDocs(rootOpts, cmd, docs)
			})
		},
	}
	page.bind(cmd)
	return cmd
}

// AccountDecideRequestOptions holds flags for account decide.
type AccountDecideRequestOptions struct {
	*RootOptions
	Deny bool
}

func newAccountDecideRequestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountDecideRequestOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "decide <request-id>",
		Short: "Approve (or --deny) an access request",
		Long: `Decide an access request. Approving it also moves the requesting user to
the requested role, in the same commit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				auth, err := e.auth(ctx)
				if err != nil {
					return err
				}
				b := e.store.NewBatch()
				req, err := e.accounts.DecideRequest(ctx, b, auth, args[0], !opts.Deny)
				if err == nil {
					err = e.commit(ctx, b)
				} else {
					b.Discard()
				}
				e.record(ctx, "account.decide", accounts.RequestsCollection+"/"+args[0], err)
				if err != nil {
					return engineError("decide failed", err)
				}
				return formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).
					Success(req.Doc, fmt.Sprintf("request %s: %s", args[0], req.Doc.Approval.State))
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Deny, "deny", false, "deny instead of approve")
	return cmd
}

func newAccountDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Soft-delete a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				auth, err := e.auth(ctx)
				if err != nil {
					return err
				}
				b := e.store.NewBatch()
				d, err := e.accounts.DeleteAccount(ctx, b, auth, args[0])
				if err == nil {
					err = e.commit(ctx, b)
				} else {
					b.Discard()
				}
				e.record(ctx, "account.delete", accounts.UsersCollection+"/"+args[0], err)
				if err != nil {
					return engineError("delete failed", err)
				}
				return formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).
					Success(d, "Deleted user "+args[0])
			})
		},
	}
}
