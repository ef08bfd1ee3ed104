package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/archivist/internal/docstore"
	"github.com/roach88/archivist/internal/document"
	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/index"
	"github.com/roach88/archivist/internal/mutation"
)

// PageOptions holds paging flags shared by listing commands.
type PageOptions struct {
	Limit      int
	Offset     int
	Descending bool
}

func (p *PageOptions) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&p.Limit, "limit", 0, "maximum number of results (0 = no limit)")
	cmd.Flags().IntVar(&p.Offset, "offset", 0, "number of results to skip")
	cmd.Flags().BoolVar(&p.Descending, "desc", false, "newest first")
}

func (p *PageOptions) page() docstore.Page {
	return docstore.Page{Limit: p.Limit, Offset: p.Offset, Descending: p.Descending}
}

// NewDocCommand creates the doc command group.
func NewDocCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Read and write documents",
	}
	cmd.AddCommand(newDocGetCommand(rootOpts))
	cmd.AddCommand(newDocCreateCommand(rootOpts))
	cmd.AddCommand(newDocUpdateCommand(rootOpts))
	cmd.AddCommand(newDocHistoryCommand(rootOpts))
	cmd.AddCommand(newDocFindCommand(rootOpts))
	cmd.AddCommand(newDocListCommand(rootOpts))
	cmd.AddCommand(newDocPurgeCommand(rootOpts))
	return cmd
}

func newDocGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Show a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				d, err := e.docs.GetByIDWithAssert(ctx, args[0], args[1])
				if err != nil {
					return engineError("get failed", err)
				}
				return formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(d, describe(d))
			})
		},
	}
}

// DocCreateOptions holds flags for doc create.
type DocCreateOptions struct {
	*RootOptions
	ID     string
	Fields string
}

func newDocCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DocCreateOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "create <collection>",
		Short: "Create a document",
		Long: `Create a document in a collection. The store generates an id unless
--id is given. Declared unique fields must not already be claimed.

Examples:
  archivist --actor u-1 doc create contacts --fields '{"name":"Ada","email":"ada@example.com"}'
  archivist --actor u-1 doc create contacts --id c-1 --fields '{"name":"Ada"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseObject("--fields", opts.Fields)
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				auth, err := e.auth(ctx)
				if err != nil {
					return err
				}
				b := e.store.NewBatch()
				d, err := e.docs.Create(ctx, b, auth, args[0], docstore.Seed{ID: opts.ID, Fields: fields})
				if err == nil {
					err = e.commit(ctx, b)
				} else {
					b.Discard()
				}
				resource := args[0] + "/" + opts.ID
				if d != nil {
					resource = args[0] + "/" + d.ID
				}
				e.record(ctx, "document.create", resource, err)
				if err != nil {
					return engineError("create failed", err)
				}
				return formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).
					Success(d, "Created "+d.Collection+"/"+d.ID)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "document id (generated when empty)")
	cmd.Flags().StringVar(&opts.Fields, "fields", "{}", "document fields as a JSON object")
	return cmd
}

// DocUpdateOptions holds flags for doc update.
type DocUpdateOptions struct {
	*RootOptions
	Set       string
	Unset     []string
	Increment []string
}

func newDocUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DocUpdateOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "update <collection> <id>",
		Short: "Update document fields",
		Long: `Apply field mutations to a document and append the new version to its
history. Keys of --set may be dotted paths into nested objects.

Examples:
  archivist --actor u-1 doc update contacts c-1 --set '{"name":"Ada L."}'
  archivist --actor u-1 doc update contacts c-1 --unset phone --inc visits=1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := opts.updates()
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				auth, err := e.auth(ctx)
				if err != nil {
					return err
				}
				current, err := e.docs.GetByIDWithAssert(ctx, args[0], args[1])
				if err != nil {
					return engineError("update failed", err)
				}
				b := e.store.NewBatch()
				d, err := e.docs.Update(ctx, b, auth, current, updates)
				if err == nil {
					err = e.commit(ctx, b)
				} else {
					b.Discard()
				}
				e.record(ctx, "document.update", args[0]+"/"+args[1], err)
				if err != nil {
					return engineError("update failed", err)
				}
				return formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).
					Success(d, fmt.Sprintf("Updated %s/%s (version %d)", d.Collection, d.ID, d.Versions()))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Set, "set", "", "fields to set as a JSON object")
	cmd.Flags().StringSliceVar(&opts.Unset, "unset", nil, "fields to remove")
	cmd.Flags().StringSliceVar(&opts.Increment, "inc", nil, "numeric increments as field=delta")
	return cmd
}

func (o *DocUpdateOptions) updates() (mutation.Updates, error) {
	updates := mutation.Updates{}
	if o.Set != "" {
		set, err := parseObject("--set", o.Set)
		if err != nil {
			return nil, err
		}
		for k, v := range set {
			updates[k] = mutation.Set(v)
		}
	}
	for _, path := range o.Unset {
		updates[path] = mutation.Delete()
	}
	for _, kv := range o.Increment {
		path, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("--inc %q: want field=delta", kv))
		}
		delta, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("--inc %q: %v", kv, err))
		}
		updates[path] = mutation.Increment(delta)
	}
	if len(updates) == 0 {
		return nil, NewExitError(ExitCommandError, "nothing to update: use --set, --unset or --inc")
	}
	return updates, nil
}

func newDocHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <collection> <id>",
		Short: "Show a document's version history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				d, err := e.docs.GetByIDWithAssert(ctx, args[0], args[1])
				if err != nil {
					return engineError("history failed", err)
				}
				var sb strings.Builder
				for i, r := range d.UpdateHistory {
					who, when := r.UserIDOfCreator, r.DateOfCreation
					if r.DateOfLatestUpdate != nil {
						who, when = r.UserIDOfLatestUpdater, *r.DateOfLatestUpdate
					}
					fmt.Fprintf(&sb, "v%d  %s  %s  %s\n", i+1, when.Format(time.RFC3339), who, compactJSON(r.Fields))
				}
				return formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).
					Success(d.UpdateHistory, strings.TrimSuffix(sb.String(), "\n"))
			})
		},
	}
}

func newDocFindCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "find <collection> <field> <value>",
		Short: "Find documents through a declared index",
		Long: `Resolve a value through a declared index. A unique index yields at most
one document; a lookup index lists every match in creation order.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, field, value := args[0], args[1], args[2]
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				desc, ok := e.docs.Registry().Collection(collection)
				if !ok {
					return engineError("find failed", &errs.Error{
						Code:       errs.CodeValidationFailed,
						Message:    "unknown collection",
						Collection: collection,
					})
				}
				f, ok := desc.Index(field)
				if !ok {
					return engineError("find failed", errs.Validation("field %q of %s is not indexed", field, collection))
				}

				var docs []*document.Document
				if f.Kind == index.Unique {
					d, found, err := e.docs.GetByIndex(ctx, collection, field, value)
					if err != nil {
						return engineError("find failed", err)
					}
					if found {
						docs = append(docs, d)
					}
				} else {
					found, err := e.docs.ListByIndex(ctx, collection, field, value)
					if err != nil {
						return engineError("find failed", err)
					}
					docs = found
				}
				return outputDocs(rootOpts, cmd, docs)
			})
		},
	}
}

// DocListOptions holds flags for doc list.
type DocListOptions struct {
	*RootOptions
	PageOptions
	State string
}

func newDocListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DocListOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "List documents in creation order",
		Long: `List a collection's documents by creation date. --state restricts the
listing to documents whose workflow track is in a given state.

Examples:
  archivist doc list users --state approval=pending
  archivist doc list contacts --state archival=false --limit 20 --desc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				var (
					docs []*document.Document
					err  error
				)
				if opts.State == "" {
					docs, err = e.docs.List(ctx, args[0], opts.page())
				} else {
					track, value, perr := parseStateFilter(opts.State)
					if perr != nil {
						return perr
					}
					docs, err = e.docs.GetAllForState(ctx, args[0], track, value, opts.page())
				}
				if err != nil {
					return engineError("list failed", err)
				}
				return outputDocs(rootOpts, cmd, docs)
			})
		},
	}
	opts.PageOptions.bind(cmd)
	cmd.Flags().StringVar(&opts.State, "state", "", "track=value filter, e.g. approval=pending or archival=true")
	return cmd
}

func newDocPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <collection> <id>",
		Short: "Permanently remove a document and its index entries",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				auth, err := e.auth(ctx)
				if err != nil {
					return err
				}
				d, err := e.docs.GetByIDWithAssert(ctx, args[0], args[1])
				if err != nil {
					return engineError("purge failed", err)
				}
				b := e.store.NewBatch()
				err = e.docs.Purge(ctx, b, auth, d)
				if err == nil {
					err = e.commit(ctx, b)
				} else {
					b.Discard()
				}
				e.record(ctx, "document.purge", args[0]+"/"+args[1], err)
				if err != nil {
					return engineError("purge failed", err)
				}
				return formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).
					Success(map[string]string{"collection": args[0], "id": args[1]}, "Purged "+args[0]+"/"+args[1])
			})
		},
	}
}

// parseStateFilter parses track=value. Approval takes a state name; the
// other tracks take a boolean.
func parseStateFilter(s string) (document.Track, any, error) {
	name, raw, ok := strings.Cut(s, "=")
	if !ok {
		return "", nil, NewExitError(ExitCommandError, fmt.Sprintf("--state %q: want track=value", s))
	}
	track, ok := document.ParseTrack(name)
	if !ok {
		return "", nil, NewExitError(ExitCommandError, fmt.Sprintf("--state %q: unknown track %q", s, name))
	}
	if track == document.TrackApproval {
		return track, document.ApprovalState(raw), nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return "", nil, NewExitError(ExitCommandError, fmt.Sprintf("--state %q: %s takes true or false", s, name))
	}
	return track, b, nil
}

// parseObject decodes a JSON object flag value.
func parseObject(flag, raw string) (document.Fields, error) {
	var fields document.Fields
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("%s: invalid JSON object: %v", flag, err))
	}
	if fields == nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("%s: want a JSON object", flag))
	}
	return fields, nil
}

func outputDocs(opts *RootOptions, cmd *cobra.Command, docs []*document.Document) error {
	if docs == nil {
		docs = []*document.Document{}
	}
	lines := make([]string, len(docs))
	for i, d := range docs {
		lines[i] = describe(d)
	}
	text := strings.Join(lines, "\n")
	if len(docs) == 0 {
		text = "No documents found."
	}
	return formatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(docs, text)
}

// describe renders a one-line summary of d.
func describe(d *document.Document) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s/%s v%d created %s by %s", d.Collection, d.ID, d.Versions(),
		d.DateOfCreation.Format(time.RFC3339), d.UserIDOfCreator)
	if d.Approval != nil {
		fmt.Fprintf(&sb, " [%s]", d.Approval.State)
	}
	if d.Suspension != nil && d.Suspension.IsSuspended {
		sb.WriteString(" [suspended]")
	}
	if d.Archival != nil && d.Archival.IsArchived {
		sb.WriteString(" [archived]")
	}
	if d.Deletion != nil && d.Deletion.IsDeleted {
		sb.WriteString(" [deleted]")
	}
	sb.WriteString(" ")
	sb.WriteString(compactJSON(d.Fields))
	return sb.String()
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
