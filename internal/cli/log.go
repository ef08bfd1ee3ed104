package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/archivist/internal/activitylog"
)

// NewLogCommand creates the log command group.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record and browse the activity log",
	}
	cmd.AddCommand(newLogRecordCommand(rootOpts))
	cmd.AddCommand(newLogListCommand(rootOpts))
	return cmd
}

// LogRecordOptions holds flags for log record.
type LogRecordOptions struct {
	*RootOptions
	ActivityType string
	Resource     string
	State        string
	Root         string
	External     string
	Actors       []string
}

func newLogRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogRecordOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an activity item",
		Long: `Record one activity item. --root attaches it to an existing causal chain;
--external correlates it with an item recorded elsewhere.

Examples:
  archivist --actor u-1 log record --type http.request --resource https://archive.example/
  archivist --actor u-1 log record --type db.write --root 0190... --state failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.State {
			case activitylog.StateStarted, activitylog.StateSucceeded, activitylog.StateFailed:
			default:
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --state %q: must be started, succeeded or failed", opts.State))
			}
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				if opts.Root != "" {
					ctx = activitylog.WithRoot(ctx, opts.Root)
				}
				if opts.External != "" {
					ctx = activitylog.WithExternal(ctx, opts.External)
				}
				actors := opts.Actors
				if len(actors) == 0 && rootOpts.Actor != "" {
					actors = []string{rootOpts.Actor}
				}
				item := e.activity.Record(ctx, activitylog.Item{
					ActivityType:   opts.ActivityType,
					ExecutionState: opts.State,
					Requestor:      rootOpts.Actor,
					Resource:       opts.Resource,
					ActorIDs:       actors,
				})
				return formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).
					Success(item, "Recorded "+item.ID)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ActivityType, "type", "", "activity type (required)")
	cmd.Flags().StringVar(&opts.Resource, "resource", "", "resource the activity touched")
	cmd.Flags().StringVar(&opts.State, "state", activitylog.StateSucceeded, "execution state (started|succeeded|failed)")
	cmd.Flags().StringVar(&opts.Root, "root", "", "root item id of the causal chain")
	cmd.Flags().StringVar(&opts.External, "external", "", "correlated external item id")
	cmd.Flags().StringSliceVar(&opts.Actors, "actors", nil, "actor ids (defaults to --actor)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// LogListOptions holds flags for log list.
type LogListOptions struct {
	*RootOptions
	PageOptions
	GroupByRoot     bool
	GroupByExternal bool
	ActivityType    string
	Requestor       string
}

func newLogListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogListOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activity items",
		Long: `List activity items by creation date. Paging counts items; grouping is
applied to the items of the selected page only.

Examples:
  archivist log list --group-root --limit 50
  archivist log list --type http.request --requestor u-1 --desc`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				page, err := e.activity.ListPage(ctx, activitylog.ListOptions{
					GroupByRootID:     opts.GroupByRoot,
					GroupByExternalID: opts.GroupByExternal,
					Limit:             opts.Limit,
					Offset:            opts.Offset,
					Descending:        opts.Descending,
					ActivityType:      opts.ActivityType,
					Requestor:         opts.Requestor,
				})
				if err != nil {
					return engineError("log list failed", err)
				}

				text := "No activity found."
				if len(page.Entries) > 0 {
					var sb strings.Builder
					if err := activitylog.Render(&sb, page.Entries); err != nil {
						return WrapExitError(ExitFailure, ErrCodeIO, "failed to render log", err)
					}
					fmt.Fprintf(&sb, "(%d of %d items)", countEntries(page.Entries), page.Total)
					text = sb.String()
				}
				return formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(page, text)
			})
		},
	}
	opts.PageOptions.bind(cmd)
	cmd.Flags().BoolVar(&opts.GroupByRoot, "group-root", false, "group items under their root item")
	cmd.Flags().BoolVar(&opts.GroupByExternal, "group-external", false, "group items under their external item")
	cmd.Flags().StringVar(&opts.ActivityType, "type", "", "only this activity type")
	cmd.Flags().StringVar(&opts.Requestor, "requestor", "", "only items requested by this user")
	return cmd
}

func countEntries(entries []*activitylog.Entry) int {
	n := 0
	for _, e := range entries {
		n += 1 + countEntries(e.SubItems)
	}
	return n
}
