package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/archivist/internal/authz"
	"github.com/roach88/archivist/internal/errs"
	"github.com/roach88/archivist/internal/export"
)

// TransferResult is the JSON payload of export and import.
type TransferResult struct {
	Documents   int      `json:"documents"`
	Collections []string `json:"collections,omitempty"`
	Encoding    string   `json:"encoding"`
	Path        string   `json:"path,omitempty"`
}

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Encoding string
	Out      string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "export [collection...]",
		Short: "Dump collections to JSON Lines or BSON",
		Long: `Write stored documents, in insertion order, to a portable dump. With no
collections every stored collection is exported, including index and
activity log collections, so an import reproduces the archive exactly.

When --out is "-" the dump goes to stdout and the summary to stderr.

Examples:
  archivist export --out archive.jsonl
  archivist export users contacts --encoding bson --out people.bson`,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc, err := export.ParseEncoding(opts.Encoding)
			if err != nil {
				return WrapExitError(ExitCommandError, ErrCodeUsage, "invalid --encoding", err)
			}
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				return runExport(ctx, e, cmd, opts, enc, args)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Encoding, "encoding", string(export.JSONL), "dump encoding (jsonl|bson)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "-", "output file, or - for stdout")
	return cmd
}

func runExport(ctx context.Context, e *env, cmd *cobra.Command, opts *ExportOptions, enc export.Encoding, collections []string) error {
	if len(collections) == 0 {
		all, err := e.store.Collections(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, ErrCodeDatabase, "failed to list collections", err)
		}
		collections = all
	}

	var (
		out    io.Writer = cmd.OutOrStdout()
		report           = cmd.OutOrStdout()
	)
	if opts.Out == "-" {
		report = cmd.ErrOrStderr()
	} else {
		f, err := os.Create(opts.Out)
		if err != nil {
			return WrapExitError(ExitCommandError, ErrCodeIO, "failed to create output", err)
		}
		defer f.Close()
		out = f
	}

	n, err := export.Dump(ctx, e.store, export.NewWriter(out, enc), collections)
	if err != nil {
		return WrapExitError(ExitFailure, ErrCodeIO, "export failed", err)
	}
	e.logger.Sugar().Debugw("export finished", "documents", n, "collections", len(collections))

	result := TransferResult{Documents: n, Collections: collections, Encoding: string(enc)}
	if opts.Out != "-" {
		result.Path = opts.Out
	}
	text := fmt.Sprintf("Exported %d documents from %d collections", n, len(collections))
	return formatter(e.opts, report, cmd.ErrOrStderr()).Success(result, text)
}

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Encoding string
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore a dump written by export",
		Long: `Restore every record of a dump in one atomic batch. Stored documents
with the same collection and id are replaced. Only approved owners and
administrators may import; "-" reads from stdin.

Examples:
  archivist --actor u-1 import archive.jsonl
  archivist --actor u-1 import people.bson --encoding bson`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc, err := export.ParseEncoding(opts.Encoding)
			if err != nil {
				return WrapExitError(ExitCommandError, ErrCodeUsage, "invalid --encoding", err)
			}
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				return runImport(ctx, e, cmd, enc, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&opts.Encoding, "encoding", string(export.JSONL), "dump encoding (jsonl|bson)")
	return cmd
}

func runImport(ctx context.Context, e *env, cmd *cobra.Command, enc export.Encoding, path string) error {
	auth, err := e.auth(ctx)
	if err != nil {
		return err
	}
	if err := authz.AssertApproved(auth); err != nil {
		return engineError("import refused", err)
	}
	if !slices.Contains(authz.Authorizers, auth.RoleType) {
		return engineError("import refused", errs.Unauthorized("role %q may not import", auth.RoleID))
	}

	in := cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return WrapExitError(ExitCommandError, ErrCodeIO, "failed to open dump", err)
		}
		defer f.Close()
		in = f
	}

	b := e.store.NewBatch()
	n, err := export.Restore(export.NewReader(in, enc), b)
	if err == nil {
		err = e.commit(ctx, b)
	} else {
		b.Discard()
	}
	e.record(ctx, "archive.import", path, err)
	if err != nil {
		return engineError("import failed", err)
	}

	result := TransferResult{Documents: n, Encoding: string(enc), Path: path}
	return formatter(e.opts, cmd.OutOrStdout(), cmd.ErrOrStderr()).
		Success(result, fmt.Sprintf("Imported %d documents", n))
}
