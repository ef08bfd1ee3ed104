package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/archivist/internal/accounts"
	"github.com/roach88/archivist/internal/registry"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Owner         string
	AccountName   string
	Email         string
	DisplayName   string
	WriteRegistry string
}

// InitResult is the JSON payload of a successful init.
type InitResult struct {
	OwnerID      string `json:"owner_id"`
	RoleID       string `json:"role_id"`
	RegistryPath string `json:"registry_path,omitempty"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the archive and its owner account",
		Long: `Create the database, the approved owner account and the installation
record. Fails once an archive has been initialized.

With --write-registry the embedded collection registry is also written to
the given path so it can be edited and referenced from archivist.yaml.

Examples:
  archivist init --owner u-1 --account-name alice
  archivist init --owner u-1 --account-name alice --write-registry ./registry.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "id of the owner account (required)")
	cmd.Flags().StringVar(&opts.AccountName, "account-name", "", "owner account name (required)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "owner email")
	cmd.Flags().StringVar(&opts.DisplayName, "display-name", "", "owner display name")
	cmd.Flags().StringVar(&opts.WriteRegistry, "write-registry", "", "write the default registry to this path")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("account-name")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	if opts.WriteRegistry != "" {
		if err := writeNewFile(opts.WriteRegistry, registry.DefaultSource()); err != nil {
			return WrapExitError(ExitCommandError, ErrCodeIO, "failed to write registry", err)
		}
	}

	return withEnv(opts.RootOptions, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
		b := e.store.NewBatch()
		owner, err := e.accounts.Bootstrap(ctx, b, opts.Owner, accounts.User{
			AccountName: opts.AccountName,
			Email:       opts.Email,
			DisplayName: opts.DisplayName,
		})
		if err != nil {
			b.Discard()
			return engineError("init failed", err)
		}
		if err := e.commit(ctx, b); err != nil {
			return err
		}
		e.record(ctx, "archive.init", "users/"+opts.Owner, nil)

		result := InitResult{
			OwnerID:      owner.Doc.ID,
			RoleID:       owner.Value.RoleID,
			RegistryPath: opts.WriteRegistry,
		}
		text := fmt.Sprintf("Initialized archive at %s (owner %s, role %s)", e.cfg.Database.Path, result.OwnerID, result.RoleID)
		return formatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(result, text)
	})
}

// writeNewFile writes data to path, refusing to overwrite.
func writeNewFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists", path)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
