package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

// CollectionInfo describes one registered collection.
type CollectionInfo struct {
	Name      string            `json:"name"`
	Indexes   map[string]string `json:"indexes,omitempty"`
	Tracks    []string          `json:"tracks,omitempty"`
	Deletion  string            `json:"deletion,omitempty"`
	Documents int               `json:"documents"`
}

// NewCollectionsCommand creates the collections command.
func NewCollectionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List registered collections",
		Long: `List every collection declared by the registry with its indexes,
attached workflow tracks and current document count.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd.ErrOrStderr(), func(ctx context.Context, e *env) error {
				return runCollections(ctx, e, cmd)
			})
		},
	}
}

func runCollections(ctx context.Context, e *env, cmd *cobra.Command) error {
	reg := e.docs.Registry()
	infos := make([]CollectionInfo, 0, len(reg.Names()))
	for _, name := range reg.Names() {
		d, _ := reg.Collection(name)
		info := CollectionInfo{Name: name, Deletion: string(d.Deletion)}
		if len(d.Indexes) > 0 {
			info.Indexes = make(map[string]string, len(d.Indexes))
			for _, f := range d.Indexes {
				info.Indexes[f.Name] = string(f.Kind)
			}
		}
		for _, t := range d.Tracks {
			info.Tracks = append(info.Tracks, string(t))
		}
		n, err := e.docs.Count(ctx, name)
		if err != nil {
			return engineError("failed to count "+name, err)
		}
		info.Documents = n
		infos = append(infos, info)
	}

	var sb strings.Builder
	for _, info := range infos {
		fmt.Fprintf(&sb, "%-16s %4d docs", info.Name, info.Documents)
		if len(info.Tracks) > 0 {
			fmt.Fprintf(&sb, "  tracks=%s", strings.Join(info.Tracks, ","))
		}
		for _, f := range slices.Sorted(maps.Keys(info.Indexes)) {
			fmt.Fprintf(&sb, "  %s:%s", f, info.Indexes[f])
		}
		sb.WriteString("\n")
	}
	return formatter(e.opts, cmd.OutOrStdout(), cmd.ErrOrStderr()).
		Success(infos, strings.TrimSuffix(sb.String(), "\n"))
}
