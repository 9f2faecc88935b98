package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/store"
)

// newStatsCmd creates the stats command.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			chunks, err := a.registry.CountChunks(ctx)
			if err != nil {
				return err
			}
			indexed, err := a.registry.CountDocuments(ctx, store.StatusIndexed)
			if err != nil {
				return err
			}
			failed, err := a.registry.CountDocuments(ctx, store.StatusFailed)
			if err != nil {
				return err
			}
			folders, err := a.registry.ListFolders(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Folders:    %d\n", len(folders))
			_, _ = fmt.Fprintf(out, "Documents:  %d indexed", indexed)
			if failed > 0 {
				_, _ = fmt.Fprintf(out, ", %d failed", failed)
			}
			_, _ = fmt.Fprintln(out)
			_, _ = fmt.Fprintf(out, "Chunks:     %d\n", chunks)
			_, _ = fmt.Fprintf(out, "Vectors:    %d\n", a.vectors.Count())
			_, _ = fmt.Fprintf(out, "Embedder:   %s (%d dims)\n", a.embedder.ModelName(), a.embedder.Dimensions())
			return nil
		},
	}
}
