package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

// newFoldersCmd creates the folders command group.
func newFoldersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "Manage registered folders",
	}
	cmd.AddCommand(newFoldersListCmd())
	cmd.AddCommand(newFoldersRemoveCmd())
	return cmd
}

func newFoldersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered folders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			folders, err := a.registry.ListFolders(ctx)
			if err != nil {
				return err
			}
			if len(folders) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No folders registered. Run 'quarry index <folder>' to add one.")
				return nil
			}
			for _, f := range folders {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), f.Path)
			}
			return nil
		},
	}
}

func newFoldersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <folder>",
		Short: "Unregister a folder and purge its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.registry.RemoveFolder(ctx, abs); err != nil {
				return err
			}
			// The next sync purges documents under the removed folder.
			if err := a.coordinator.SyncAll(ctx); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", abs)
			return nil
		},
	}
}
