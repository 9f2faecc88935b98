package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/ui"
)

// newIndexCmd creates the index command: register folders and run a sync.
func newIndexCmd() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "index [folder...]",
		Short: "Index folders of documents",
		Long: `Register folders and synchronize the index with their contents.

With no arguments, re-syncs all previously registered folders. New and
changed documents are (re)indexed; deleted ones are purged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, arg := range args {
				abs, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve folder %s: %w", arg, err)
				}
				info, err := os.Stat(abs)
				if err != nil || !info.IsDir() {
					return fmt.Errorf("not a directory: %s", abs)
				}
				if err := a.registry.AddFolder(ctx, abs); err != nil {
					return err
				}
			}

			renderer := ui.NewRenderer(ui.Config{Output: cmd.ErrOrStderr(), ForcePlain: plain})
			if err := renderer.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = renderer.Stop() }()

			start := time.Now()
			renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: "scanning folders"})

			done := make(chan error, 1)
			go func() { done <- a.coordinator.SyncAll(ctx) }()

			// Poll coordinator progress for the renderer until the sync ends.
			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()
			var syncErr error
		loop:
			for {
				select {
				case syncErr = <-done:
					break loop
				case <-ticker.C:
					snap := a.coordinator.Progress().Snapshot()
					renderer.UpdateProgress(ui.ProgressEvent{
						Stage:   ui.StageIndexing,
						Current: snap.Done(),
						Total:   snap.Scanned,
					})
				}
			}
			if syncErr != nil {
				return syncErr
			}

			snap := a.coordinator.Progress().Snapshot()
			chunks, err := a.registry.CountChunks(ctx)
			if err != nil {
				return err
			}
			renderer.Complete(ui.CompletionStats{
				Documents: snap.Indexed,
				Chunks:    chunks,
				Skipped:   snap.Skipped,
				Removed:   snap.Removed,
				Failed:    snap.Failed,
				Duration:  time.Since(start),
			})
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Force plain text output")
	return cmd
}
