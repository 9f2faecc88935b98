package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quarrysearch/quarry/internal/server"
	"github.com/quarrysearch/quarry/internal/watcher"
)

// newServeCmd creates the serve command: HTTP API plus background indexing.
func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with background folder watching",
		Long: `Serve the search API over HTTP and keep the index in sync: an initial
full sync, filesystem watching with debounced reindexing, and a periodic
reconciliation pass that catches anything the watcher missed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			if err := a.coordinator.SyncAll(ctx); err != nil && ctx.Err() == nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)

			srv := server.New(addr, a.engine, a.registry, a.metrics, a.logger)
			g.Go(func() error {
				return srv.ListenAndServe(gctx)
			})

			g.Go(func() error {
				return runWatcher(gctx, a)
			})

			g.Go(func() error {
				return runPeriodicSync(gctx, a)
			})

			err = g.Wait()
			if ctx.Err() != nil {
				return nil // clean shutdown on signal
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

// runWatcher feeds debounced filesystem events into the coordinator.
func runWatcher(ctx context.Context, a *app) error {
	folders, err := a.registry.ListFolders(ctx)
	if err != nil {
		return err
	}
	if len(folders) == 0 {
		<-ctx.Done()
		return nil
	}

	w, err := watcher.New(watcher.Options{DebounceWindow: a.cfg.Indexing.WatchDebounce.Std()})
	if err != nil {
		a.logger.Warn("filesystem watching unavailable, relying on periodic sync", "error", err)
		<-ctx.Done()
		return nil
	}
	defer func() { _ = w.Stop() }()

	for _, f := range folders {
		if err := w.AddFolder(f.Path); err != nil {
			a.logger.Warn("watch folder failed", "folder", f.Path, "error", err)
		}
	}

	go func() { _ = w.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			for _, ev := range batch {
				deleted := ev.Operation == watcher.OpDelete
				if err := a.coordinator.HandleFileChange(ctx, ev.Folder, ev.Path, deleted); err != nil {
					a.logger.Warn("handle file change failed",
						"path", ev.Path, "op", ev.Operation.String(), "error", err)
				}
			}
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			a.logger.Warn("watcher error", "error", err)
		}
	}
}

// runPeriodicSync reconciles the index on a timer.
func runPeriodicSync(ctx context.Context, a *app) error {
	interval := a.cfg.Indexing.RescanInterval.Std()
	if interval <= 0 {
		interval = 2 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.coordinator.SyncAll(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("periodic sync failed", "error", err)
			}
		}
	}
}
