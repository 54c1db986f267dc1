package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/adalundhe/quill/core/watcher"
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Record changes continuously until interrupted",
		Long: `Watch the working copy and record every change to a text file as a delta.
Paths matching watch.exclude are ignored; the repository's .git directory is
always ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd, opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, ws)
		},
	}
}

func runWatch(ctx context.Context, ws *workspace) error {
	exclude := ws.cfg.Watch.Exclude
	if !slices.Contains(exclude, ".git") {
		exclude = append(slices.Clone(exclude), ".git")
	}

	fsw, err := watcher.NewFSWatcher(watcher.Config{
		Root:     ws.project.RootPath(),
		Exclude:  exclude,
		Debounce: ws.cfg.Watch.Debounce,
	})
	if err != nil {
		return err
	}
	defer fsw.Stop()

	rec, err := newRecorder(ws)
	if err != nil {
		return err
	}

	events, err := fsw.Start(ctx)
	if err != nil {
		return err
	}

	ws.logger.Info("watching for changes", slog.String("project", ws.project.RootPath()))
	err = rec.Run(ctx, events)
	if errors.Is(err, context.Canceled) {
		ws.logger.Info("watch stopped")
		return nil
	}
	return err
}
