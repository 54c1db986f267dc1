package cmd

import (
	"fmt"

	"github.com/adalundhe/quill/core/watcher"
	"github.com/spf13/cobra"
)

func newRecordCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "record <file>...",
		Short: "Record the current content of files",
		Long: `Diff each file against its last recorded state and append the difference
to its delta log, opening a session if none is active.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd, opts)
			if err != nil {
				return err
			}
			rec, err := newRecorder(ws)
			if err != nil {
				return err
			}

			for _, arg := range args {
				file, err := ws.relativeFile(arg)
				if err != nil {
					return err
				}
				recorded, err := rec.Record(file)
				if err != nil {
					return fmt.Errorf("failed to record %s: %w", file, err)
				}
				if recorded {
					fmt.Fprintf(ws.out, "recorded %s\n", file)
				} else {
					fmt.Fprintf(ws.out, "unchanged %s\n", file)
				}
			}
			return nil
		},
	}
}

func newRecorder(ws *workspace) (*watcher.Recorder, error) {
	return watcher.NewRecorder(ws.repo, ws.project,
		watcher.WithRecorderLogger(ws.logger),
		watcher.WithStore(ws.store),
		watcher.WithCacheSize(ws.cfg.Watch.CacheSize),
	)
}
