package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReadCmd(opts *globalOptions) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "read <file>",
		Short: "Show the recorded deltas of a file",
		Long: `Show the delta log recorded for a file in the current session, or in the
session given with --session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd, opts)
			if err != nil {
				return err
			}
			file, err := ws.relativeFile(args[0])
			if err != nil {
				return err
			}

			log, ok, err := ws.readLog(sessionID, file)
			if err != nil {
				return fmt.Errorf("failed to read deltas for %s: %w", file, err)
			}
			if !ok {
				if ws.format == OutputJSON {
					fmt.Fprintln(ws.out, "[]")
				} else {
					fmt.Fprintf(ws.out, "No deltas recorded for %s.\n", file)
				}
				return nil
			}
			return printLog(ws.out, log, ws.format)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Read from this session instead of the current one")
	return cmd
}
