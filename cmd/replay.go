package cmd

import (
	"errors"
	"fmt"

	"github.com/adalundhe/quill/core/deltas"
	"github.com/adalundhe/quill/core/git"
	"github.com/spf13/cobra"
)

type replayOptions struct {
	sessionID string
	upto      int
	at        int64
}

func newReplayCmd(opts *globalOptions) *cobra.Command {
	ro := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Reconstruct a recorded state of a file",
		Long: `Reconstruct a file by replaying its delta log over its content at the
session's anchor commit. By default every delta is applied; --upto applies
only the first N deltas and --at applies those recorded at or before a
millisecond timestamp.`,
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

			text, err := replayFile(ws, file, ro, cmd.Flags().Changed("upto"), cmd.Flags().Changed("at"))
			if err != nil {
				return err
			}

			if ws.format == OutputJSON {
				return writeJSON(ws.out, map[string]string{"file": file, "content": text})
			}
			_, err = fmt.Fprint(ws.out, text)
			return err
		},
	}

	cmd.Flags().StringVar(&ro.sessionID, "session", "", "Replay from this session instead of the current one")
	cmd.Flags().IntVar(&ro.upto, "upto", 0, "Apply only the first N deltas")
	cmd.Flags().Int64Var(&ro.at, "at", 0, "Apply deltas recorded at or before this Unix millisecond timestamp")
	cmd.MarkFlagsMutuallyExclusive("upto", "at")
	return cmd
}

func replayFile(ws *workspace, file string, ro *replayOptions, upto, at bool) (string, error) {
	session, ok, err := ws.sessionFor(ro.sessionID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no active session to replay %s from", file)
	}

	base, err := ws.repo.FileAt(session.Anchor.Commit, file)
	if err != nil && !errors.Is(err, git.ErrFileNotInCommit) {
		return "", err
	}

	log, _, err := ws.store.ReadSession(ws.project, session.ID, file)
	if err != nil {
		return "", fmt.Errorf("failed to read deltas for %s: %w", file, err)
	}

	switch {
	case upto:
		return deltas.ReplayPrefix(base, log, ro.upto)
	case at:
		return deltas.ReplayUntil(base, log, ro.at)
	default:
		return deltas.Replay(base, log)
	}
}
