package cmd

import (
	"fmt"

	"github.com/adalundhe/quill/core/sessions"
	"github.com/spf13/cobra"
)

func newSessionCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage editing sessions",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "current",
			Short: "Show the active session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ws, err := openWorkspace(cmd, opts)
				if err != nil {
					return err
				}
				s, ok, err := ws.lifecycle.Current(ws.project)
				if err != nil {
					return err
				}
				if !ok {
					return printNoSession(ws)
				}
				return printSessions(ws.out, []sessions.Session{s}, s.ID, ws.format)
			},
		},
		&cobra.Command{
			Use:   "head",
			Short: "Show the session that would start from HEAD now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ws, err := openWorkspace(cmd, opts)
				if err != nil {
					return err
				}
				s, err := ws.lifecycle.FromHead(ws.repo, ws.project)
				if err != nil {
					return err
				}
				return printSessions(ws.out, []sessions.Session{s}, "", ws.format)
			},
		},
		&cobra.Command{
			Use:   "close",
			Short: "Archive the active session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ws, err := openWorkspace(cmd, opts)
				if err != nil {
					return err
				}
				s, err := ws.lifecycle.Close(ws.project)
				if err != nil {
					return err
				}
				if ws.format == OutputJSON {
					return writeJSON(ws.out, s)
				}
				fmt.Fprintf(ws.out, "closed session %s\n", s.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List archived sessions and the active one",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ws, err := openWorkspace(cmd, opts)
				if err != nil {
					return err
				}
				list, err := ws.lifecycle.List(ws.project)
				if err != nil {
					return err
				}
				current, _, err := ws.lifecycle.Current(ws.project)
				if err != nil {
					return err
				}
				return printSessions(ws.out, list, current.ID, ws.format)
			},
		},
	)
	return cmd
}

func printNoSession(ws *workspace) error {
	if ws.format == OutputJSON {
		_, err := fmt.Fprintln(ws.out, "null")
		return err
	}
	_, err := fmt.Fprintln(ws.out, "No active session.")
	return err
}
