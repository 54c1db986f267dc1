package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/adalundhe/quill/core/deltas"
	"github.com/adalundhe/quill/core/sessions"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// OutputFormat selects how command results are printed.
type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputPlain OutputFormat = "plain"
)

// parseFormat maps a flag value to a format. Unknown values and "auto" pick
// table for terminals and plain otherwise.
func parseFormat(s string, terminal bool) OutputFormat {
	switch strings.ToLower(s) {
	case "json":
		return OutputJSON
	case "plain":
		return OutputPlain
	case "table":
		return OutputTable
	}
	if terminal {
		return OutputTable
	}
	return OutputPlain
}

func resolveFormat(s string, out io.Writer) OutputFormat {
	return parseFormat(s, isTerminal(out))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatTimestamp(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05.000")
}

// formatOperations renders ops on one line. colored marks inserts green and
// deletes red; color is dropped automatically when stdout is not a terminal.
func formatOperations(ops []deltas.Operation, colored bool) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = fmt.Sprint(op)
		if !colored {
			continue
		}
		switch op.(type) {
		case deltas.Insert:
			parts[i] = color.GreenString("%s", parts[i])
		case deltas.Delete:
			parts[i] = color.RedString("%s", parts[i])
		}
	}
	return strings.Join(parts, " ")
}

// printLog writes a delta log. JSON output is the on-disk log format.
func printLog(w io.Writer, log []deltas.Delta, format OutputFormat) error {
	switch format {
	case OutputJSON:
		data, err := deltas.EncodeLog(log)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case OutputPlain:
		for i, d := range log {
			fmt.Fprintf(w, "%d\t%d\t%s\n", i, d.TimestampMs, formatOperations(d.Operations, false))
		}
		return nil
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tTIME\tOPERATIONS")
		fmt.Fprintln(tw, "-\t----\t----------")
		for i, d := range log {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", i, formatTimestamp(d.TimestampMs), formatOperations(d.Operations, true))
		}
		return tw.Flush()
	}
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	if commit == "" {
		return "(none)"
	}
	return commit
}

// printSessions writes sessions, marking the one whose id is current.
func printSessions(w io.Writer, list []sessions.Session, current string, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if list == nil {
			list = []sessions.Session{}
		}
		return writeJSON(w, list)
	case OutputPlain:
		for _, s := range list {
			marker := ""
			if s.ID == current {
				marker = "\tcurrent"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s%s\n", s.ID, s.StartTimestampMs, s.Anchor.Branch, s.Anchor.Commit, marker)
		}
		return nil
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tBRANCH\tCOMMIT\t")
		fmt.Fprintln(tw, "--\t-------\t------\t------\t")
		for _, s := range list {
			marker := ""
			if s.ID == current {
				marker = color.GreenString("current")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, formatTimestamp(s.StartTimestampMs), s.Anchor.Branch, shortCommit(s.Anchor.Commit), marker)
		}
		return tw.Flush()
	}
}
