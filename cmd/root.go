// Package cmd provides the quill command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adalundhe/quill/core/config"
	"github.com/adalundhe/quill/core/deltas"
	"github.com/adalundhe/quill/core/git"
	"github.com/adalundhe/quill/core/project"
	"github.com/adalundhe/quill/core/sessions"
	"github.com/adalundhe/quill/core/storage"
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	repoDir    string
	configFile string
	logLevel   string
	format     string
}

// workspace is everything a command needs to act on one repository.
type workspace struct {
	cfg       *config.Config
	logger    *slog.Logger
	repo      *git.Client
	project   *project.Project
	lifecycle *sessions.Lifecycle
	store     *deltas.Store
	format    OutputFormat
	out       io.Writer
}

// NewRootCmd builds the quill command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "quill",
		Short: "Quill - keystroke-level edit history for git working copies",
		Long: `Quill records every change to the files in a git working copy as a log of
insert and delete operations, grouped into sessions anchored to the commit
they started from. Any recorded state of a file can be reconstructed.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.repoDir, "repo", ".", "Repository directory path")
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Additional configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&opts.format, "format", "f", "auto", "Output format (auto, table, json, plain)")

	root.AddCommand(
		newReadCmd(opts),
		newReplayCmd(opts),
		newRecordCmd(opts),
		newSessionCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func Execute() error {
	return NewRootCmd().Execute()
}

// openWorkspace resolves the repository, loads configuration for it and
// wires the session lifecycle and delta store from that configuration.
func openWorkspace(cmd *cobra.Command, opts *globalOptions) (*workspace, error) {
	repo, err := git.Open(opts.repoDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	manager := config.NewManager(storage.ResolveDirs(), repo.RepoPath())
	if opts.configFile != "" {
		manager.WithFile(opts.configFile)
	}
	if err := manager.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := manager.Get()

	logCfg := cfg.Log
	if opts.logLevel != "" {
		if _, err := config.ParseLevel(opts.logLevel); err != nil {
			return nil, err
		}
		logCfg.Level = opts.logLevel
	}
	logger := logCfg.NewLogger(cmd.ErrOrStderr())

	p, err := project.FromPath(repo.RepoPath(), project.WithStorageDir(cfg.Storage.DirName))
	if err != nil {
		return nil, err
	}

	mode, err := cfg.Storage.Mode()
	if err != nil {
		return nil, err
	}

	lc := sessions.New(
		sessions.WithLogger(logger),
		sessions.WithLockTimeout(cfg.Session.LockTimeout),
		sessions.WithLockRetry(cfg.Session.LockRetry),
		sessions.WithFileMode(mode),
	)
	store := deltas.NewStore(
		deltas.WithLogger(logger),
		deltas.WithFileMode(mode),
		deltas.WithLifecycle(lc),
	)

	out := cmd.OutOrStdout()
	return &workspace{
		cfg:       cfg,
		logger:    logger,
		repo:      repo,
		project:   p,
		lifecycle: lc,
		store:     store,
		format:    resolveFormat(opts.format, out),
		out:       out,
	}, nil
}

// sessionFor returns the session a read should use: the session named by
// id, or the current one when id is empty.
func (w *workspace) sessionFor(id string) (sessions.Session, bool, error) {
	current, ok, err := w.lifecycle.Current(w.project)
	if err != nil || id == "" || (ok && current.ID == id) {
		return current, ok, err
	}

	s, err := w.lifecycle.Archived(w.project, id)
	if err != nil {
		return sessions.Session{}, false, err
	}
	return s, true, nil
}

// readLog loads the log of file in the given session.
func (w *workspace) readLog(sessionID, file string) ([]deltas.Delta, bool, error) {
	if sessionID == "" {
		return w.store.Read(w.project, file)
	}
	return w.store.ReadSession(w.project, sessionID, file)
}

// relativeFile maps a command line file argument to a project-relative
// path. Relative arguments are taken from the current directory, and the
// result must lie inside the working copy.
func (w *workspace) relativeFile(arg string) (string, error) {
	abs := arg
	if !filepath.IsAbs(arg) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
		abs = filepath.Join(cwd, arg)
	}
	return w.project.RelPath(abs)
}
