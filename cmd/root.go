// Package cmd provides CLI commands for the coornet application.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/adalundhe/coornet/core/config"
	coreerrors "github.com/adalundhe/coornet/core/errors"
	"github.com/adalundhe/coornet/core/storage"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// =============================================================================
// Global Flags
// =============================================================================

var (
	rootConfigPath  string
	rootProjectRoot string
	rootLogLevel    string
	rootLogFormat   string
)

// Populated by the root PersistentPreRunE before any subcommand runs.
var (
	appDirs   *storage.Dirs
	appConfig *config.Config
	appLogger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "coornet",
	Short: "coornet - Coordinated link sharing detection",
	Long: `coornet detects coordinated link sharing behaviour: accounts that repeatedly
share the same URLs within an unusually short interval of each other.

Shares are read from a CSV or JSON export with at least the id, date,
expanded_url and account_id columns.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupRoot,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootConfigPath, "config", "", "Config file applied after the user and project config")
	flags.StringVar(&rootProjectRoot, "project", ".", "Directory holding the .coornet project config")
	flags.StringVar(&rootLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&rootLogFormat, "log-format", "", "Log format: text or json")
}

func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps an Execute error onto the process exit status. Engine
// errors get a status per kind so scripts can tell bad input from bad flags.
func ExitCode(err error) int {
	switch coreerrors.KindOf(err) {
	case coreerrors.KindInvalidParameter:
		return 2
	case coreerrors.KindSchema:
		return 3
	case coreerrors.KindInsufficientData:
		return 4
	}
	return 1
}

// setupRoot loads configuration and installs the logger.
func setupRoot(cmd *cobra.Command, args []string) error {
	dirs, err := storage.ResolveDirs()
	if err != nil {
		return fmt.Errorf("failed to resolve directories: %w", err)
	}
	if err := dirs.EnsureAll(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	m := config.NewManager(dirs, rootProjectRoot)
	if rootConfigPath != "" {
		m.SetFile(rootConfigPath)
	}
	if err := m.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := m.Get()

	if rootLogLevel != "" {
		cfg.Log.Level = rootLogLevel
	}
	if rootLogFormat != "" {
		cfg.Log.Format = rootLogFormat
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	appDirs = dirs
	appConfig = cfg
	appLogger = logger
	return nil
}

func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", cfg.Format)
	}
}

// isTerminal returns true if the given writer is a terminal.
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}
