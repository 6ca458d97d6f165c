package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adalundhe/coornet/core/watch"
	"github.com/spf13/cobra"
)

var (
	watchFlags    pipelineFlags
	watchDebounce time.Duration
	watchSQLite   string
)

var watchCmd = &cobra.Command{
	Use:   "watch <shares>",
	Short: "Rerun detection whenever the share export changes",
	Long: `Run detection once, then again every time the share export is rewritten.
Stop with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchFlags.registerDetect(watchCmd)
	flags := watchCmd.Flags()
	flags.DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet period before rerunning after a change")
	flags.StringVar(&watchSQLite, "sqlite", "", "Save every run to this SQLite database (default from config)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	w, err := watch.New(args[0], watchDebounce)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", args[0], err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watchLoop(ctx, cmd, w, args[0])
}

// watchLoop runs detection now and on every change until ctx ends. A failed
// run is logged and the loop keeps waiting for the next change.
func watchLoop(ctx context.Context, cmd *cobra.Command, w *watch.FileWatcher, path string) error {
	changes, err := w.Start(ctx)
	if err != nil {
		return err
	}

	p := newPrinter(cmd.OutOrStdout())
	rerun := func() {
		res, cfg, err := runPipeline(cmd, &watchFlags, path)
		if err != nil {
			appLogger.Error("detection failed", "path", path, "error", err)
			p.field("result", "%s", p.paint(colorRed, "detection failed: "+err.Error()))
			fmt.Fprintln(p.w, p.paint(colorGray, "watching "+w.Path()))
			return
		}
		printResult(p, res, 0)

		sqlitePath := cfg.Export.SQLite
		if cmd.Flags().Changed("sqlite") {
			sqlitePath = watchSQLite
		}
		if sqlitePath != "" {
			if err := saveRun(sqlitePath, res, path); err != nil {
				appLogger.Error("failed to save run", "db", sqlitePath, "error", err)
			}
		}
		fmt.Fprintln(p.w, p.paint(colorGray, "watching "+w.Path()))
	}

	rerun()
	for change := range changes {
		appLogger.Info("share export changed", "path", change.Path)
		rerun()
	}
	return nil
}
