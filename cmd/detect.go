package cmd

import (
	"fmt"
	"strings"

	"github.com/adalundhe/coornet/core/config"
	"github.com/adalundhe/coornet/core/detect"
	"github.com/adalundhe/coornet/core/export"
	"github.com/spf13/cobra"
)

var (
	detectFlags         pipelineFlags
	detectOut           string
	detectSQLite        string
	detectIncludeShares bool
	detectShowEvents    int
	detectSaveReport    bool
)

var detectCmd = &cobra.Command{
	Use:   "detect <shares>",
	Short: "Detect coordinated link sharing",
	Long: `Detect accounts that repeatedly shared the same URLs within the coordination
interval and build their weighted co-sharing network.

Without --interval the interval is estimated from the data first.

Examples:
  coornet detect shares.csv
  coornet detect shares.csv --interval 60 --strategy gap_chain
  coornet detect shares.csv --out result.json --sqlite runs.db`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	detectFlags.registerDetect(detectCmd)
	flags := detectCmd.Flags()
	flags.StringVarP(&detectOut, "out", "o", "", "Write the JSON report to this file")
	flags.StringVar(&detectSQLite, "sqlite", "", "Save the run to this SQLite database (default from config)")
	flags.BoolVar(&detectIncludeShares, "include-shares", false, "Include the annotated share table in the report")
	flags.IntVar(&detectShowEvents, "events", 10, "Number of events to print (0 for none)")
	flags.BoolVar(&detectSaveReport, "save-report", false, "Keep the JSON report in the data directory under the run id")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	res, cfg, err := runPipeline(cmd, &detectFlags, args[0])
	if err != nil {
		return err
	}

	p := newPrinter(cmd.OutOrStdout())
	printResult(p, res, detectShowEvents)

	if detectOut != "" || detectSaveReport {
		report := export.NewReport(res, args[0])
		if detectIncludeShares {
			report.Shares = res.Shares
		}
		for _, path := range reportPaths(detectOut, detectSaveReport, res.RunID) {
			if err := report.WriteFile(path); err != nil {
				return err
			}
			p.field("report", "%s", path)
		}
	}

	sqlitePath := cfg.Export.SQLite
	if cmd.Flags().Changed("sqlite") {
		sqlitePath = detectSQLite
	}
	if sqlitePath != "" {
		if err := saveRun(sqlitePath, res, args[0]); err != nil {
			return err
		}
		p.field("saved", "%s (run %s)", sqlitePath, res.RunID)
	}
	return nil
}

// runPipeline resolves options from config and flags, loads the share
// table and runs detection.
func runPipeline(cmd *cobra.Command, flags *pipelineFlags, path string) (*detect.Result, *config.Config, error) {
	cfg := *appConfig
	if err := flags.apply(cmd, &cfg); err != nil {
		return nil, nil, err
	}
	opts, err := cfg.DetectOptions(appLogger)
	if err != nil {
		return nil, nil, err
	}

	table, err := loadShares(path)
	if err != nil {
		return nil, nil, err
	}
	res, err := detect.Run(table, opts)
	if err != nil {
		return nil, nil, err
	}
	return res, &cfg, nil
}

// reportPaths lists where a report goes: the --out file and, when saving,
// the per-run file in the data directory.
func reportPaths(out string, save bool, runID string) []string {
	var paths []string
	if out != "" {
		paths = append(paths, out)
	}
	if save {
		paths = append(paths, appDirs.RunReport(runID))
	}
	return paths
}

func saveRun(path string, res *detect.Result, source string) error {
	store, err := export.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SaveRun(res, source)
}

func printResult(p *printer, res *detect.Result, maxEvents int) {
	p.heading("Coordinated link sharing")
	p.field("run", "%s", res.RunID)
	interval := fmt.Sprintf("%g seconds", res.Interval)
	if res.Estimated {
		interval += " (estimated)"
	}
	p.field("interval", "%s", interval)
	p.field("strategy", "%s", res.Strategy)

	if !res.Found() {
		p.field("result", "%s", p.paint(colorYellow, "no coordinated shares found"))
		return
	}

	p.field("events", "%d", len(res.Events))
	p.field("coordinated shares", "%d of %d", res.CoordinatedShares(), len(res.Shares))
	p.field("accounts", "%d", res.Graph.NodeCount())
	p.field("ties", "%d (threshold %g)", res.Graph.EdgeCount(), res.Threshold)
	p.field("components", "%d", len(res.Graph.Components()))

	if maxEvents <= 0 {
		return
	}
	fmt.Fprintln(p.w)
	tw := p.table()
	fmt.Fprintln(tw, "URL\tWINDOW\tSHARES\tACCOUNTS")
	for i, e := range res.Events {
		if i == maxEvents {
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.URL, e.Key, e.Count, strings.Join(e.Accounts, ","))
	}
	tw.Flush()
	if len(res.Events) > maxEvents {
		fmt.Fprintln(p.w, p.paint(colorGray, fmt.Sprintf("... %d more events", len(res.Events)-maxEvents)))
	}
}
