package cmd

import (
	"fmt"

	"github.com/adalundhe/coornet/core/coord"
	"github.com/adalundhe/coornet/core/export"
	"github.com/spf13/cobra"
)

var (
	estimateFlags pipelineFlags
	estimateJSON  bool
)

var estimateCmd = &cobra.Command{
	Use:   "estimate <shares>",
	Short: "Estimate the coordination interval",
	Long: `Estimate the coordination interval from the share table.

The estimate looks at the q-quantile of URLs with the fastest second share and
reports the p-quantile of the time each needed to reach more than p of its shares.`,
	Args: cobra.ExactArgs(1),
	RunE: runEstimate,
}

func init() {
	estimateFlags.registerEstimate(estimateCmd)
	estimateCmd.Flags().BoolVar(&estimateJSON, "json", false, "Print the summary as JSON")
	rootCmd.AddCommand(estimateCmd)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	cfg := *appConfig
	if err := estimateFlags.apply(cmd, &cfg); err != nil {
		return err
	}

	table, err := loadShares(args[0])
	if err != nil {
		return err
	}

	opts := coord.EstimateOptions{
		Q:                cfg.Interval.Q,
		P:                cfg.Interval.P,
		KeepOriginalOnly: cfg.Detect.KeepOriginalOnly,
		Logger:           appLogger,
	}
	if cfg.URLs.Canonicalize {
		canon, err := cfg.Canonicalizer()
		if err != nil {
			return err
		}
		opts.Canonicalizer = canon
	}

	summary, interval, err := coord.EstimateInterval(table, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if estimateJSON {
		return writeJSON(out, struct {
			IntervalSeconds float64                 `json:"interval_seconds"`
			Summary         *export.IntervalSummary `json:"summary"`
		}{interval, export.NewIntervalSummary(summary)})
	}

	p := newPrinter(out)
	p.heading("Coordination interval")
	p.field("interval", "%s seconds", p.paint(colorGreen, fmt.Sprintf("%g", interval)))
	p.field("urls", "%d", summary.Count)

	tw := p.table()
	fmt.Fprintln(tw, "mean\tstd\tmin\tq25\tmedian\tq75\tmax")
	fmt.Fprintf(tw, "%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
		summary.Mean, summary.StdDev, summary.Min, summary.Q25, summary.Median, summary.Q75, summary.Max)
	return tw.Flush()
}
