package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/adalundhe/coornet/core/config"
	"github.com/adalundhe/coornet/core/shares"
	"github.com/spf13/cobra"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// =============================================================================
// Detection Flags
// =============================================================================

// pipelineFlags holds the flags shared by estimate, detect and stats. Only
// flags set on the command line override the loaded config.
type pipelineFlags struct {
	interval         float64
	q                float64
	p                float64
	strategy         string
	markMode         string
	percentile       float64
	keepOriginalOnly bool
	canonicalize     bool
	timestamps       bool
	seed             uint64
	workers          int
}

func (f *pipelineFlags) registerEstimate(cmd *cobra.Command) {
	defaults := config.DefaultConfig()
	flags := cmd.Flags()
	flags.Float64Var(&f.q, "q", defaults.Interval.Q, "Quantile of fastest second shares considered")
	flags.Float64Var(&f.p, "p", defaults.Interval.P, "Fraction of a URL's shares that must be reached")
	flags.BoolVar(&f.keepOriginalOnly, "keep-original-only", false, "Restrict to shares of the original seed URLs")
	flags.BoolVar(&f.canonicalize, "canonicalize", false, "Strip tracking parameters and drop unusable URLs first")
}

func (f *pipelineFlags) registerDetect(cmd *cobra.Command) {
	f.registerEstimate(cmd)
	defaults := config.DefaultConfig()
	flags := cmd.Flags()
	flags.Float64Var(&f.interval, "interval", 0, "Coordination interval in seconds (0 estimates it from the data)")
	flags.StringVar(&f.strategy, "strategy", defaults.Detect.Strategy, "Clustering strategy: fixed_bin or gap_chain")
	flags.StringVar(&f.markMode, "mark-mode", defaults.Detect.MarkMode, "Share marking: value_set or tuple")
	flags.Float64Var(&f.percentile, "percentile", defaults.Graph.Percentile, "Edge weight percentile below which ties are pruned")
	flags.BoolVar(&f.timestamps, "timestamps", false, "Annotate ties with co-share timestamps")
	flags.Uint64Var(&f.seed, "seed", defaults.Graph.Seed, "Community detection seed")
	flags.IntVar(&f.workers, "workers", defaults.Detect.Workers, "Parallel URL workers during clustering")
}

// apply copies explicitly set flags onto cfg and revalidates it.
func (f *pipelineFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("interval") {
		cfg.Interval.Seconds = f.interval
	}
	if changed("q") {
		cfg.Interval.Q = f.q
	}
	if changed("p") {
		cfg.Interval.P = f.p
	}
	if changed("strategy") {
		cfg.Detect.Strategy = f.strategy
	}
	if changed("mark-mode") {
		cfg.Detect.MarkMode = f.markMode
	}
	if changed("percentile") {
		cfg.Graph.Percentile = f.percentile
	}
	if changed("keep-original-only") {
		cfg.Detect.KeepOriginalOnly = f.keepOriginalOnly
	}
	if changed("canonicalize") {
		cfg.URLs.Canonicalize = f.canonicalize
	}
	if changed("timestamps") {
		cfg.Graph.WithTimestamps = f.timestamps
	}
	if changed("seed") {
		cfg.Graph.Seed = f.seed
	}
	if changed("workers") {
		cfg.Detect.Workers = f.workers
	}
	return cfg.Validate()
}

// loadShares reads the input table named on the command line.
func loadShares(path string) (shares.Table, error) {
	table, err := shares.LoadFile(path, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to load shares: %w", err)
	}
	appLogger.Info("loaded shares", "path", path, "rows", len(table))
	return table, nil
}

// =============================================================================
// Output Helpers
// =============================================================================

type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, color: isTerminal(w)}
}

func (p *printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return code + s + colorReset
}

func (p *printer) heading(title string) {
	fmt.Fprintln(p.w, p.paint(colorBold+colorCyan, title))
}

func (p *printer) field(label string, format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.paint(colorGray, label+":"), fmt.Sprintf(format, args...))
}

func (p *printer) table() *tabwriter.Writer {
	return tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
}
