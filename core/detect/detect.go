// Package detect runs the full coordinated link sharing pipeline: interval
// estimation, temporal clustering, share marking and graph construction.
package detect

import (
	"log/slog"
	"math"
	"time"

	"github.com/adalundhe/coornet/core/coord"
	"github.com/adalundhe/coornet/core/coordgraph"
	coreerrors "github.com/adalundhe/coornet/core/errors"
	"github.com/adalundhe/coornet/core/shares"
	"github.com/google/uuid"
)

const op = "detect_coordination"

// Options configures Run.
type Options struct {
	// Interval in seconds. Nil estimates it with Q and P.
	Interval *float64
	Q        float64
	P        float64

	Strategy coord.Strategy
	MarkMode coord.MarkMode

	// Percentile of the tie weight distribution below which ties are pruned.
	Percentile float64

	// KeepOriginalOnly restricts the whole run, estimation and graph alike,
	// to shares of the caller's seed URLs.
	KeepOriginalOnly bool

	// Canonicalizer, when set, cleans URLs before anything else runs.
	Canonicalizer shares.Canonicalizer

	WithTimestamps bool
	Seed           uint64
	Resolution     float64
	Workers        int
	Logger         *slog.Logger
}

// DefaultOptions returns an estimated interval with q=0.1 and p=0.5, fixed
// bins and 90th percentile pruning.
func DefaultOptions() Options {
	return Options{
		Q:          coord.DefaultQ,
		P:          coord.DefaultP,
		Strategy:   coord.FixedBin,
		MarkMode:   coord.MarkValueSet,
		Percentile: coordgraph.DefaultPercentile,
		Seed:       1,
		Resolution: coordgraph.DefaultResolution,
		Workers:    1,
	}
}

// Seconds is a helper for setting Options.Interval.
func Seconds(v float64) *float64 {
	return &v
}

// Result is the outcome of one run. A run that finds no coordination has
// no events and an empty graph; that is not an error.
type Result struct {
	RunID     string
	StartedAt time.Time

	Interval  float64
	Estimated bool
	Summary   *coord.Summary
	Strategy  coord.Strategy

	// Shares is the filtered input with IsCoordinated set.
	Shares    shares.Table
	Events    []coord.Event
	Graph     *coordgraph.Graph
	Threshold float64
}

// Found reports whether any coordination event was detected.
func (r *Result) Found() bool {
	return len(r.Events) > 0
}

// CoordinatedShares counts marked rows.
func (r *Result) CoordinatedShares() int {
	n := 0
	for _, s := range r.Shares {
		if s.IsCoordinated {
			n++
		}
	}
	return n
}

// Run detects coordinated link sharing in table. The table is not modified.
func Run(table shares.Table, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := validate(opts); err != nil {
		return nil, err
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Strategy:  opts.Strategy,
		Graph:     coordgraph.Empty(),
	}
	logger = logger.With(slog.String("run_id", res.RunID))

	work, err := prepare(table, opts, logger)
	if err != nil {
		return nil, err
	}

	if !coord.HasCoShares(work) {
		logger.Info("no URL shared more than once, nothing to coordinate", slog.Int("shares", len(work)))
		res.Shares = coord.Mark(work, nil, opts.MarkMode)
		if opts.Interval != nil {
			res.Interval = *opts.Interval
		}
		return res, nil
	}

	if opts.Interval != nil {
		res.Interval = *opts.Interval
	} else {
		summary, interval, err := coord.EstimateInterval(work, coord.EstimateOptions{Q: opts.Q, P: opts.P, Logger: logger})
		if err != nil {
			return nil, err
		}
		res.Interval = interval
		res.Estimated = true
		res.Summary = &summary
	}

	events, err := coord.Cluster(work, res.Interval, coord.ClusterOptions{
		Strategy: opts.Strategy,
		Workers:  opts.Workers,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	res.Events = events
	res.Shares = coord.Mark(work, events, opts.MarkMode)
	if len(events) == 0 {
		return res, nil
	}

	graph, threshold, err := coordgraph.Build(res.Shares, events, coordgraph.Options{
		Percentile:     opts.Percentile,
		WithTimestamps: opts.WithTimestamps,
		Resolution:     opts.Resolution,
		Seed:           opts.Seed,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	res.Graph = graph
	res.Threshold = threshold

	logger.Info("coordination detected",
		slog.String("strategy", opts.Strategy.String()),
		slog.Float64("interval_seconds", res.Interval),
		slog.Int("events", len(events)),
		slog.Int("coordinated_shares", res.CoordinatedShares()),
		slog.Int("accounts", graph.NodeCount()),
		slog.Int("ties", graph.EdgeCount()))
	return res, nil
}

func validate(opts Options) error {
	if opts.Interval != nil {
		v := *opts.Interval
		if !(v > 0) || math.IsInf(v, 0) {
			return coreerrors.InvalidParameter(op, "interval",
				"must be a positive number of seconds, or nil to estimate it, got %v", v)
		}
	} else {
		if !(opts.Q > 0 && opts.Q < 1) {
			return coreerrors.InvalidParameter(op, "q", "must be strictly between 0 and 1, got %v", opts.Q)
		}
		if !(opts.P > 0 && opts.P < 1) {
			return coreerrors.InvalidParameter(op, "p", "must be strictly between 0 and 1, got %v", opts.P)
		}
	}
	if !(opts.Percentile >= 0 && opts.Percentile <= 100) {
		return coreerrors.InvalidParameter(op, "percentile_edge_weight", "must be within [0, 100], got %v", opts.Percentile)
	}
	switch opts.Strategy {
	case coord.FixedBin, coord.GapChain:
	default:
		return coreerrors.InvalidParameter(op, "strategy", "unknown strategy %d", int(opts.Strategy))
	}
	return nil
}

// prepare applies the row filters once, in a fixed order: undated rows,
// seed-URL restriction, then canonicalization.
func prepare(table shares.Table, opts Options, logger *slog.Logger) (shares.Table, error) {
	work := table.Dated(logger)
	if opts.KeepOriginalOnly {
		work = work.OriginalOnly()
		if len(work) < 2 {
			return nil, coreerrors.InsufficientData(op,
				"keep_original_only left %d shares matching original URLs, need at least 2", len(work))
		}
	}
	if opts.Canonicalizer != nil {
		work = work.Canonicalized(opts.Canonicalizer, logger)
	}
	return work, nil
}
