package coord

import (
	"log/slog"

	coreerrors "github.com/adalundhe/coornet/core/errors"
	"github.com/adalundhe/coornet/core/shares"
)

// Default estimator parameters.
const (
	DefaultQ = 0.1
	DefaultP = 0.5
)

// minInterval is the smallest interval the estimator returns. A threshold
// below one second would flag every simultaneous share as coordinated.
const minInterval = 1.0

// EstimateOptions configures EstimateInterval.
type EstimateOptions struct {
	// Q is the quantile of quickest second shares kept as candidates.
	Q float64
	// P is the fraction of a URL's shares that must have been reached.
	P float64
	// KeepOriginalOnly restricts estimation to rows with IsOrig set.
	KeepOriginalOnly bool
	// Canonicalizer, when set, rewrites URLs before grouping.
	Canonicalizer shares.Canonicalizer
	Logger        *slog.Logger
}

// DefaultEstimateOptions returns q=0.1, p=0.5 with no filtering.
func DefaultEstimateOptions() EstimateOptions {
	return EstimateOptions{Q: DefaultQ, P: DefaultP}
}

// EstimateInterval derives the coordination interval in seconds from the
// share table. It looks at the q-quantile of URLs with the fastest second
// share and returns the p-quantile of the time each needed to accumulate
// more than p of its shares.
func EstimateInterval(table shares.Table, opts EstimateOptions) (Summary, float64, error) {
	const op = "estimate_interval"
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := validateFraction(op, "p", opts.P); err != nil {
		return Summary{}, 0, err
	}
	if err := validateFraction(op, "q", opts.Q); err != nil {
		return Summary{}, 0, err
	}
	if err := table.Validate(); err != nil {
		return Summary{}, 0, err
	}

	work := table.Dated(logger)
	if opts.KeepOriginalOnly {
		work = work.OriginalOnly()
		if len(work) < 2 {
			return Summary{}, 0, coreerrors.InsufficientData(op,
				"keep_original_only left %d shares matching original URLs, need at least 2", len(work))
		}
		logger.Info("coordination interval estimated on shares matching original URLs")
	}
	if opts.Canonicalizer != nil {
		work = work.Canonicalized(opts.Canonicalizer, logger)
		logger.Info("coordination interval estimated on cleaned URLs")
	}

	return estimate(work, opts.Q, opts.P, logger)
}

func validateFraction(op, name string, v float64) error {
	if !(v > 0 && v < 1) {
		return coreerrors.InvalidParameter(op, name, "must be strictly between 0 and 1, got %v", v)
	}
	return nil
}

// urlTiming holds the per-row metrics of one co-shared URL.
type urlTiming struct {
	elapsed  []float64 // seconds since the URL's first share, by rank
	fraction []float64 // rank / total shares
}

// estimate runs on an already validated and filtered table.
func estimate(table shares.Table, q, p float64, logger *slog.Logger) (Summary, float64, error) {
	const op = "estimate_interval"

	var timings []urlTiming
	for _, g := range table.GroupByURL() {
		if len(g.Rows) < 2 {
			continue
		}
		first := table[g.Rows[0]].Unix()
		n := float64(len(g.Rows))
		t := urlTiming{
			elapsed:  make([]float64, len(g.Rows)),
			fraction: make([]float64, len(g.Rows)),
		}
		for rank, r := range g.Rows {
			t.elapsed[rank] = float64(table[r].Unix() - first)
			t.fraction[rank] = float64(rank+1) / n
		}
		timings = append(timings, t)
	}
	if len(timings) == 0 {
		return Summary{}, 0, coreerrors.InsufficientData(op, "no URL was shared more than once")
	}

	secondShare := make([]float64, len(timings))
	for i, t := range timings {
		secondShare[i] = t.elapsed[1]
	}
	cutoff := Quantile(secondShare, q)

	var reach []float64
	for i, t := range timings {
		if secondShare[i] > cutoff {
			continue
		}
		for rank, frac := range t.fraction {
			if frac > p {
				reach = append(reach, t.elapsed[rank])
				break
			}
		}
	}

	summary := Describe(reach)
	interval := Quantile(reach, p)

	if interval < minInterval {
		logger.Warn("estimated coordination interval below one second, using 1s",
			slog.Float64("q", q),
			slog.Float64("p", p),
			slog.Float64("estimated", interval))
		interval = minInterval
	} else {
		logger.Info("coordination interval estimated",
			slog.Float64("q", q),
			slog.Float64("p", p),
			slog.Float64("interval_seconds", interval))
	}
	return summary, interval, nil
}

// HasCoShares reports whether any URL in the table was shared more than once.
func HasCoShares(table shares.Table) bool {
	seen := make(map[string]struct{}, len(table))
	for _, s := range table {
		if _, ok := seen[s.ExpandedURL]; ok {
			return true
		}
		seen[s.ExpandedURL] = struct{}{}
	}
	return false
}
