package coord

import (
	"log/slog"
	"math"

	coreerrors "github.com/adalundhe/coornet/core/errors"
	"github.com/adalundhe/coornet/core/shares"
	"golang.org/x/sync/errgroup"
)

// ClusterOptions configures Cluster.
type ClusterOptions struct {
	Strategy Strategy
	// Workers bounds how many URL groups are clustered at once. Values
	// below 2 run sequentially. Output order never depends on it.
	Workers int
	Logger  *slog.Logger
}

// clusterFunc turns one URL group into zero or more events.
type clusterFunc func(table shares.Table, g shares.URLGroup, interval float64) []Event

// Cluster groups the table by URL and runs the selected strategy over each
// group. Each URL is processed independently; per-URL results are gathered
// into their own slot and concatenated once, in URL order.
func Cluster(table shares.Table, interval float64, opts ClusterOptions) ([]Event, error) {
	const op = "cluster"
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !(interval > 0) || math.IsInf(interval, 0) {
		return nil, coreerrors.InvalidParameter(op, "interval", "must be a positive number of seconds, got %v", interval)
	}

	var fn clusterFunc
	switch opts.Strategy {
	case FixedBin:
		fn = clusterFixedBins
	case GapChain:
		fn = clusterByGap
	default:
		return nil, coreerrors.InvalidParameter(op, "strategy", "unknown strategy %d", int(opts.Strategy))
	}

	var groups []shares.URLGroup
	for _, g := range table.GroupByURL() {
		if len(g.Rows) < 2 || table.DistinctAccounts(g.Rows) < 2 {
			continue
		}
		groups = append(groups, g)
	}
	logger.Debug("clustering co-shared urls",
		slog.String("strategy", opts.Strategy.String()),
		slog.Int("urls", len(groups)),
		slog.Float64("interval_seconds", interval))

	partial := make([][]Event, len(groups))
	var eg errgroup.Group
	if opts.Workers > 1 {
		eg.SetLimit(opts.Workers)
	} else {
		eg.SetLimit(1)
	}
	for i, g := range groups {
		eg.Go(func() error {
			partial[i] = fn(table, g, interval)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, p := range partial {
		total += len(p)
	}
	events := make([]Event, 0, total)
	seen := make(map[string]struct{}, total)
	for _, p := range partial {
		for _, e := range p {
			id := e.identity()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			events = append(events, e)
		}
	}

	if len(events) == 0 {
		logger.Info("no coordinated shares detected", slog.Int("urls", len(groups)))
	} else {
		logger.Debug("coordination events detected", slog.Int("events", len(events)))
	}
	return events, nil
}
