package coordgraph

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/adalundhe/coornet/core/coord"
	coreerrors "github.com/adalundhe/coornet/core/errors"
	"github.com/adalundhe/coornet/core/shares"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// =============================================================================
// Options
// =============================================================================

// DefaultPercentile keeps ties in the top decile of the weight distribution.
const DefaultPercentile = 90.0

// DefaultResolution is the modularity resolution used for community detection.
const DefaultResolution = 1.0

// Options configures Build.
type Options struct {
	// Percentile of the projected weight distribution below which ties are pruned.
	Percentile float64

	// WithTimestamps annotates each surviving tie with its co-share times.
	// It intersects bipartite neighbourhoods per edge and is opt-in.
	WithTimestamps bool

	// Resolution is passed to Louvain modularity optimisation.
	Resolution float64

	// Seed drives Louvain's node ordering. Community labels are stable for
	// a fixed seed and may differ between seeds.
	Seed uint64

	Logger *slog.Logger
}

// DefaultOptions returns the 90th percentile, no timestamps, resolution 1 and seed 1.
func DefaultOptions() Options {
	return Options{
		Percentile: DefaultPercentile,
		Resolution: DefaultResolution,
		Seed:       1,
	}
}

// =============================================================================
// Bipartite graph
// =============================================================================

// bipartite links accounts (node ids [0, accounts)) to URLs
// (node ids [accounts, accounts+urls)).
type bipartite struct {
	g        *simple.UndirectedGraph
	accounts []string
	urls     []string
	stamps   map[[2]int64][]time.Time // (account, url) -> share times
}

func buildBipartite(events []coord.Event) *bipartite {
	accountIdx := make(map[string]int64)
	urlIdx := make(map[string]int64)
	b := &bipartite{
		g:      simple.NewUndirectedGraph(),
		stamps: make(map[[2]int64][]time.Time),
	}
	for _, e := range events {
		if _, ok := urlIdx[e.URL]; !ok {
			urlIdx[e.URL] = int64(len(b.urls))
			b.urls = append(b.urls, e.URL)
		}
		for _, a := range e.Accounts {
			if _, ok := accountIdx[a]; !ok {
				accountIdx[a] = int64(len(b.accounts))
				b.accounts = append(b.accounts, a)
			}
		}
	}

	offset := int64(len(b.accounts))
	for i := range b.accounts {
		b.g.AddNode(simple.Node(int64(i)))
	}
	for i := range b.urls {
		b.g.AddNode(simple.Node(offset + int64(i)))
	}

	for _, e := range events {
		uid := offset + urlIdx[e.URL]
		for i, a := range e.Accounts {
			aid := accountIdx[a]
			if !b.g.HasEdgeBetween(aid, uid) {
				b.g.SetEdge(b.g.NewEdge(simple.Node(aid), simple.Node(uid)))
			}
			key := [2]int64{aid, uid}
			b.stamps[key] = append(b.stamps[key], e.Timestamps[i])
		}
	}
	return b
}

func (b *bipartite) isURL(id int64) bool {
	return id >= int64(len(b.accounts))
}

// neighbours returns the sorted node ids adjacent to id.
func (b *bipartite) neighbours(id int64) []int64 {
	it := b.g.From(id)
	out := make([]int64, 0, it.Len())
	for it.Next() {
		out = append(out, it.Node().ID())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// project builds the weighted account graph: two accounts are tied when they
// share a URL neighbour, weighted by the number of such URLs.
func (b *bipartite) project() *simple.WeightedUndirectedGraph {
	weights := make(map[[2]int64]float64)
	for i := range b.urls {
		members := b.neighbours(int64(len(b.accounts)) + int64(i))
		for x := 0; x < len(members); x++ {
			for y := x + 1; y < len(members); y++ {
				weights[[2]int64{members[x], members[y]}]++
			}
		}
	}

	p := simple.NewWeightedUndirectedGraph(0, 0)
	for i := range b.accounts {
		p.AddNode(simple.Node(int64(i)))
	}
	for pair, w := range weights {
		if pair[0] == pair[1] || b.isURL(pair[0]) || b.isURL(pair[1]) {
			continue
		}
		p.SetWeightedEdge(p.NewWeightedEdge(simple.Node(pair[0]), simple.Node(pair[1]), w))
	}
	return p
}

// coShareTimes returns the sorted, distinct times at which either account
// shared a URL both accounts share.
func (b *bipartite) coShareTimes(u, v int64) []time.Time {
	nu, nv := b.neighbours(u), b.neighbours(v)
	seen := make(map[int64]struct{})
	var out []time.Time
	for i, j := 0, 0; i < len(nu) && j < len(nv); {
		switch {
		case nu[i] < nv[j]:
			i++
		case nu[i] > nv[j]:
			j++
		default:
			for _, acct := range [2]int64{u, v} {
				for _, ts := range b.stamps[[2]int64{acct, nu[i]}] {
					if _, dup := seen[ts.Unix()]; !dup {
						seen[ts.Unix()] = struct{}{}
						out = append(out, ts)
					}
				}
			}
			i++
			j++
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// =============================================================================
// Build
// =============================================================================

// Build projects events onto accounts and prunes the result. It returns the
// annotated graph and the weight threshold applied. Account attributes are
// aggregated over the whole marked table, not only its coordinated rows.
func Build(table shares.Table, events []coord.Event, opts Options) (*Graph, float64, error) {
	const op = "build_graph"
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !(opts.Percentile >= 0 && opts.Percentile <= 100) {
		return nil, 0, coreerrors.InvalidParameter(op, "percentile_edge_weight",
			"must be within [0, 100], got %v", opts.Percentile)
	}
	resolution := opts.Resolution
	if resolution <= 0 {
		resolution = DefaultResolution
	}

	out := newGraph()
	if len(events) == 0 {
		return out, 0, nil
	}

	bip := buildBipartite(events)
	full := bip.project()
	logger.Debug("projected bipartite graph",
		slog.Int("accounts", len(bip.accounts)),
		slog.Int("urls", len(bip.urls)),
		slog.Int("edges", full.Edges().Len()))

	weights := edgeWeights(full)
	if len(weights) == 0 {
		return out, 0, nil
	}
	threshold := coord.Quantile(weights, opts.Percentile/100)

	prune(full, threshold)
	logger.Info("pruned coordination graph",
		slog.Float64("threshold", threshold),
		slog.Float64("percentile", opts.Percentile),
		slog.Int("nodes", full.Nodes().Len()),
		slog.Int("edges", full.Edges().Len()))

	out.g = full
	out.ids = bip.accounts
	for i, id := range bip.accounts {
		out.index[id] = int64(i)
	}

	attrs := aggregateAccounts(table)
	for _, nid := range sortedNodeIDs(full) {
		id := bip.accounts[nid]
		a, ok := attrs[id]
		if !ok {
			a = &Account{ID: id}
		}
		out.accounts[nid] = a
	}

	if opts.WithTimestamps {
		edges := full.WeightedEdges()
		for edges.Next() {
			e := edges.WeightedEdge()
			u, v := e.From().ID(), e.To().ID()
			if u > v {
				u, v = v, u
			}
			out.stamps[[2]int64{u, v}] = bip.coShareTimes(u, v)
		}
		logger.Debug("annotated tie timestamps", slog.Int("edges", len(out.stamps)))
	}

	labelComponents(out)
	labelCommunities(out, resolution, opts.Seed)
	computeDegrees(out)

	return out, threshold, nil
}

func edgeWeights(g *simple.WeightedUndirectedGraph) []float64 {
	edges := g.WeightedEdges()
	weights := make([]float64, 0, edges.Len())
	for edges.Next() {
		weights = append(weights, edges.WeightedEdge().Weight())
	}
	return weights
}

// prune drops unconnected nodes, then ties below threshold, then the
// nodes those removals isolated.
func prune(g *simple.WeightedUndirectedGraph, threshold float64) {
	removeIsolates(g)

	var weak [][2]int64
	edges := g.WeightedEdges()
	for edges.Next() {
		e := edges.WeightedEdge()
		if e.Weight() < threshold {
			weak = append(weak, [2]int64{e.From().ID(), e.To().ID()})
		}
	}
	for _, e := range weak {
		g.RemoveEdge(e[0], e[1])
	}

	removeIsolates(g)
}

func removeIsolates(g *simple.WeightedUndirectedGraph) {
	var isolated []int64
	for _, nid := range sortedNodeIDs(g) {
		if g.From(nid).Len() == 0 {
			isolated = append(isolated, nid)
		}
	}
	for _, nid := range isolated {
		g.RemoveNode(nid)
	}
}

// labelComponents numbers components from 1 in order of their earliest node.
func labelComponents(out *Graph) {
	for i, c := range orderedGroups(topo.ConnectedComponents(out.g)) {
		for _, nid := range c {
			out.accounts[nid].ComponentID = i + 1
		}
	}
}

// labelCommunities runs Louvain and numbers communities from 1 in order of
// their earliest node.
func labelCommunities(out *Graph, resolution float64, seed uint64) {
	if out.g.Nodes().Len() == 0 {
		return
	}
	reduced := community.Modularize(out.g, resolution, rand.NewPCG(seed, seed))
	for i, c := range orderedGroups(reduced.Communities()) {
		for _, nid := range c {
			out.accounts[nid].ClusterID = i + 1
		}
	}
}

func orderedGroups(groups [][]graph.Node) [][]int64 {
	out := make([][]int64, 0, len(groups))
	for _, grp := range groups {
		if len(grp) == 0 {
			continue
		}
		ids := make([]int64, len(grp))
		for i, n := range grp {
			ids[i] = n.ID()
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out = append(out, ids)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func computeDegrees(out *Graph) {
	for nid, a := range out.accounts {
		a.Degree = 0
		a.Strength = 0
		nbrs := out.g.From(nid)
		for nbrs.Next() {
			w, _ := out.g.Weight(nid, nbrs.Node().ID())
			a.Degree++
			a.Strength += w
		}
	}
}
