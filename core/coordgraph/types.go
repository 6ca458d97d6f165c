// Package coordgraph projects coordination events onto an account-to-account
// network, prunes weak ties and labels components and communities.
package coordgraph

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/graph/simple"
)

// Account is the attribute set of one graph vertex.
type Account struct {
	ID string `json:"account_id"`

	Shares             int     `json:"shares"`
	CoordShares        int     `json:"coord_shares"`
	AvgSubscriberCount float64 `json:"avg_subscriber_count"`
	Platform           string  `json:"platform"`
	DisplayName        string  `json:"display_name"`
	Handle             string  `json:"handle"`
	TopCountry         string  `json:"top_country"`
	Verified           bool    `json:"verified"`
	AccountType        string  `json:"account_type"`

	NameChanged    bool `json:"name_changed"`
	HandleChanged  bool `json:"handle_changed"`
	CountryChanged bool `json:"country_changed"`

	Degree      int     `json:"degree"`
	Strength    float64 `json:"strength"`
	ComponentID int     `json:"component_id"`
	ClusterID   int     `json:"cluster_id"`
}

// Tie is an undirected coordination edge. Source precedes Target in node order.
type Tie struct {
	Source     string      `json:"source"`
	Target     string      `json:"target"`
	Weight     float64     `json:"weight"`
	Timestamps []time.Time `json:"timestamps,omitempty"`
}

// Graph is the pruned, annotated coordination network. Node IDs in the
// underlying gonum graph follow the order accounts first appear in the events.
type Graph struct {
	g        *simple.WeightedUndirectedGraph
	ids      []string // node id -> account id
	index    map[string]int64
	accounts map[int64]*Account
	stamps   map[[2]int64][]time.Time
}

func newGraph() *Graph {
	return &Graph{
		g:        simple.NewWeightedUndirectedGraph(0, 0),
		index:    make(map[string]int64),
		accounts: make(map[int64]*Account),
		stamps:   make(map[[2]int64][]time.Time),
	}
}

// Empty returns a graph with no nodes, the result of a run without coordination.
func Empty() *Graph {
	return newGraph()
}

// Gonum exposes the underlying weighted graph for further analysis.
func (g *Graph) Gonum() *simple.WeightedUndirectedGraph {
	return g.g
}

// NodeCount reports the number of accounts.
func (g *Graph) NodeCount() int {
	return g.g.Nodes().Len()
}

// EdgeCount reports the number of ties.
func (g *Graph) EdgeCount() int {
	return g.g.Edges().Len()
}

// Account returns the attributes of the named account.
func (g *Graph) Account(id string) (Account, bool) {
	nid, ok := g.index[id]
	if !ok || g.g.Node(nid) == nil {
		return Account{}, false
	}
	return *g.accounts[nid], true
}

// Accounts returns every vertex in node order.
func (g *Graph) Accounts() []Account {
	nodes := sortedNodeIDs(g.g)
	out := make([]Account, 0, len(nodes))
	for _, nid := range nodes {
		out = append(out, *g.accounts[nid])
	}
	return out
}

// Ties returns every edge ordered by (source, target) node order.
func (g *Graph) Ties() []Tie {
	var ties []Tie
	edges := g.g.WeightedEdges()
	for edges.Next() {
		e := edges.WeightedEdge()
		u, v := e.From().ID(), e.To().ID()
		if u > v {
			u, v = v, u
		}
		ties = append(ties, Tie{
			Source:     g.ids[u],
			Target:     g.ids[v],
			Weight:     e.Weight(),
			Timestamps: g.stamps[[2]int64{u, v}],
		})
	}
	sort.Slice(ties, func(i, j int) bool {
		a, b := ties[i], ties[j]
		if g.index[a.Source] != g.index[b.Source] {
			return g.index[a.Source] < g.index[b.Source]
		}
		return g.index[a.Target] < g.index[b.Target]
	})
	return ties
}

// Weight returns the tie weight between two accounts.
func (g *Graph) Weight(a, b string) (float64, bool) {
	u, okU := g.index[a]
	v, okV := g.index[b]
	if !okU || !okV || u == v {
		return 0, false
	}
	e := g.g.WeightedEdge(u, v)
	if e == nil {
		return 0, false
	}
	return e.Weight(), true
}

// Components groups account ids by component id.
func (g *Graph) Components() map[int][]string {
	out := make(map[int][]string)
	for _, a := range g.Accounts() {
		out[a.ComponentID] = append(out[a.ComponentID], a.ID)
	}
	return out
}

func sortedNodeIDs(g *simple.WeightedUndirectedGraph) []int64 {
	nodes := g.Nodes()
	ids := make([]int64, 0, nodes.Len())
	for nodes.Next() {
		ids = append(ids, nodes.Node().ID())
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
