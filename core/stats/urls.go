package stats

import (
	"sort"

	"github.com/adalundhe/coornet/core/coordgraph"
	coreerrors "github.com/adalundhe/coornet/core/errors"
	"github.com/adalundhe/coornet/core/shares"
)

// Defaults for TopURLs.
const (
	DefaultOrderBy = "engagement"
	DefaultTop     = 10
)

// URLSummary describes one URL coordinated on by graph members. Engagement
// and the unprefixed account lists cover every share of the URL; the Coord
// lists only the coordinated shares of graph members.
type URLSummary struct {
	URL        string            `json:"url"`
	Engagement shares.Engagement `json:"statistics"`
	Total      int64             `json:"engagement"`
	Count      int               `json:"count"`

	Accounts          []string `json:"account_ids"`
	CoordAccounts     []string `json:"coord_account_ids"`
	AccountNames      []string `json:"account_names"`
	CoordAccountNames []string `json:"coord_account_names"`
	Components        []int    `json:"components"`
}

type urlAgg struct {
	summary     URLSummary
	accounts    map[string]struct{}
	names       map[string]struct{}
	coordAccts  map[string]struct{}
	coordNames  map[string]struct{}
	components  map[int]struct{}
	coordinated bool
}

// CheckOrderBy reports whether orderBy names a TopURLs ordering.
func CheckOrderBy(orderBy string) error {
	if orderBy == "" || orderBy == "count" {
		return nil
	}
	if _, ok := (shares.Engagement{}).Counter(orderBy); !ok {
		return coreerrors.InvalidParameter("top_coordinated_urls", "order_by", "unknown counter %q", orderBy)
	}
	return nil
}

// TopURLs ranks URLs by the summed counter named by orderBy ("engagement",
// "count", or a single counter such as "likes"), highest first, ties in URL
// order. It returns at most top rows; top <= 0 returns every URL.
func TopURLs(table shares.Table, g *coordgraph.Graph, orderBy string, top int) ([]URLSummary, error) {
	if orderBy == "" {
		orderBy = DefaultOrderBy
	}
	if err := CheckOrderBy(orderBy); err != nil {
		return nil, err
	}

	component := make(map[string]int)
	for _, a := range g.Accounts() {
		component[a.ID] = a.ComponentID
	}

	aggs := make(map[string]*urlAgg)
	for _, s := range table {
		agg, ok := aggs[s.ExpandedURL]
		if !ok {
			agg = &urlAgg{
				summary:    URLSummary{URL: s.ExpandedURL},
				accounts:   make(map[string]struct{}),
				names:      make(map[string]struct{}),
				coordAccts: make(map[string]struct{}),
				coordNames: make(map[string]struct{}),
				components: make(map[int]struct{}),
			}
			aggs[s.ExpandedURL] = agg
		}
		agg.summary.Count++
		agg.summary.Engagement = agg.summary.Engagement.Add(s.Engagement)
		agg.accounts[s.AccountID] = struct{}{}
		if s.DisplayName != "" {
			agg.names[s.DisplayName] = struct{}{}
		}

		comp, member := component[s.AccountID]
		if !s.IsCoordinated || !member {
			continue
		}
		agg.coordinated = true
		agg.coordAccts[s.AccountID] = struct{}{}
		if s.DisplayName != "" {
			agg.coordNames[s.DisplayName] = struct{}{}
		}
		agg.components[comp] = struct{}{}
	}

	out := make([]URLSummary, 0, len(aggs))
	for _, agg := range aggs {
		if !agg.coordinated {
			continue
		}
		s := agg.summary
		s.Total = s.Engagement.Total()
		s.Accounts = sortedKeys(agg.accounts)
		s.AccountNames = sortedKeys(agg.names)
		s.CoordAccounts = sortedKeys(agg.coordAccts)
		s.CoordAccountNames = sortedKeys(agg.coordNames)
		for c := range agg.components {
			s.Components = append(s.Components, c)
		}
		sort.Ints(s.Components)
		out = append(out, s)
	}

	rank := func(s URLSummary) int64 {
		if orderBy == "count" {
			return int64(s.Count)
		}
		v, _ := s.Engagement.Counter(orderBy)
		return v
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri > rj
		}
		return out[i].URL < out[j].URL
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
