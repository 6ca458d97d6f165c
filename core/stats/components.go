// Package stats summarises a coordination run per connected component and
// per coordinated URL.
package stats

import (
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/adalundhe/coornet/core/coordgraph"
	"github.com/adalundhe/coornet/core/shares"
	"golang.org/x/net/publicsuffix"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TopDomains is the number of domains listed per component.
const TopDomains = 5

// giniEpsilon keeps the coefficient defined when every count is zero.
const giniEpsilon = 1e-8

// ComponentSummary aggregates the accounts of one connected component and
// the coordinated shares they posted.
type ComponentSummary struct {
	ComponentID        int     `json:"component"`
	Entities           int     `json:"entities"`
	AvgSubscriberCount float64 `json:"avg_subscriber_count"`
	CoordShareRatioAvg float64 `json:"coord_share_ratio_avg"`
	CoordScoreAvg      float64 `json:"coord_score_avg"`
	TopCountry         string  `json:"top_country"`

	AccountTypes map[string]int `json:"account_types"`

	UniqueFullDomains   int      `json:"unique_full_domain"`
	UniqueParentDomains int      `json:"unique_parent_domain"`
	GiniFullDomain      float64  `json:"gini_full_domain"`
	GiniParentDomain    float64  `json:"gini_parent_domain"`
	TopFullDomains      []string `json:"top_full_domain"`
	TopParentDomains    []string `json:"top_parent_domain"`
}

// Components returns one summary per component of g, ordered by component id.
// Domain figures count the coordinated shares of component members in table.
func Components(table shares.Table, g *coordgraph.Graph) []ComponentSummary {
	members := make(map[string]int)
	byComponent := make(map[int][]coordgraph.Account)
	for _, a := range g.Accounts() {
		members[a.ID] = a.ComponentID
		byComponent[a.ComponentID] = append(byComponent[a.ComponentID], a)
	}

	full := make(map[int]map[string]int)
	parent := make(map[int]map[string]int)
	for _, s := range table {
		if !s.IsCoordinated {
			continue
		}
		comp, ok := members[s.AccountID]
		if !ok {
			continue
		}
		host, base, ok := Domains(s.ExpandedURL)
		if !ok {
			continue
		}
		increment(full, comp, host)
		increment(parent, comp, base)
	}

	ids := make([]int, 0, len(byComponent))
	for id := range byComponent {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]ComponentSummary, 0, len(ids))
	for _, id := range ids {
		accounts := byComponent[id]
		subs := make([]float64, len(accounts))
		ratios := make([]float64, len(accounts))
		scores := make([]float64, len(accounts))
		countries := make(map[string]int)
		types := make(map[string]int)
		for i, a := range accounts {
			subs[i] = a.AvgSubscriberCount
			if total := a.Shares + a.CoordShares; total > 0 {
				ratios[i] = float64(a.CoordShares) / float64(total)
			}
			if a.Degree > 0 {
				scores[i] = a.Strength / float64(a.Degree)
			}
			if a.TopCountry != "" {
				countries[a.TopCountry]++
			}
			if a.AccountType != "" {
				types[a.AccountType]++
			}
		}

		out = append(out, ComponentSummary{
			ComponentID:         id,
			Entities:            len(accounts),
			AvgSubscriberCount:  stat.Mean(subs, nil),
			CoordShareRatioAvg:  stat.Mean(ratios, nil),
			CoordScoreAvg:       stat.Mean(scores, nil),
			TopCountry:          mode(countries),
			AccountTypes:        types,
			UniqueFullDomains:   len(full[id]),
			UniqueParentDomains: len(parent[id]),
			GiniFullDomain:      Gini(counts(full[id])),
			GiniParentDomain:    Gini(counts(parent[id])),
			TopFullDomains:      topKeys(full[id], TopDomains),
			TopParentDomains:    topKeys(parent[id], TopDomains),
		})
	}
	return out
}

// Domains returns the URL's host and its registrable parent domain
// (eTLD+1). The parent falls back to the host for addresses and bare
// public suffixes.
func Domains(raw string) (host, parent string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	host = strings.ToLower(u.Host)
	name := strings.ToLower(u.Hostname())
	if net.ParseIP(name) != nil {
		return host, name, true
	}
	parent, err = publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		parent = name
	}
	return host, parent, true
}

// Gini measures how unevenly shares concentrate on a few domains: 0 when
// spread evenly, approaching 1 when one domain dominates.
func Gini(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	arr := make([]float64, len(values))
	for i, v := range values {
		if v < 0 {
			v = -v
		}
		arr[i] = v + giniEpsilon
	}
	sort.Float64s(arr)

	n := float64(len(arr))
	var weighted float64
	for i, v := range arr {
		weighted += (2*float64(i+1) - n - 1) * v
	}
	return weighted / (n * floats.Sum(arr))
}

func increment(m map[int]map[string]int, comp int, key string) {
	inner, ok := m[comp]
	if !ok {
		inner = make(map[string]int)
		m[comp] = inner
	}
	inner[key]++
}

func counts(m map[string]int) []float64 {
	out := make([]float64, 0, len(m))
	for _, n := range m {
		out = append(out, float64(n))
	}
	return out
}

// topKeys returns up to n keys by descending count, ties in key order.
func topKeys(m map[string]int, n int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// mode is the most frequent key, the smallest one on ties.
func mode(m map[string]int) string {
	top := topKeys(m, 1)
	if len(top) == 0 {
		return ""
	}
	return top[0]
}
