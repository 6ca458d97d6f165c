package coordgraph

import (
	"strings"

	"github.com/adalundhe/coornet/core/shares"
)

// history collects the distinct non-empty values of a descriptive field
// in first-seen order.
type history struct {
	values []string
	seen   map[string]struct{}
}

func (h *history) add(v string) {
	if v == "" {
		return
	}
	if h.seen == nil {
		h.seen = make(map[string]struct{})
	}
	if _, ok := h.seen[v]; ok {
		return
	}
	h.seen[v] = struct{}{}
	h.values = append(h.values, v)
}

func (h *history) joined() string {
	return strings.Join(h.values, "|")
}

func (h *history) changed() bool {
	return len(h.values) > 1
}

type accountAgg struct {
	account        *Account
	subscriberSum  float64
	names          history
	handles        history
	countries      history
	platformSet    bool
	accountTypeSet bool
}

// aggregateAccounts summarises every account in the table. Platform,
// verified flag and account type come from the account's first row;
// name, handle and country are pipe-joined over their distinct values.
func aggregateAccounts(table shares.Table) map[string]*Account {
	aggs := make(map[string]*accountAgg)
	var order []string
	for _, s := range table {
		agg, ok := aggs[s.AccountID]
		if !ok {
			agg = &accountAgg{account: &Account{ID: s.AccountID, Verified: s.Verified}}
			aggs[s.AccountID] = agg
			order = append(order, s.AccountID)
		}
		a := agg.account
		a.Shares++
		if s.IsCoordinated {
			a.CoordShares++
		}
		agg.subscriberSum += s.SubscriberCount
		if !agg.platformSet && s.Platform != "" {
			a.Platform = s.Platform
			agg.platformSet = true
		}
		if !agg.accountTypeSet && s.AccountType != "" {
			a.AccountType = s.AccountType
			agg.accountTypeSet = true
		}
		agg.names.add(s.DisplayName)
		agg.handles.add(s.Handle)
		agg.countries.add(s.TopCountry)
	}

	out := make(map[string]*Account, len(aggs))
	for _, id := range order {
		agg := aggs[id]
		a := agg.account
		a.AvgSubscriberCount = agg.subscriberSum / float64(a.Shares)
		a.DisplayName = agg.names.joined()
		a.Handle = agg.handles.joined()
		a.TopCountry = agg.countries.joined()
		a.NameChanged = agg.names.changed()
		a.HandleChanged = agg.handles.changed()
		a.CountryChanged = agg.countries.changed()
		out[id] = a
	}
	return out
}
