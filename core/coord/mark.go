package coord

import (
	"github.com/adalundhe/coornet/core/shares"
)

type shareKey struct {
	url     string
	unix    int64
	account string
}

// Mark returns a copy of the table with IsCoordinated set on every share
// matched by the events under the given mode.
func Mark(table shares.Table, events []Event, mode MarkMode) shares.Table {
	out := table.Clone()
	for i := range out {
		out[i].IsCoordinated = false
	}
	if len(events) == 0 {
		return out
	}

	switch mode {
	case MarkTuple:
		keys := make(map[shareKey]struct{})
		for _, e := range events {
			for i := range e.Accounts {
				keys[shareKey{e.URL, e.Timestamps[i].Unix(), e.Accounts[i]}] = struct{}{}
			}
		}
		for i := range out {
			_, ok := keys[shareKey{out[i].ExpandedURL, out[i].Unix(), out[i].AccountID}]
			out[i].IsCoordinated = ok
		}
	default:
		urls := make(map[string]struct{})
		stamps := make(map[int64]struct{})
		accounts := make(map[string]struct{})
		for _, e := range events {
			urls[e.URL] = struct{}{}
			for i := range e.Accounts {
				stamps[e.Timestamps[i].Unix()] = struct{}{}
				accounts[e.Accounts[i]] = struct{}{}
			}
		}
		for i := range out {
			_, u := urls[out[i].ExpandedURL]
			_, t := stamps[out[i].Unix()]
			_, a := accounts[out[i].AccountID]
			out[i].IsCoordinated = u && t && a
		}
	}
	return out
}
