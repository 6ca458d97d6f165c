package coord

import (
	"time"

	"github.com/adalundhe/coornet/core/shares"
)

// chainFlags computes, for share times sorted ascending, whether each share
// followed its predecessor within the interval (validDelta) and whether its
// successor followed it within the interval (validBefore). The first share
// has no predecessor, so its validDelta is false.
func chainFlags(times []int64, interval float64) (validDelta, validBefore []bool) {
	n := len(times)
	validDelta = make([]bool, n)
	validBefore = make([]bool, n)
	for i := 1; i < n; i++ {
		validDelta[i] = float64(times[i]-times[i-1]) <= interval
	}
	for i := 0; i < n-1; i++ {
		validBefore[i] = validDelta[i+1]
	}
	return validDelta, validBefore
}

// clusterByGap keeps every share that either arrived quickly after the
// previous share of the URL or was quickly followed by the next one. The
// surviving shares of a URL form a single event, in date order.
func clusterByGap(table shares.Table, g shares.URLGroup, interval float64) []Event {
	times := make([]int64, len(g.Rows))
	for i, r := range g.Rows {
		times[i] = table[r].Unix()
	}
	validDelta, validBefore := chainFlags(times, interval)

	var accounts []string
	var stamps []time.Time
	leading := true
	for i, r := range g.Rows {
		if !validDelta[i] && !validBefore[i] {
			continue
		}
		// A URL's surviving shares must open with a share that has a fast follower.
		if leading && !validBefore[i] {
			continue
		}
		leading = false
		accounts = append(accounts, table[r].AccountID)
		stamps = append(stamps, table[r].Date)
	}

	if len(accounts) < 2 || distinct(accounts) < 2 {
		return nil
	}
	return []Event{{
		URL:        g.URL,
		Key:        chainKey,
		Count:      len(accounts),
		Accounts:   accounts,
		Timestamps: stamps,
	}}
}
