package coord

import (
	"math"
	"time"

	"github.com/adalundhe/coornet/core/shares"
)

// binCount returns floor(span/interval) + 1, so a span shorter than the
// interval stays in a single bin.
func binCount(span int64, interval float64) int {
	return int(math.Floor(float64(span)/interval)) + 1
}

// binIndex places offset seconds into one of n equal-width, left-closed
// bins covering [0, span]. The final bin also takes the right edge.
func binIndex(offset, span int64, n int) int {
	if span == 0 {
		return 0
	}
	width := float64(span) / float64(n)
	idx := int(math.Floor(float64(offset) / width))
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// clusterFixedBins partitions the URL's share window, anchored at its first
// share, and emits one event per bin holding more than one share from at
// least two accounts. Rows arrive sorted by date.
func clusterFixedBins(table shares.Table, g shares.URLGroup, interval float64) []Event {
	first := table[g.Rows[0]].Unix()
	last := table[g.Rows[len(g.Rows)-1]].Unix()
	span := last - first
	n := binCount(span, interval)
	width := 0.0
	if span > 0 {
		width = float64(span) / float64(n)
	}

	type bin struct {
		accounts []string
		times    []time.Time
	}
	bins := make(map[int]*bin)
	var order []int
	for _, r := range g.Rows {
		s := table[r]
		idx := binIndex(s.Unix()-first, span, n)
		b, ok := bins[idx]
		if !ok {
			b = &bin{}
			bins[idx] = b
			order = append(order, idx)
		}
		b.accounts = append(b.accounts, s.AccountID)
		b.times = append(b.times, s.Date)
	}

	var events []Event
	for _, idx := range order {
		b := bins[idx]
		if len(b.accounts) < 2 || distinct(b.accounts) < 2 {
			continue
		}
		offset := time.Duration(float64(idx) * width * float64(time.Second))
		start := time.Unix(first, 0).UTC().Add(offset)
		events = append(events, Event{
			URL:        g.URL,
			Key:        binKey(start),
			Count:      len(b.accounts),
			Accounts:   b.accounts,
			Timestamps: b.times,
		})
	}
	return events
}
