// Package coord estimates the coordination interval and marks shares that
// were posted by distinct accounts within that interval of each other.
package coord

import (
	"fmt"
	"strings"
	"time"

	coreerrors "github.com/adalundhe/coornet/core/errors"
)

// Strategy selects the temporal clustering algorithm.
type Strategy int

const (
	// FixedBin partitions each URL's share window into equal-width bins.
	FixedBin Strategy = iota

	// GapChain links consecutive shares whose gap stays within the interval.
	GapChain
)

var strategyNames = map[Strategy]string{
	FixedBin: "fixed_bin",
	GapChain: "gap_chain",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStrategy accepts the names produced by Strategy.String.
func ParseStrategy(name string) (Strategy, error) {
	for s, n := range strategyNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return FixedBin, coreerrors.InvalidParameter("parse_strategy", "strategy",
		"unknown strategy %q (want fixed_bin or gap_chain)", name)
}

// MarkMode selects how shares are matched against coordination events.
type MarkMode int

const (
	// MarkValueSet flags a share when its URL, timestamp and account each
	// appear somewhere among the events, independently of one another.
	MarkValueSet MarkMode = iota

	// MarkTuple flags a share only when the exact (url, timestamp, account)
	// triple occurs in an event. Stricter than MarkValueSet; it avoids
	// false positives when unrelated events share a timestamp.
	MarkTuple
)

var markModeNames = map[MarkMode]string{
	MarkValueSet: "value_set",
	MarkTuple:    "tuple",
}

func (m MarkMode) String() string {
	if name, ok := markModeNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseMarkMode accepts the names produced by MarkMode.String.
func ParseMarkMode(name string) (MarkMode, error) {
	for m, n := range markModeNames {
		if strings.EqualFold(n, name) {
			return m, nil
		}
	}
	return MarkValueSet, coreerrors.InvalidParameter("parse_mark_mode", "mark_mode",
		"unknown mark mode %q (want value_set or tuple)", name)
}

// Event is a burst of shares of one URL by at least two accounts.
// Accounts and Timestamps are parallel: Accounts[i] shared at Timestamps[i].
type Event struct {
	URL        string
	Key        string
	Count      int
	Accounts   []string
	Timestamps []time.Time
}

// chainKey is the Key of every gap-chain event; chains are not sub-partitioned.
const chainKey = "chain"

func binKey(start time.Time) string {
	return start.UTC().Format("2006-01-02T15:04:05.000Z")
}

// identity is the dedup key of an event: url, key, accounts and timestamps.
func (e Event) identity() string {
	var b strings.Builder
	b.WriteString(e.URL)
	b.WriteByte(0)
	b.WriteString(e.Key)
	for i := range e.Accounts {
		fmt.Fprintf(&b, "\x00%s@%d", e.Accounts[i], e.Timestamps[i].Unix())
	}
	return b.String()
}

func distinct(values []string) int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}
