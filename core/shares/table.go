package shares

import (
	"log/slog"
	"sort"

	coreerrors "github.com/adalundhe/coornet/core/errors"
)

// Table is an in-memory Shares Table. Engine operations never mutate a
// caller's Table; every transformation returns a copy.
type Table []Share

// Clone returns a shallow copy of the rows.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	copy(out, t)
	return out
}

// Validate checks the required fields of every row. Rows with a zero Date
// are not a schema error; they are dropped later by Dated.
func (t Table) Validate() error {
	const op = "validate_shares"
	seen := make(map[string]int, len(t))
	for i, s := range t {
		if s.ID == "" {
			return coreerrors.Schema(op, "id", "row %d has an empty id", i)
		}
		if s.ExpandedURL == "" {
			return coreerrors.Schema(op, "expanded_url", "row %d (id %s) has an empty expanded_url", i, s.ID)
		}
		if s.AccountID == "" {
			return coreerrors.Schema(op, "account_id", "row %d (id %s) has an empty account_id", i, s.ID)
		}
		if prev, dup := seen[s.ID]; dup {
			return coreerrors.Schema(op, "id", "id %s repeated at rows %d and %d", s.ID, prev, i)
		}
		seen[s.ID] = i
	}
	return nil
}

// Dated drops rows without a usable timestamp.
func (t Table) Dated(logger *slog.Logger) Table {
	out := make(Table, 0, len(t))
	skipped := 0
	for _, s := range t {
		if s.Date.IsZero() {
			skipped++
			logger.Debug("skipping share without timestamp", slog.String("id", s.ID))
			continue
		}
		out = append(out, s)
	}
	if skipped > 0 {
		logger.Warn("skipped shares with malformed timestamps", slog.Int("skipped", skipped))
	}
	return out
}

// OriginalOnly keeps rows whose URL matches a seed URL.
func (t Table) OriginalOnly() Table {
	out := make(Table, 0, len(t))
	for _, s := range t {
		if s.IsOrig {
			out = append(out, s)
		}
	}
	return out
}

// Canonicalizer maps a URL to its canonical form, reporting false to drop the row.
type Canonicalizer interface {
	Canonicalize(raw string) (string, bool)
}

// Canonicalized rewrites ExpandedURL through c, dropping discarded rows.
func (t Table) Canonicalized(c Canonicalizer, logger *slog.Logger) Table {
	out := make(Table, 0, len(t))
	dropped := 0
	for _, s := range t {
		clean, ok := c.Canonicalize(s.ExpandedURL)
		if !ok {
			dropped++
			logger.Debug("canonicalizer discarded url",
				slog.String("id", s.ID),
				slog.String("url", s.ExpandedURL))
			continue
		}
		s.ExpandedURL = clean
		out = append(out, s)
	}
	if dropped > 0 {
		logger.Warn("dropped shares with unusable urls", slog.Int("dropped", dropped))
	}
	return out
}

// URLGroup is the set of rows sharing one expanded URL, ordered by date.
// Rows holds indices into the Table the group was built from.
type URLGroup struct {
	URL  string
	Rows []int
}

// GroupByURL groups the table by ExpandedURL. Groups are returned in URL
// order and rows within a group are stably sorted by date, so ties keep
// their original row order.
func (t Table) GroupByURL() []URLGroup {
	index := make(map[string]int)
	var groups []URLGroup
	for i, s := range t {
		g, ok := index[s.ExpandedURL]
		if !ok {
			g = len(groups)
			index[s.ExpandedURL] = g
			groups = append(groups, URLGroup{URL: s.ExpandedURL})
		}
		groups[g].Rows = append(groups[g].Rows, i)
	}

	for _, g := range groups {
		rows := g.Rows
		sort.SliceStable(rows, func(a, b int) bool {
			return t[rows[a]].Date.Before(t[rows[b]].Date)
		})
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].URL < groups[b].URL })
	return groups
}

// DistinctAccounts counts the distinct account ids among the given rows.
func (t Table) DistinctAccounts(rows []int) int {
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		seen[t[r].AccountID] = struct{}{}
	}
	return len(seen)
}
