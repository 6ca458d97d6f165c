package export

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/adalundhe/coornet/core/coord"
	"github.com/adalundhe/coornet/core/coordgraph"
	"github.com/adalundhe/coornet/core/detect"
	"github.com/adalundhe/coornet/core/shares"
	"github.com/adalundhe/coornet/core/stats"
	"github.com/adalundhe/coornet/core/storage"
)

// IntervalSummary is coord.Summary with undefined values as null.
type IntervalSummary struct {
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	StdDev *float64 `json:"std"`
	Min    *float64 `json:"min"`
	Q25    *float64 `json:"q25"`
	Median *float64 `json:"median"`
	Q75    *float64 `json:"q75"`
	Max    *float64 `json:"max"`
}

// NewIntervalSummary converts NaN fields to nil.
func NewIntervalSummary(s coord.Summary) *IntervalSummary {
	return &IntervalSummary{
		Count:  s.Count,
		Mean:   finite(s.Mean),
		StdDev: finite(s.StdDev),
		Min:    finite(s.Min),
		Q25:    finite(s.Q25),
		Median: finite(s.Median),
		Q75:    finite(s.Q75),
		Max:    finite(s.Max),
	}
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// EventRecord is the JSON form of a coordination event.
type EventRecord struct {
	URL        string      `json:"url"`
	Key        string      `json:"key"`
	Count      int         `json:"count"`
	Accounts   []string    `json:"accounts"`
	Timestamps []time.Time `json:"timestamps"`
}

// Report is the JSON document written by the detect and stats commands.
type Report struct {
	RunID             string           `json:"run_id"`
	Source            string           `json:"source,omitempty"`
	StartedAt         time.Time        `json:"started_at"`
	Strategy          string           `json:"strategy"`
	IntervalSeconds   float64          `json:"interval_seconds"`
	Estimated         bool             `json:"estimated"`
	IntervalSummary   *IntervalSummary `json:"interval_summary,omitempty"`
	Found             bool             `json:"coordination_found"`
	Threshold         float64          `json:"threshold"`
	CoordinatedShares int              `json:"coordinated_shares"`

	Events     []EventRecord            `json:"events"`
	Accounts   []coordgraph.Account     `json:"accounts"`
	Ties       []coordgraph.Tie         `json:"ties"`
	Components []stats.ComponentSummary `json:"components,omitempty"`
	TopURLs    []stats.URLSummary       `json:"top_urls,omitempty"`
	Shares     shares.Table             `json:"shares,omitempty"`
}

// NewReport captures a result. Statistics and shares are attached by the caller.
func NewReport(res *detect.Result, source string) *Report {
	r := &Report{
		RunID:             res.RunID,
		Source:            source,
		StartedAt:         res.StartedAt,
		Strategy:          res.Strategy.String(),
		IntervalSeconds:   res.Interval,
		Estimated:         res.Estimated,
		Found:             res.Found(),
		Threshold:         res.Threshold,
		CoordinatedShares: res.CoordinatedShares(),
		Events:            make([]EventRecord, 0, len(res.Events)),
		Accounts:          res.Graph.Accounts(),
		Ties:              res.Graph.Ties(),
	}
	if res.Summary != nil {
		r.IntervalSummary = NewIntervalSummary(*res.Summary)
	}
	for _, e := range res.Events {
		r.Events = append(r.Events, EventRecord{
			URL:        e.URL,
			Key:        e.Key,
			Count:      e.Count,
			Accounts:   e.Accounts,
			Timestamps: e.Timestamps,
		})
	}
	if r.Ties == nil {
		r.Ties = []coordgraph.Tie{}
	}
	return r
}

// Encode writes the report as indented JSON.
func (r *Report) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteFile writes the report to path, creating parent directories.
func (r *Report) WriteFile(path string) error {
	if err := storage.EnsureParent(path); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := r.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadReport loads a report written by WriteFile.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}
