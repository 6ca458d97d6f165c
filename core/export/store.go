// Package export persists detection results to SQLite and JSON.
package export

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adalundhe/coornet/core/coordgraph"
	"github.com/adalundhe/coornet/core/detect"
	"github.com/adalundhe/coornet/core/storage"
	_ "modernc.org/sqlite"
)

// =============================================================================
// Store - SQLite export of detection runs
// =============================================================================
//
// Store keeps every run in one database, keyed by run id:
// - runs: parameters and totals of each run
// - accounts: pruned graph vertices with their attributes
// - ties: pruned graph edges
// - shares: the filtered input with the coordination flag

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	source TEXT,
	started_at TIMESTAMP NOT NULL,
	strategy TEXT NOT NULL,
	interval_seconds REAL NOT NULL,
	estimated INTEGER NOT NULL,
	threshold REAL NOT NULL,
	events INTEGER NOT NULL,
	shares INTEGER NOT NULL,
	coordinated_shares INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	account_id TEXT NOT NULL,
	shares INTEGER NOT NULL,
	coord_shares INTEGER NOT NULL,
	avg_subscriber_count REAL NOT NULL,
	platform TEXT,
	display_name TEXT,
	handle TEXT,
	top_country TEXT,
	verified INTEGER NOT NULL,
	account_type TEXT,
	name_changed INTEGER NOT NULL,
	handle_changed INTEGER NOT NULL,
	country_changed INTEGER NOT NULL,
	degree INTEGER NOT NULL,
	strength REAL NOT NULL,
	component_id INTEGER NOT NULL,
	cluster_id INTEGER NOT NULL,
	PRIMARY KEY (run_id, account_id)
);

CREATE TABLE IF NOT EXISTS ties (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	weight REAL NOT NULL,
	timestamps TEXT,
	PRIMARY KEY (run_id, source, target)
);

CREATE TABLE IF NOT EXISTS shares (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	id TEXT NOT NULL,
	date TIMESTAMP NOT NULL,
	expanded_url TEXT NOT NULL,
	account_id TEXT NOT NULL,
	is_orig INTEGER NOT NULL,
	is_coordinated INTEGER NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE INDEX IF NOT EXISTS idx_shares_url ON shares(run_id, expanded_url);
CREATE INDEX IF NOT EXISTS idx_accounts_component ON accounts(run_id, component_id);
`

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunID             string    `json:"run_id"`
	Source            string    `json:"source,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	Strategy          string    `json:"strategy"`
	IntervalSeconds   float64   `json:"interval_seconds"`
	Estimated         bool      `json:"estimated"`
	Threshold         float64   `json:"threshold"`
	Events            int       `json:"events"`
	Shares            int       `json:"shares"`
	CoordinatedShares int       `json:"coordinated_shares"`
}

// Store is a SQLite export database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path, creating parent directories.
func Open(path string) (*Store, error) {
	if err := storage.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps the foreign_keys pragma in effect for every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes a result in one transaction. source names the input file.
func (s *Store) SaveRun(res *detect.Result, source string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs
		(run_id, source, started_at, strategy, interval_seconds, estimated,
		 threshold, events, shares, coordinated_shares)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.RunID, source, res.StartedAt.UTC(), res.Strategy.String(), res.Interval, res.Estimated,
		res.Threshold, len(res.Events), len(res.Shares), res.CoordinatedShares(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if err := insertAccounts(tx, res.RunID, res.Graph.Accounts()); err != nil {
		return err
	}
	if err := insertTies(tx, res.RunID, res.Graph.Ties()); err != nil {
		return err
	}
	if err := insertShares(tx, res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

func insertAccounts(tx *sql.Tx, runID string, accounts []coordgraph.Account) error {
	stmt, err := tx.Prepare(`
		INSERT INTO accounts
		(run_id, account_id, shares, coord_shares, avg_subscriber_count, platform,
		 display_name, handle, top_country, verified, account_type, name_changed,
		 handle_changed, country_changed, degree, strength, component_id, cluster_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare accounts: %w", err)
	}
	defer stmt.Close()

	for _, a := range accounts {
		_, err := stmt.Exec(
			runID, a.ID, a.Shares, a.CoordShares, a.AvgSubscriberCount, a.Platform,
			a.DisplayName, a.Handle, a.TopCountry, a.Verified, a.AccountType, a.NameChanged,
			a.HandleChanged, a.CountryChanged, a.Degree, a.Strength, a.ComponentID, a.ClusterID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert account %s: %w", a.ID, err)
		}
	}
	return nil
}

func insertTies(tx *sql.Tx, runID string, ties []coordgraph.Tie) error {
	stmt, err := tx.Prepare(`
		INSERT INTO ties (run_id, source, target, weight, timestamps)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare ties: %w", err)
	}
	defer stmt.Close()

	for _, t := range ties {
		var stamps any
		if len(t.Timestamps) > 0 {
			unix := make([]int64, len(t.Timestamps))
			for i, ts := range t.Timestamps {
				unix[i] = ts.Unix()
			}
			data, err := json.Marshal(unix)
			if err != nil {
				return fmt.Errorf("failed to encode timestamps: %w", err)
			}
			stamps = string(data)
		}
		if _, err := stmt.Exec(runID, t.Source, t.Target, t.Weight, stamps); err != nil {
			return fmt.Errorf("failed to insert tie %s-%s: %w", t.Source, t.Target, err)
		}
	}
	return nil
}

func insertShares(tx *sql.Tx, res *detect.Result) error {
	stmt, err := tx.Prepare(`
		INSERT INTO shares (run_id, id, date, expanded_url, account_id, is_orig, is_coordinated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare shares: %w", err)
	}
	defer stmt.Close()

	for _, sh := range res.Shares {
		if _, err := stmt.Exec(res.RunID, sh.ID, sh.Date.UTC(), sh.ExpandedURL, sh.AccountID, sh.IsOrig, sh.IsCoordinated); err != nil {
			return fmt.Errorf("failed to insert share %s: %w", sh.ID, err)
		}
	}
	return nil
}

// Runs lists stored runs, newest first.
func (s *Store) Runs() ([]RunRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, source, started_at, strategy, interval_seconds, estimated,
		       threshold, events, shares, coordinated_shares
		FROM runs ORDER BY started_at DESC, run_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var source sql.NullString
		if err := rows.Scan(&r.RunID, &source, &r.StartedAt, &r.Strategy, &r.IntervalSeconds,
			&r.Estimated, &r.Threshold, &r.Events, &r.Shares, &r.CoordinatedShares); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Source = source.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Accounts returns the stored vertices of a run ordered by component, then id.
func (s *Store) Accounts(runID string) ([]coordgraph.Account, error) {
	rows, err := s.db.Query(`
		SELECT account_id, shares, coord_shares, avg_subscriber_count, platform,
		       display_name, handle, top_country, verified, account_type, name_changed,
		       handle_changed, country_changed, degree, strength, component_id, cluster_id
		FROM accounts WHERE run_id = ? ORDER BY component_id, account_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []coordgraph.Account
	for rows.Next() {
		var a coordgraph.Account
		var platform, name, handle, country, kind sql.NullString
		if err := rows.Scan(&a.ID, &a.Shares, &a.CoordShares, &a.AvgSubscriberCount, &platform,
			&name, &handle, &country, &a.Verified, &kind, &a.NameChanged,
			&a.HandleChanged, &a.CountryChanged, &a.Degree, &a.Strength, &a.ComponentID, &a.ClusterID); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Platform, a.DisplayName, a.Handle = platform.String, name.String, handle.String
		a.TopCountry, a.AccountType = country.String, kind.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// Ties returns the stored edges of a run.
func (s *Store) Ties(runID string) ([]coordgraph.Tie, error) {
	rows, err := s.db.Query(`
		SELECT source, target, weight, timestamps
		FROM ties WHERE run_id = ? ORDER BY source, target
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ties: %w", err)
	}
	defer rows.Close()

	var out []coordgraph.Tie
	for rows.Next() {
		var t coordgraph.Tie
		var stamps sql.NullString
		if err := rows.Scan(&t.Source, &t.Target, &t.Weight, &stamps); err != nil {
			return nil, fmt.Errorf("failed to scan tie: %w", err)
		}
		if stamps.Valid {
			var unix []int64
			if err := json.Unmarshal([]byte(stamps.String), &unix); err != nil {
				return nil, fmt.Errorf("failed to decode timestamps: %w", err)
			}
			for _, u := range unix {
				t.Timestamps = append(t.Timestamps, time.Unix(u, 0).UTC())
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CoordinatedURLs returns the distinct URLs with at least one coordinated share in a run.
func (s *Store) CoordinatedURLs(runID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT expanded_url FROM shares
		WHERE run_id = ? AND is_coordinated = 1 ORDER BY expanded_url
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and, through the foreign keys, its rows.
func (s *Store) DeleteRun(runID string) error {
	_, err := s.db.Exec("DELETE FROM runs WHERE run_id = ?", runID)
	return err
}
