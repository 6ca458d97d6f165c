// This file contains tests for the coornet commands.
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adalundhe/coornet/core/config"
	coreerrors "github.com/adalundhe/coornet/core/errors"
	"github.com/adalundhe/coornet/core/export"
	"github.com/adalundhe/coornet/core/watch"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	home, err := os.MkdirTemp("", "coornet-cmd")
	if err != nil {
		panic(err)
	}
	for _, env := range []string{"HOME", "XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
		os.Setenv(env, home)
	}
	code := m.Run()
	os.RemoveAll(home)
	os.Exit(code)
}

// sharesCSV has one coordinated URL (A, B and C within two seconds) and one
// URL shared thirty seconds apart.
const sharesCSV = `id,date,expanded_url,account_id,account_name,account_accountType,likes
1,2021-11-02 15:00:00,https://news.example.com/a,A,Alpha,page,10
2,2021-11-02 15:00:01,https://news.example.com/a,B,Beta,page,5
3,2021-11-02 15:00:02,https://news.example.com/a,C,Gamma,group,1
4,2021-11-02 15:00:50,https://other.example.org/b,D,Delta,page,0
5,2021-11-02 15:01:20,https://other.example.org/b,E,Epsilon,page,0
`

func writeShares(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shares.csv")
	require.NoError(t, os.WriteFile(path, []byte(sharesCSV), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append(args, "--project", t.TempDir()))
	err := rootCmd.Execute()
	return out.String(), err
}

// =============================================================================
// Command Definition Tests
// =============================================================================

func TestCommands_Definition(t *testing.T) {
	t.Run("subcommands are registered", func(t *testing.T) {
		names := make(map[string]bool)
		for _, c := range rootCmd.Commands() {
			names[c.Name()] = true
		}
		for _, name := range []string{"estimate", "detect", "stats", "runs", "watch"} {
			assert.True(t, names[name], name)
		}
	})

	t.Run("detect flags", func(t *testing.T) {
		flags := detectCmd.Flags()
		for _, name := range []string{"interval", "q", "p", "strategy", "mark-mode", "percentile",
			"keep-original-only", "canonicalize", "timestamps", "seed", "workers", "sqlite", "include-shares"} {
			assert.NotNil(t, flags.Lookup(name), name)
		}
		out := flags.Lookup("out")
		require.NotNil(t, out)
		assert.Equal(t, "o", out.Shorthand)
		assert.Equal(t, "fixed_bin", flags.Lookup("strategy").DefValue)
		assert.Equal(t, "90", flags.Lookup("percentile").DefValue)
	})

	t.Run("estimate has no graph flags", func(t *testing.T) {
		assert.Nil(t, estimateCmd.Flags().Lookup("percentile"))
		assert.NotNil(t, estimateCmd.Flags().Lookup("json"))
	})

	t.Run("argument counts", func(t *testing.T) {
		assert.Error(t, cobra.ExactArgs(1)(detectCmd, []string{}))
		assert.NoError(t, cobra.ExactArgs(1)(detectCmd, []string{"shares.csv"}))
		assert.Error(t, runsCmd.Args(runsCmd, []string{"extra"}))
	})
}

// =============================================================================
// Flag Override Tests
// =============================================================================

func TestPipelineFlags_Apply(t *testing.T) {
	newCmd := func(t *testing.T, args ...string) (*cobra.Command, *pipelineFlags) {
		t.Helper()
		var f pipelineFlags
		c := &cobra.Command{Use: "test"}
		f.registerDetect(c)
		require.NoError(t, c.ParseFlags(args))
		return c, &f
	}

	t.Run("only changed flags override", func(t *testing.T) {
		c, f := newCmd(t, "--interval", "30", "--strategy", "gap_chain")
		cfg := config.DefaultConfig()
		cfg.Graph.Percentile = 50

		require.NoError(t, f.apply(c, cfg))
		assert.Equal(t, 30.0, cfg.Interval.Seconds)
		assert.Equal(t, "gap_chain", cfg.Detect.Strategy)
		assert.Equal(t, 50.0, cfg.Graph.Percentile)
	})

	t.Run("booleans", func(t *testing.T) {
		c, f := newCmd(t, "--canonicalize", "--timestamps", "--keep-original-only")
		cfg := config.DefaultConfig()
		require.NoError(t, f.apply(c, cfg))
		assert.True(t, cfg.URLs.Canonicalize)
		assert.True(t, cfg.Graph.WithTimestamps)
		assert.True(t, cfg.Detect.KeepOriginalOnly)
	})

	t.Run("zero interval restores estimation", func(t *testing.T) {
		c, f := newCmd(t, "--interval", "0")
		cfg := config.DefaultConfig()
		cfg.Interval.Seconds = 60
		require.NoError(t, f.apply(c, cfg))
		assert.Zero(t, cfg.Interval.Seconds)
	})

	t.Run("rejects negative interval", func(t *testing.T) {
		c, f := newCmd(t, "--interval=-5")
		err := f.apply(c, config.DefaultConfig())
		assert.True(t, coreerrors.IsInvalidParameter(err))
	})

	t.Run("rejects unknown strategy", func(t *testing.T) {
		c, f := newCmd(t, "--strategy", "sliding")
		assert.Error(t, f.apply(c, config.DefaultConfig()))
	})

	t.Run("rejects q outside (0,1)", func(t *testing.T) {
		c, f := newCmd(t, "--q", "1.5")
		assert.Error(t, f.apply(c, config.DefaultConfig()))
	})
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 2, ExitCode(coreerrors.InvalidParameter("op", "q", "bad")))
	assert.Equal(t, 3, ExitCode(coreerrors.Schema("op", "id", "missing")))
	assert.Equal(t, 4, ExitCode(fmt.Errorf("wrapped: %w", coreerrors.InsufficientData("op", "none"))))
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "-", formatCounts(nil))
	assert.Equal(t, "group=1 page=2", formatCounts(map[string]int{"page": 2, "group": 1}))
}

// =============================================================================
// End-to-end Tests
// =============================================================================

func TestEstimateCommand(t *testing.T) {
	out, err := execute(t, "estimate", writeShares(t), "--json")
	require.NoError(t, err)

	var doc struct {
		IntervalSeconds float64                `json:"interval_seconds"`
		Summary         export.IntervalSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, 1.0, doc.IntervalSeconds)
	assert.Equal(t, 1, doc.Summary.Count)
	assert.Nil(t, doc.Summary.StdDev)
}

func TestDetectCommand(t *testing.T) {
	dir := t.TempDir()
	report := filepath.Join(dir, "report.json")
	db := filepath.Join(dir, "runs.db")

	out, err := execute(t, "detect", writeShares(t),
		"--interval", "10", "--percentile", "0",
		"--out", report, "--sqlite", db, "--include-shares")
	require.NoError(t, err)
	assert.Contains(t, out, "Coordinated link sharing")
	assert.Contains(t, out, "3 of 5")
	assert.Contains(t, out, "https://news.example.com/a")

	r, err := export.ReadReport(report)
	require.NoError(t, err)
	assert.True(t, r.Found)
	assert.Equal(t, 10.0, r.IntervalSeconds)
	assert.Len(t, r.Accounts, 3)
	assert.Len(t, r.Ties, 3)
	assert.Len(t, r.Shares, 5)

	t.Run("runs lists the saved run", func(t *testing.T) {
		out, err := execute(t, "runs", "--db", db, "--json")
		require.NoError(t, err)
		var runs []export.RunRecord
		require.NoError(t, json.Unmarshal([]byte(out), &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, r.RunID, runs[0].RunID)
		assert.Equal(t, 3, runs[0].CoordinatedShares)
	})

	t.Run("runs show prints accounts", func(t *testing.T) {
		out, err := execute(t, "runs", "show", r.RunID, "--db", db, "--json=false")
		require.NoError(t, err)
		assert.Contains(t, out, "Alpha")
		assert.Contains(t, out, "https://news.example.com/a")
	})

	t.Run("runs show unknown run", func(t *testing.T) {
		_, err := execute(t, "runs", "show", "missing", "--db", db)
		assert.Error(t, err)
	})
}

func TestStatsCommand(t *testing.T) {
	report := filepath.Join(t.TempDir(), "stats.json")
	out, err := execute(t, "stats", writeShares(t),
		"--interval", "10", "--percentile", "0", "--order-by", "likes", "--out", report, "--save-report")
	require.NoError(t, err)
	assert.Contains(t, out, "Components")
	assert.Contains(t, out, "Top URLs by likes")

	r, err := export.ReadReport(report)
	require.NoError(t, err)
	require.Len(t, r.Components, 1)
	assert.Equal(t, 3, r.Components[0].Entities)
	assert.Equal(t, map[string]int{"page": 2, "group": 1}, r.Components[0].AccountTypes)
	require.Len(t, r.TopURLs, 1)
	assert.Equal(t, "https://news.example.com/a", r.TopURLs[0].URL)
	assert.Equal(t, int64(16), r.TopURLs[0].Total)
	assert.Empty(t, r.Shares)

	saved, err := export.ReadReport(appDirs.RunReport(r.RunID))
	require.NoError(t, err)
	assert.Equal(t, r.RunID, saved.RunID)
}

func TestStatsCommand_UnknownOrderBy(t *testing.T) {
	// The ordering is checked before the share table is read.
	_, err := execute(t, "stats", filepath.Join(t.TempDir(), "nope.csv"), "--order-by", "reactions")
	require.Error(t, err)
	assert.True(t, coreerrors.IsInvalidParameter(err))
}

func TestDetectCommand_MissingFile(t *testing.T) {
	_, err := execute(t, "detect", filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to load shares"))
}

func TestWatchLoop_ReportsFailedRun(t *testing.T) {
	appConfig = config.DefaultConfig()
	appLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

	path := filepath.Join(t.TempDir(), "shares.csv")
	require.NoError(t, os.WriteFile(path, []byte("id\n1\n"), 0644))
	w, err := watch.New(path, 10*time.Millisecond)
	require.NoError(t, err)

	var out bytes.Buffer
	c := &cobra.Command{Use: "watch"}
	c.SetOut(&out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, watchLoop(ctx, c, w, path))
	assert.Contains(t, out.String(), "detection failed")
	assert.Contains(t, out.String(), "watching "+w.Path())
}
