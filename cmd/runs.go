package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/adalundhe/coornet/core/export"
	"github.com/spf13/cobra"
)

var (
	runsDB   string
	runsJSON bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List detection runs saved to SQLite",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the accounts and coordinated URLs of a saved run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a saved run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

func init() {
	runsCmd.PersistentFlags().StringVar(&runsDB, "db", "", "Run database (default: export.sqlite or the data directory)")
	runsCmd.PersistentFlags().BoolVar(&runsJSON, "json", false, "Print JSON")
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

func runsDBPath() string {
	if runsDB != "" {
		return runsDB
	}
	if appConfig.Export.SQLite != "" {
		return appConfig.Export.SQLite
	}
	return appDirs.RunsDB()
}

func openRuns() (*export.Store, error) {
	return export.Open(runsDBPath())
}

func runRuns(cmd *cobra.Command, args []string) error {
	store, err := openRuns()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Runs()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runsJSON {
		return writeJSON(out, runs)
	}

	p := newPrinter(out)
	if len(runs) == 0 {
		fmt.Fprintf(out, "No runs in %s\n", store.Path())
		return nil
	}
	tw := p.table()
	fmt.Fprintln(tw, "RUN\tSTARTED\tSOURCE\tSTRATEGY\tINTERVAL\tEVENTS\tCOORDINATED")
	for _, r := range runs {
		interval := fmt.Sprintf("%g", r.IntervalSeconds)
		if r.Estimated {
			interval += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d/%d\n",
			r.RunID, r.StartedAt.Local().Format(time.DateTime), r.Source, r.Strategy,
			interval, r.Events, r.CoordinatedShares, r.Shares)
	}
	return tw.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openRuns()
	if err != nil {
		return err
	}
	defer store.Close()

	runID := args[0]
	accounts, err := store.Accounts(runID)
	if err != nil {
		return err
	}
	urls, err := store.CoordinatedURLs(runID)
	if err != nil {
		return err
	}
	if len(accounts) == 0 && len(urls) == 0 {
		return fmt.Errorf("run %s has no saved coordination", runID)
	}

	out := cmd.OutOrStdout()
	if runsJSON {
		ties, err := store.Ties(runID)
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]any{
			"run_id":   runID,
			"accounts": accounts,
			"ties":     ties,
			"urls":     urls,
		})
	}

	p := newPrinter(out)
	p.heading("Run " + runID)
	tw := p.table()
	fmt.Fprintln(tw, "ACCOUNT\tNAME\tSHARES\tCOORDINATED\tCOMPONENT\tCLUSTER\tDEGREE")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			a.ID, a.DisplayName, a.Shares, a.CoordShares, a.ComponentID, a.ClusterID, a.Degree)
	}
	tw.Flush()

	fmt.Fprintln(out)
	p.heading("Coordinated URLs")
	for _, u := range urls {
		fmt.Fprintln(out, u)
	}
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	store, err := openRuns()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteRun(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
