package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/adalundhe/coornet/core/export"
	"github.com/adalundhe/coornet/core/stats"
	"github.com/spf13/cobra"
)

var (
	statsFlags   pipelineFlags
	statsOrderBy string
	statsTop     int
	statsOut     string
	statsSave    bool
)

var statsCmd = &cobra.Command{
	Use:   "stats <shares>",
	Short: "Summarize coordinated components and URLs",
	Long: `Run detection and summarize the result: one row per connected component of
the coordinated network and the most engaged coordinated URLs.

Examples:
  coornet stats shares.csv --interval 60
  coornet stats shares.csv --order-by likes --top 20 --out stats.json`,
	Args: cobra.ExactArgs(1),
	RunE: runStats,
}

func init() {
	statsFlags.registerDetect(statsCmd)
	flags := statsCmd.Flags()
	flags.StringVar(&statsOrderBy, "order-by", stats.DefaultOrderBy, "URL ordering: count, engagement or an engagement counter")
	flags.IntVar(&statsTop, "top", stats.DefaultTop, "Number of URLs to report (0 for all)")
	flags.StringVarP(&statsOut, "out", "o", "", "Write the JSON report to this file")
	flags.BoolVar(&statsSave, "save-report", false, "Keep the JSON report in the data directory under the run id")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	orderBy, top := appConfig.Stats.OrderBy, appConfig.Stats.Top
	if cmd.Flags().Changed("order-by") {
		orderBy = statsOrderBy
	}
	if cmd.Flags().Changed("top") {
		top = statsTop
	}
	if err := stats.CheckOrderBy(orderBy); err != nil {
		return err
	}

	res, _, err := runPipeline(cmd, &statsFlags, args[0])
	if err != nil {
		return err
	}

	components := stats.Components(res.Shares, res.Graph)
	urls, err := stats.TopURLs(res.Shares, res.Graph, orderBy, top)
	if err != nil {
		return err
	}

	p := newPrinter(cmd.OutOrStdout())
	printResult(p, res, 0)
	if res.Found() {
		printComponents(p, components)
		printURLs(p, urls, orderBy)
	}

	if statsOut != "" || statsSave {
		report := export.NewReport(res, args[0])
		report.Components = components
		report.TopURLs = urls
		for _, path := range reportPaths(statsOut, statsSave, res.RunID) {
			if err := report.WriteFile(path); err != nil {
				return err
			}
			p.field("report", "%s", path)
		}
	}
	return nil
}

func printComponents(p *printer, components []stats.ComponentSummary) {
	fmt.Fprintln(p.w)
	p.heading("Components")
	tw := p.table()
	fmt.Fprintln(tw, "ID\tACCOUNTS\tSHARE RATIO\tSCORE\tDOMAINS\tGINI\tTOP DOMAINS\tTYPES")
	for _, c := range components {
		fmt.Fprintf(tw, "%d\t%d\t%.3f\t%.3f\t%d\t%.3f\t%s\t%s\n",
			c.ComponentID, c.Entities, c.CoordShareRatioAvg, c.CoordScoreAvg,
			c.UniqueFullDomains, c.GiniFullDomain,
			strings.Join(c.TopFullDomains, ","), formatCounts(c.AccountTypes))
	}
	tw.Flush()
}

func printURLs(p *printer, urls []stats.URLSummary, orderBy string) {
	fmt.Fprintln(p.w)
	p.heading(fmt.Sprintf("Top URLs by %s", orderBy))
	tw := p.table()
	fmt.Fprintln(tw, "URL\tSHARES\tENGAGEMENT\tCOORDINATED\tCOMPONENTS")
	for _, u := range urls {
		comps := make([]string, len(u.Components))
		for i, c := range u.Components {
			comps[i] = fmt.Sprint(c)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d/%d\t%s\n",
			u.URL, u.Count, u.Total, len(u.CoordAccounts), len(u.Accounts), strings.Join(comps, ","))
	}
	tw.Flush()
}

func formatCounts(m map[string]int) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}
