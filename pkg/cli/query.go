package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/api"
)

type windowFlags struct {
	from string
	to   string
}

func (f *windowFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "Window start (YYYY-MM-DD or RFC 3339, default 30 days ago)")
	cmd.Flags().StringVar(&f.to, "to", "", "Window end (default now)")
}

func newHeatmapCommand(opts *rootOptions) *cobra.Command {
	var window windowFlags
	cmd := &cobra.Command{
		Use:   "heatmap",
		Short: "Show the heat map for the application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDate(window.from)
			if err != nil {
				return err
			}
			end, err := parseDate(window.to)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.GetHeatMap(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), resp, func(w io.Writer) error {
				return writeHeatMap(w, resp)
			})
		},
	}
	window.bind(cmd)
	return cmd
}

func writeHeatMap(out io.Writer, resp *api.HeatMapResponse) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tCATEGORY\tHEAT\tACCESSES\tUSERS\tAVG MIN\tLAST ACCESS")
	for _, m := range resp.Modules {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.1f\t%s\n",
			m.ModuleName, m.Category, m.HeatScore, m.TotalAccesses, m.UniqueUsers,
			m.AverageSessionMinutes, formatTime(m.LastAccess))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	s := resp.Summary
	_, err := fmt.Fprintf(out, "\n%d modules (%d active, %d unused), %d accesses by %d users\n",
		s.TotalModules, s.ActiveModules, s.UnusedModules, s.TotalAccesses, s.TotalUniqueUsers)
	if err == nil && s.MostUsedModule != "" {
		_, err = fmt.Fprintf(out, "most used: %s, least used: %s\n", s.MostUsedModule, s.LeastUsedModule)
	}
	return err
}

func newModuleCommand(opts *rootOptions) *cobra.Command {
	var window windowFlags
	cmd := &cobra.Command{
		Use:   "module <name>",
		Short: "Show access metrics for one module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDate(window.from)
			if err != nil {
				return err
			}
			end, err := parseDate(window.to)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.GetModuleAnalytics(cmd.Context(), args[0], start, end)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), resp, func(w io.Writer) error {
				return writeModule(w, resp)
			})
		},
	}
	window.bind(cmd)
	return cmd
}

func writeModule(out io.Writer, resp *api.ModuleAnalyticsResponse) error {
	m := resp.Metrics
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Module:\t%s\n", resp.ModuleName)
	fmt.Fprintf(w, "Period:\t%s to %s\n",
		resp.Period.StartDate.UTC().Format("2006-01-02"), resp.Period.EndDate.UTC().Format("2006-01-02"))
	fmt.Fprintf(w, "Accesses:\t%d\n", m.TotalAccesses)
	fmt.Fprintf(w, "Unique users:\t%d\n", m.UniqueUsers)
	fmt.Fprintf(w, "Avg session:\t%.1f min\n", m.AverageSessionMinutes)
	fmt.Fprintf(w, "Frequency:\t%.2f/day\n", m.AccessFrequency)
	fmt.Fprintf(w, "First access:\t%s\n", formatTime(m.FirstAccess))
	fmt.Fprintf(w, "Last access:\t%s\n", formatTime(m.LastAccess))
	for _, t := range analytics.AccessTypes() {
		if n := m.AccessTypeDistribution[t.String()]; n > 0 {
			fmt.Fprintf(w, "  %s:\t%d\n", t, n)
		}
	}
	return w.Flush()
}

func newUnusedCommand(opts *rootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "unused",
		Short: "List modules not accessed recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.GetUnusedModules(cmd.Context(), days)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), resp, func(w io.Writer) error {
				if resp.Count == 0 {
					_, err := fmt.Fprintf(w, "no modules unused for %d days\n", resp.DaysSinceLastAccess)
					return err
				}
				fmt.Fprintf(w, "%d modules unused for %d days:\n", resp.Count, resp.DaysSinceLastAccess)
				for _, name := range resp.UnusedModules {
					fmt.Fprintf(w, "  %s\n", name)
				}
				return writeRecommendations(w, resp.Recommendations)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", analytics.DefaultUnusedDays, "Days without access")
	return cmd
}

func newTopUsersCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "top-users <module>",
		Short: "Rank the heaviest users of a module over the last 30 days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.GetTopUsers(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), resp, func(out io.Writer) error {
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "RANK\tUSER")
				for i, user := range resp.TopUsers {
					fmt.Fprintf(w, "%d\t%s\n", i+1, user)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				return writeRecommendations(out, resp.Recommendations)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", analytics.DefaultTopUsersLimit, "Number of users")
	return cmd
}

func writeRecommendations(w io.Writer, recs []string) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := fmt.Fprintf(w, "\nrecommendations:\n  - %s\n", strings.Join(recs, "\n  - "))
	return err
}
