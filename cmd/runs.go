package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadstorm/internal/config"
	"github.com/sells-group/leadstorm/internal/model"
	"github.com/sells-group/leadstorm/internal/monitoring"
	"github.com/sells-group/leadstorm/internal/runner"
	"github.com/sells-group/leadstorm/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect lead collection run history",
	Long:  "Commands for listing, viewing, stopping, and summarizing lead collection runs.",
}

// openStore validates config for CLI use and opens the store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("cli"); err != nil {
		return nil, err
	}
	return initStore(ctx)
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		city, _ := cmd.Flags().GetString("city")
		keyword, _ := cmd.Flags().GetString("keyword")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{
			Status:  model.RunStatus(status),
			City:    city,
			Keyword: keyword,
			Limit:   limit,
		}
		if filter.Status != "" && !filter.Status.Valid() {
			return eris.Errorf("unknown status %q", status)
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs stop --

var runsStopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Stop a running run",
	Long:  "Marks a running run stopped. A server executing the run sees the terminal status on its next progress write and ends the run there.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// Only the store is used for stopping; no discovery is wired.
		coord := runner.New(st, config.Static(cfg.Settings()), nil, nil, nil)
		run, err := coord.RequestStop(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs stop")
		}

		fmt.Printf("Run %s %s\n", run.ID, run.Status)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run and lead statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		var from time.Time
		if since > 0 {
			from = time.Now().Add(-since)
		}

		totals, err := st.RunTotals(ctx, from)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		dash, err := monitoring.NewCollector(st).Dashboard(ctx)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, totals, dash)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, completed, stopped, failed)")
	runsListCmd.Flags().String("city", "", "filter by city")
	runsListCmd.Flags().String("keyword", "", "filter by keyword")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for run counts (e.g. 24h, 168h); 0 for all time")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStopCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCITY\tKEYWORD\tSTATUS\tADDED\tDUPES\tNO_EMAIL\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----\t-------\t------\t-----\t-----\t--------\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			truncate(r.City, 20),
			truncate(r.Keyword, 20),
			r.Status,
			r.LeadsAdded,
			r.Duplicates,
			r.NoEmail,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, t model.RunTotals, d model.DashboardStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Runs in window:\t%d\n", t.Total)
	_, _ = fmt.Fprintf(w, "  Running:\t%d\n", t.Running)
	_, _ = fmt.Fprintf(w, "  Completed:\t%d\n", t.Completed)
	_, _ = fmt.Fprintf(w, "  Stopped:\t%d\n", t.Stopped)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", t.Failed)
	_, _ = fmt.Fprintf(w, "Leads added:\t%d\n", t.LeadsAdded)
	_, _ = fmt.Fprintf(w, "Duplicates:\t%d\n", t.Duplicates)
	_, _ = fmt.Fprintf(w, "No email:\t%d\n", t.NoEmail)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Total leads:\t%d\n", d.TotalLeads)
	_, _ = fmt.Fprintf(w, "Today's leads:\t%d\n", d.TodaysLeads)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", d.TotalRuns)
	_, _ = fmt.Fprintf(w, "Success rate:\t%d%%\n", d.SuccessRate)
	_, _ = fmt.Fprintf(w, "Avg leads/run:\t%d\n", d.AvgLeadsPerRun)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
