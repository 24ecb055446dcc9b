package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadstorm/internal/model"
	"github.com/sells-group/leadstorm/internal/runner"
)

var (
	runCity     string
	runKeyword  string
	runMaxLeads int
	runJSON     bool
)

// errLocked is returned when another scheduled run holds the lock file.
var errLocked = eris.New("another run is in progress")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one lead collection to completion",
	Long:  "Runs discovery and contact extraction for a city and keyword in the foreground. Intended for cron and other schedulers; a lock file keeps scheduled runs from overlapping.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		lock := flock.New(cfg.Lock.Path)
		locked, err := lock.TryLock()
		if err != nil {
			return eris.Wrap(err, "acquire run lock")
		}
		if !locked {
			return eris.Wrapf(errLocked, "lock %s", cfg.Lock.Path)
		}
		defer lock.Unlock() //nolint:errcheck

		env, err := initApp(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		city, keyword := runCity, runKeyword
		if cur := env.Settings.Current(); city == "" && keyword == "" {
			city, keyword = cur.DefaultCity, cur.DefaultKeyword
		}

		run, err := env.Coordinator.RunAndWait(ctx, runner.StartRequest{
			City:     city,
			Keyword:  keyword,
			MaxLeads: runMaxLeads,
		})
		if err != nil && !errors.Is(err, runner.ErrRunFailed) {
			return err
		}

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(run); encErr != nil {
				return encErr
			}
		} else {
			printRunSummary(run)
		}

		zap.L().Info("run finished",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
		)
		return err
	},
}

func printRunSummary(run *model.Run) {
	fmt.Printf("Run %s %s (%s in %s)\n", run.ID, run.Status, run.Keyword, run.City)
	fmt.Printf("  Added:      %d\n", run.LeadsAdded)
	fmt.Printf("  Duplicates: %d\n", run.Duplicates)
	fmt.Printf("  No email:   %d\n", run.NoEmail)
	if run.ErrorMessage != "" {
		fmt.Printf("  Error:      %s\n", run.ErrorMessage)
	}
}

func init() {
	runCmd.Flags().StringVar(&runCity, "city", "", "city to search (default from settings)")
	runCmd.Flags().StringVar(&runKeyword, "keyword", "", "business keyword (default from settings)")
	runCmd.Flags().IntVar(&runMaxLeads, "max-leads", 0, "stop after this many new leads (default: daily cap)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the final run as JSON")
	rootCmd.AddCommand(runCmd)
}
