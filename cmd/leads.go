package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadstorm/internal/config"
	"github.com/sells-group/leadstorm/internal/export"
	"github.com/sells-group/leadstorm/internal/model"
	"github.com/sells-group/leadstorm/internal/runner"
	"github.com/sells-group/leadstorm/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List, export, and clear collected leads",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		city, _ := cmd.Flags().GetString("city")
		keyword, _ := cmd.Flags().GetString("keyword")
		limit, _ := cmd.Flags().GetInt("limit")

		leads, err := st.ListLeads(ctx, store.LeadFilter{City: city, Keyword: keyword, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "leads list")
		}
		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

// -- leads export --

var leadsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every lead as CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		formatFlag, _ := cmd.Flags().GetString("format")
		format, err := export.ParseFormat(formatFlag)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = format.Filename()
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		leads, err := st.ListLeads(ctx, store.LeadFilter{})
		if err != nil {
			return eris.Wrap(err, "leads export")
		}

		var w io.Writer = os.Stdout
		if output != "-" {
			f, err := os.Create(output)
			if err != nil {
				return eris.Wrap(err, "leads export: create file")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}

		if err := export.Write(w, format, leads); err != nil {
			return eris.Wrap(err, "leads export")
		}
		if output != "-" {
			fmt.Fprintf(os.Stderr, "Exported %d leads to %s\n", len(leads), output)
		}
		return nil
	},
}

// -- leads clear --

var leadsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every lead and run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return eris.New("refusing to clear history without --yes")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		coord := runner.New(st, config.Static(cfg.Settings()), nil, nil, nil)
		leads, runs, err := coord.ClearHistory(ctx)
		if err != nil {
			return eris.Wrap(err, "leads clear")
		}

		fmt.Printf("Deleted %d leads and %d runs\n", leads, runs)
		return nil
	},
}

func init() {
	leadsListCmd.Flags().String("city", "", "filter by city")
	leadsListCmd.Flags().String("keyword", "", "filter by keyword")
	leadsListCmd.Flags().Int("limit", 100, "max number of leads to display")

	leadsExportCmd.Flags().String("format", "csv", "export format (csv, xlsx)")
	leadsExportCmd.Flags().StringP("output", "o", "", "output file, - for stdout (default leadstorm_leads.<format>)")

	leadsClearCmd.Flags().Bool("yes", false, "confirm deletion")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsExportCmd)
	leadsCmd.AddCommand(leadsClearCmd)
	rootCmd.AddCommand(leadsCmd)
}

// formatLeadsList writes a tabular list of leads to w.
func formatLeadsList(out io.Writer, leads []model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tNAME\tEMAIL\tPHONE\tCITY\tKEYWORD")
	_, _ = fmt.Fprintln(w, "----\t----\t-----\t-----\t----\t-------")
	for _, l := range leads {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.CreatedAt.Format("2006-01-02"),
			truncate(l.Name, 30),
			l.Email,
			l.Phone,
			l.City,
			l.Keyword,
		)
	}
	_ = w.Flush()
}
