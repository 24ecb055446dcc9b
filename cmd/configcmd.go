package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/leadstorm/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect runtime settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective runtime settings with the API key masked",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		live, err := config.NewLiveProvider(ctx, cfg.Settings(), st)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(settingsView(live.Current()))
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
