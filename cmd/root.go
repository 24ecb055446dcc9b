package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadstorm/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "leadstorm",
	Short: "Business contact lead collection",
	Long:  "Discovers businesses for a city and keyword through Google Places, visits each website for a contact email, and stores the results as leads.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal outside development.
		_ = godotenv.Load()

		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
