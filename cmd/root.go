package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geohealth-lab/tractindex/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tractindex",
	Short: "Composite deprivation index server for census tracts",
	Long:  "Loads tract-level geospatial and visitation data, computes weighted activity and residential deprivation indices on demand, and serves the result as map-ready GeoJSON.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
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
