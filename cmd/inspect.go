package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Load the source tables and print a dataset summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("inspect"); err != nil {
			return err
		}

		svc, err := loadService(cmd.Context(), cfg.Data)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(svc.Stats())
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
