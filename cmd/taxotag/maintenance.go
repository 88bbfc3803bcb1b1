package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run maintenance tasks",
}

// maintenanceRunCmd executes every maintenance task immediately, outside the
// configured window.
var maintenanceRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all maintenance tasks now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		scheduler, err := newMaintenanceScheduler(cfg)
		if err != nil {
			return err
		}

		if err := scheduler.RunNow(cmd.Context()); err != nil {
			return err
		}

		for name, status := range scheduler.GetStatus() {
			outcome := "ok"
			if !status.LastResult.Success {
				outcome = fmt.Sprintf("failed: %v", status.LastResult.Error)
			}
			fmt.Printf("%s: %s (%s)\n", name, status.LastResult.Message, outcome)
		}
		return nil
	},
}

func init() {
	maintenanceCmd.AddCommand(maintenanceRunCmd)
	rootCmd.AddCommand(maintenanceCmd)
}
