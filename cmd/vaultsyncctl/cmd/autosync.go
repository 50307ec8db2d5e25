package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var autoSyncCmd = &cobra.Command{
	Use:   "auto-sync <minutes>",
	Short: "Set the auto-sync interval in minutes, 0 disables it (clamped to [1, 1440])",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("vaultsyncctl: minutes must be an integer: %w", err)
		}

		ctx := cmd.Context()
		cfg, err := loadEngineConfig()
		if err != nil {
			return err
		}
		eng, closeStore, err := openEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		eng.SetAutoSync(minutes)
		fmt.Println("auto-sync interval:", eng.GetState().AutoSync)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(autoSyncCmd)
}
