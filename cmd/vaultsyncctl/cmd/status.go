package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a snapshot of engine state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		snap := eng.GetState()
		fmt.Println("security:", snap.Security)
		if snap.AutoSync > 0 {
			fmt.Println("auto-sync:", snap.AutoSync)
		} else {
			fmt.Println("auto-sync: disabled")
		}
		for name, p := range snap.Providers {
			fmt.Printf("  %-8s connected=%-5v sync=%-8s account=%-16q last_sync_version=%d\n",
				name, p.Connected, p.SyncState, p.Account, p.LastSyncVersion)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the last 50 sync operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		for _, h := range eng.History() {
			fmt.Printf("%s  %-8s %-6s %-7s %s\n", h.Timestamp.Format("2006-01-02T15:04:05"), h.Provider, h.Action, h.Result, h.Detail)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
}
