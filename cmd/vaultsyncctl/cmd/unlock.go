package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <password>",
	Short: "Unlock a vault that already has a master-key config",
	Args:  cobra.ExactArgs(1),
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

		if err := eng.Unlock(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("vault unlocked: security state is now", eng.GetState().Security)
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Zeroize the in-memory key and stop auto-sync",
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

		eng.Lock()
		fmt.Println("vault locked: security state is now", eng.GetState().Security)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(lockCmd)
}
