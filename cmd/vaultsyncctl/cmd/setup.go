package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup <password>",
	Short: "Create the master-key config and unlock the vault",
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

		if err := eng.SetupMasterKey(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("vault unlocked: security state is now", eng.GetState().Security)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
