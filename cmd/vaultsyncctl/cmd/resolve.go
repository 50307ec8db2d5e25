package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultsync/enginecore/internal/conflict"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <gist|driveA|driveB> <use-remote|use-local>",
	Short: "Resolve a detected conflict",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var choice conflict.Choice
		switch args[1] {
		case "use-remote":
			choice = conflict.UseRemote
		case "use-local":
			choice = conflict.UseLocal
		default:
			return fmt.Errorf("vaultsyncctl: choice must be use-remote or use-local, got %q", args[1])
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

		eng.RegisterPayloadProvider(newFilePayload(payloadFile))
		if _, err := eng.ResolveConflict(ctx, args[0], choice); err != nil {
			return err
		}
		if choice == conflict.UseRemote {
			fmt.Println("adopted remote copy into", payloadFile)
		} else {
			fmt.Println("conflict cleared; re-run push to overwrite the remote copy")
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&payloadFile, "payload-file", "vault.json", "local plaintext payload file")
	rootCmd.AddCommand(resolveCmd)
}
