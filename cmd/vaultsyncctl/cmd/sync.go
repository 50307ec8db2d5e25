package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var payloadFile string

var pushCmd = &cobra.Command{
	Use:   "push <gist|driveA|driveB>",
	Short: "Encrypt and upload the local payload file to a connected provider",
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

		eng.RegisterPayloadProvider(newFilePayload(payloadFile))
		result, err := eng.Push(ctx, args[0])
		if err != nil {
			return err
		}
		if result.Conflict != nil {
			c := result.Conflict
			fmt.Printf("conflict on %s: local v%d@%d vs remote v%d@%d (remote device %q)\n",
				c.Provider, c.LocalVersion, c.LocalUpdatedAt, c.RemoteVersion, c.RemoteUpdatedAt, c.RemoteDeviceName)
			fmt.Println("run: vaultsyncctl resolve", args[0], "use-remote|use-local")
			return nil
		}
		if result.Pushed {
			fmt.Println("pushed:", args[0])
		} else {
			fmt.Println("already in sync:", args[0])
		}
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull <gist|driveA|driveB>",
	Short: "Download and decrypt a provider's remote file into the local payload file",
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

		eng.RegisterPayloadProvider(newFilePayload(payloadFile))
		result, err := eng.Pull(ctx, args[0])
		if err != nil {
			return err
		}
		if result.Applied {
			fmt.Println("pulled and applied:", args[0])
		} else {
			fmt.Println("nothing to pull:", args[0])
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{pushCmd, pullCmd} {
		c.Flags().StringVar(&payloadFile, "payload-file", "vault.json", "local plaintext payload file")
	}
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
}
