package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultsync/enginecore/internal/provider"
)

var connectRedirectURI string

var connectCmd = &cobra.Command{
	Use:   "connect <gist|driveA|driveB>",
	Short: "Start a provider's OAuth flow",
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

		start, err := eng.StartProviderAuth(ctx, args[0], provider.AuthOptions{RedirectURI: connectRedirectURI})
		if err != nil {
			return err
		}
		switch {
		case start.DeviceCode != nil:
			dc := start.DeviceCode
			fmt.Printf("visit %s and enter code %s\n", dc.VerificationURI, dc.UserCode)
			fmt.Printf("then run: vaultsyncctl complete-auth %s --device-code %s\n", args[0], dc.UserCode)
		case start.Pkce != nil:
			pk := start.Pkce
			fmt.Printf("visit %s\n", pk.AuthURL)
			fmt.Printf("then run: vaultsyncctl complete-auth %s --code <code> --redirect-uri %s\n", args[0], pk.RedirectURI)
		}
		return nil
	},
}

var (
	completeDeviceCode string
	completeCode       string
)

var completeAuthCmd = &cobra.Command{
	Use:   "complete-auth <gist|driveA|driveB>",
	Short: "Finish a provider's OAuth flow and initialize its sync container",
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

		evidence := provider.AuthEvidence{
			DeviceCode:  completeDeviceCode,
			Code:        completeCode,
			RedirectURI: connectRedirectURI,
		}
		if err := eng.CompleteProviderAuth(ctx, args[0], evidence); err != nil {
			return err
		}
		fmt.Println("connected:", args[0])
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <gist|driveA|driveB>",
	Short: "Sign out of a provider and clear its stored tokens",
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

		if err := eng.Disconnect(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("disconnected:", args[0])
		return nil
	},
}

func init() {
	connectCmd.Flags().StringVar(&connectRedirectURI, "redirect-uri", "http://127.0.0.1:8723/oauth/callback", "PKCE redirect URI (ignored by device-flow providers)")
	completeAuthCmd.Flags().StringVar(&completeDeviceCode, "device-code", "", "device code from connect (device-flow providers)")
	completeAuthCmd.Flags().StringVar(&completeCode, "code", "", "authorization code from the redirect (PKCE providers)")
	completeAuthCmd.Flags().StringVar(&connectRedirectURI, "redirect-uri", "http://127.0.0.1:8723/oauth/callback", "PKCE redirect URI used in connect")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(completeAuthCmd)
	rootCmd.AddCommand(disconnectCmd)
}
