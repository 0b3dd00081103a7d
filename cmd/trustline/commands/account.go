package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"trustline/internal/app"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and store them securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return errNoPassphrase
			}
			ids, err := app.Identity(cfg)
			if err != nil {
				return err
			}
			acct, fp, err := ids.GenerateIdentity(passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created.\nIdentity:    %s\nDevice:      %s\nFingerprint: %s\n",
				acct.ID().Hex(), acct.Device, fp)
			return nil
		},
	}
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print identity fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return errNoPassphrase
			}
			ids, err := app.Identity(cfg)
			if err != nil {
				return err
			}
			acct, err := ids.LoadIdentity(passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity:    %s\nFingerprint: %s\n", acct.ID().Hex(), acct.ID().Fingerprint())
			return nil
		},
	}
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Register this device and publish its signed pre-key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.PreKeys.Publish(ctx, a.Account); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Published pre-key to relay")
				return nil
			})
		},
	}
}
