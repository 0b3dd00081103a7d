package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trustline/internal/app"
	"trustline/internal/codec"
	"trustline/internal/crypto"
	"trustline/internal/protocol/backupkey"
	"trustline/internal/protocol/keycloak"
	"trustline/internal/protocol/photo"
	"trustline/internal/protocol/trust"
)

func trustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Establish direct trust with a contact by comparing a SAS",
	}

	start := &cobra.Command{
		Use:   "start <identity>",
		Short: "Invite a contact to compare short authentication strings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contact, err := parseIdentity(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				inst, err := newInstance(a)
				if err != nil {
					return err
				}
				if _, err := a.Messaging.StartProtocol(ctx, trust.StartMessage(a.Account.ID(), inst, contact)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "instance %s\n", inst)
				return nil
			})
		},
	}

	var decline bool
	accept := &cobra.Command{
		Use:   "accept <instance>",
		Short: "Answer a pending invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := parseUID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				_, err := a.Messaging.StartProtocol(ctx, trust.ConfirmMessage(a.Account.ID(), inst, !decline))
				return err
			})
		},
	}
	accept.Flags().BoolVar(&decline, "decline", false, "reject the invitation")

	sas := &cobra.Command{
		Use:   "sas <instance> <digits>",
		Short: "Enter the SAS shown on the contact's device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := parseUID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				_, err := a.Messaging.StartProtocol(ctx, trust.SASMessage(a.Account.ID(), inst, args[1]))
				return err
			})
		},
	}

	cmd.AddCommand(start, accept, sas)
	return cmd
}

var errNoSignedDetails = errors.New("no signed details given or configured (keycloak.signed_details)")

func keycloakCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keycloak",
		Short: "Add contacts vouched for by the identity provider",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <identity> [signed-details]",
		Short: "Add a contact using this device's signed details",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			contact, err := parseIdentity(args[0])
			if err != nil {
				return err
			}
			details := cfg.Keycloak.SignedDetails
			if len(args) == 2 {
				details = args[1]
			}
			if details == "" {
				return errNoSignedDetails
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				inst, err := newInstance(a)
				if err != nil {
					return err
				}
				_, err = a.Messaging.StartProtocol(ctx, keycloak.StartMessage(a.Account.ID(), inst, contact, details))
				return err
			})
		},
	})
	return cmd
}

func photoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photo",
		Short: "Download encrypted group photos",
	}

	var out string
	fetch := &cobra.Command{
		Use:   "fetch <group> <label-hex> <key-hex>",
		Short: "Download and decrypt a group photo",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, err := parseUID(args[0])
			if err != nil {
				return err
			}
			label, err := hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("label: %w", err)
			}
			key, err := parseAEADKey(args[2])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				inst, err := newInstance(a)
				if err != nil {
					return err
				}
				if _, err := a.Messaging.StartProtocol(ctx, photo.StartMessage(a.Account.ID(), inst, group, label, key)); err != nil {
					return err
				}
				if out == "" {
					return nil
				}
				pic, ok, err := a.DB.Photo(ctx, a.Account.ID(), group)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("photo for group %s not downloaded yet", group.Short())
				}
				return os.WriteFile(out, pic, 0o600)
			})
		},
	}
	fetch.Flags().StringVarP(&out, "out", "o", "", "write the decrypted photo to this file")

	cmd.AddCommand(fetch)
	return cmd
}

func parseAEADKey(s string) (crypto.AEADKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return crypto.AEADKey{}, fmt.Errorf("key: %w", err)
	}
	enc, err := codec.Parse(raw)
	if err != nil {
		return crypto.AEADKey{}, fmt.Errorf("key: %w", err)
	}
	return crypto.DecodeAEADKey(enc)
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage the backup key",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "generate",
			Short: "Generate a new backup key, replacing any existing one",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, a *app.App) error {
					_, err := a.Messaging.StartProtocol(ctx, backupkey.Message(a.Account.ID(), backupkey.MsgGenerate))
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "verify <key>",
			Short: "Check a backup key against the stored one",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, a *app.App) error {
					_, err := a.Messaging.StartProtocol(ctx, backupkey.VerifyMessage(a.Account.ID(), args[0]))
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "revoke",
			Short: "Forget the backup key",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, a *app.App) error {
					_, err := a.Messaging.StartProtocol(ctx, backupkey.Message(a.Account.ID(), backupkey.MsgRevoke))
					return err
				})
			},
		},
	)
	return cmd
}
