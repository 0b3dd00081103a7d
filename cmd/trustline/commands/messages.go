package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"trustline/internal/app"
	"trustline/internal/protocol/devicediscovery"
)

func pollCmd() *cobra.Command {
	var rounds int
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Fetch and process queued envelopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				for range rounds {
					msgs, err := a.Messaging.Poll(ctx)
					if err != nil {
						return err
					}
					for _, m := range msgs {
						fmt.Fprintf(cmd.OutOrStdout(), "[%s %s] %s\n", m.From, m.ServerTimestamp.Format("15:04:05"), m.Payload)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 3, "number of mailbox batches to process")
	return cmd
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <identity> <message>",
		Short: "Encrypt and send a message to every device of a contact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := parseIdentity(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Messaging.SendApplication(ctx, to, []byte(args[1])); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "sent")
				return nil
			})
		},
	}
}

func contactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "List contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				cs, err := a.DB.ListContacts(ctx, a.Account.ID())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tIDENTITY\tTRUST\tDEVICES")
				for _, c := range cs {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", c.DisplayName, c.Identity.Hex(), c.TrustLevel(), len(c.Devices))
				}
				return w.Flush()
			})
		},
	}
}

func channelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List ratcheting channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				all, err := a.Messaging.Channels(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "REMOTE\tDEVICE\tCONFIRMED\tFULL\tSELF\tSENT\tRECEIVED")
				for _, st := range all {
					fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%d\t%d\n",
						st.ID.RemoteIdentity, st.ID.RemoteDevice.Short(), st.Confirmed,
						st.SendFullRatchetCount, st.SendSelfRatchetCount, st.Stats.Encrypted, st.Stats.Decrypted)
				}
				return w.Flush()
			})
		},
	}
}

func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <identity>",
		Short: "Refresh the device list of a contact from the relay",
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
				_, err = a.Messaging.StartProtocol(ctx, devicediscovery.ContactMessage(a.Account.ID(), inst, contact))
				return err
			})
		},
	}
}

func ratchetCmd() *cobra.Command {
	var restart bool
	cmd := &cobra.Command{
		Use:   "ratchet <identity> <device>",
		Short: "Start a full ratchet on the channel to a contact device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, err := parseIdentity(args[0])
			if err != nil {
				return err
			}
			dev, err := parseUID(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Messaging.StartFullRatchet(ctx, a.Channels.ChannelID(remote, dev), restart)
			})
		},
	}
	cmd.Flags().BoolVar(&restart, "restart", false, "restart an exchange that stalled")
	return cmd
}
