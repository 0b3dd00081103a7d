package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trustline/internal/app"
	"trustline/internal/config"
	"trustline/internal/domain"
	"trustline/internal/logging"
)

var (
	home       string
	passphrase string
	relayURL   string
	logLevel   string

	cfg config.Config
	log *zap.Logger
)

var errNoPassphrase = errors.New("passphrase required (-p or TRUSTLINE_PASSPHRASE)")

func Execute() error {
	root := &cobra.Command{
		Use:          "trustline",
		Short:        "End-to-end encrypted messaging client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(home); err != nil {
				return err
			}
			if relayURL != "" {
				cfg.Client.RelayURL = relayURL
			}
			if logLevel != "" {
				cfg.Client.LogLevel = logLevel
			}
			if passphrase == "" {
				passphrase = os.Getenv("TRUSTLINE_PASSPHRASE")
			}
			log, err = logging.New(logging.Config{Level: cfg.Client.LogLevel})
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.trustline)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting keys and state")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		publishCmd(),
		pollCmd(),
		sendCmd(),
		contactsCmd(),
		channelsCmd(),
		discoverCmd(),
		ratchetCmd(),
		trustCmd(),
		keycloakCmd(),
		photoCmd(),
		backupCmd(),
	)
	return root.Execute()
}

// withApp opens the device, delivers pending outbox items and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	if passphrase == "" {
		return errNoPassphrase
	}
	a, err := app.Open(cfg, app.Options{Passphrase: passphrase, Logger: log, Out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx := cmd.Context()
	if err := a.Resume(ctx); err != nil {
		log.Warn("outbox not fully delivered", zap.Error(err))
	}
	return fn(ctx, a)
}

func parseIdentity(s string) (domain.Identity, error) {
	id, err := domain.ParseIdentity(s)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("identity %q: %w", s, err)
	}
	return id, nil
}

func parseUID(s string) (domain.UID, error) {
	u, err := domain.ParseUID(s)
	if err != nil {
		return domain.UID{}, fmt.Errorf("uid %q: %w", s, err)
	}
	return u, nil
}

// newInstance draws a random instance UID.
func newInstance(a *app.App) (domain.UID, error) {
	return domain.NewUID(a.Suite.PRNG())
}
