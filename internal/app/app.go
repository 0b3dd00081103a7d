package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"trustline/internal/channel"
	"trustline/internal/config"
	"trustline/internal/crypto"
	"trustline/internal/domain"
	"trustline/internal/logging"
	"trustline/internal/metrics"
	"trustline/internal/protocol/catalog"
	"trustline/internal/protocol/engine"
	"trustline/internal/protocol/keycloak"
	"trustline/internal/relay"
	"trustline/internal/retry"
	"trustline/internal/services/identity"
	"trustline/internal/services/messaging"
	"trustline/internal/services/prekey"
	"trustline/internal/store"
)

// ErrNoAccount is returned by Open before an identity was generated.
var ErrNoAccount = errors.New("app: no account, run init first")

// Options are what Open needs besides the configuration.
type Options struct {
	Passphrase string
	Logger     *zap.Logger
	// Relay overrides the HTTP relay client built from the configuration.
	Relay domain.RelayClient
	// Events receives protocol notifications; nil prints them to Out.
	Events domain.EventSink
	Out    io.Writer
	Now    func() time.Time
	// Metrics, when set, counts protocol steps and channel traffic.
	Metrics *metrics.Metrics
}

// App is an opened device.
type App struct {
	Config    config.Config
	Account   domain.Account
	DB        *store.DB
	Relay     domain.RelayClient
	Channels  *channel.Manager
	Engine    *engine.Engine
	Messaging *messaging.Service
	PreKeys   *prekey.Service
	Suite     crypto.Suite
	Log       *zap.Logger
}

// Suite returns the crypto suite of cfg, backed by the system PRNG.
func Suite(cfg config.Config) (crypto.Suite, error) {
	curve, err := cfg.CurveID()
	if err != nil {
		return crypto.Suite{}, err
	}
	return crypto.NewSuite(curve, nil), nil
}

// Identity returns the identity service over the account file in the
// configured home.
func Identity(cfg config.Config) (*identity.Service, error) {
	suite, err := Suite(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Client.Home, 0o700); err != nil {
		return nil, err
	}
	return identity.New(store.NewAccountFileStore(cfg.Client.Home), suite), nil
}

// Open loads the account and builds the device around it.
func Open(cfg config.Config, opts Options) (*App, error) {
	log := logging.Or(opts.Logger)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ids, err := Identity(cfg)
	if err != nil {
		return nil, err
	}
	acct, err := ids.LoadIdentity(opts.Passphrase)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoAccount
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	suite, err := Suite(cfg)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(filepath.Join(cfg.Client.Home, store.DBFile), opts.Passphrase, store.Options{Logger: log})
	if err != nil {
		return nil, err
	}

	rc := opts.Relay
	if rc == nil {
		rc = relay.NewHTTPClient(cfg.Client.RelayURL)
	}
	events := opts.Events
	if events == nil {
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		events = Printer{W: out}
	}

	var verifier *keycloak.Verifier
	if cfg.Keycloak.Server != "" {
		if verifier, err = keycloak.NewVerifier(cfg.Keycloak.Server, cfg.Keycloak.Keys); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("keycloak: %w", err)
		}
	}

	a := &App{Config: cfg, Account: acct, DB: db, Relay: rc, Suite: suite, Log: log}
	a.Channels = channel.NewManager(channel.Config{
		Account:   acct,
		Store:     db,
		PreKeys:   db,
		Contacts:  db,
		Directory: rc,
		Policy:    cfg.Policy(),
		Suite:     suite,
		Logger:    log,
		Metrics:   opts.Metrics,
		Now:       now,
	})
	a.Engine = engine.New(engine.Config{
		Repository: db,
		Suite:      suite,
		Logger:     log,
		Metrics:    opts.Metrics,
		Now:        now,
	})
	catalog.Register(a.Engine, catalog.Deps{
		Account:       acct,
		DisplayName:   cfg.Client.DisplayName,
		Contacts:      db,
		Channels:      a.Channels,
		BackupKeys:    db,
		Photos:        db,
		Suite:         suite,
		Keycloak:      verifier,
		SignedDetails: cfg.Keycloak.SignedDetails,
	})
	a.Messaging = messaging.New(messaging.Config{
		Account:  acct,
		Engine:   a.Engine,
		Channels: a.Channels,
		Relay:    rc,
		Events:   events,
		Backoff:  retry.Default(),
		Logger:   log,
	})
	a.PreKeys = prekey.New(db, rc, suite, prekey.WithTTL(cfg.Client.PreKeyTTL), prekey.WithClock(now))
	return a, nil
}

// Resume delivers outbox items left over by an earlier run.
func (a *App) Resume(ctx context.Context) error {
	return a.Engine.Flush(ctx, a.Account.ID())
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}
