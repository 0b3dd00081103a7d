// Package config loads trustline settings from a TOML file, an optional
// .env file and TRUSTLINE_* environment variables, in increasing order of
// precedence. Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"trustline/internal/channel"
	"trustline/internal/crypto/edwards"
)

// FileName is the configuration file looked up in the home directory.
const FileName = "trustline.toml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the full configuration of the client and the relay.
type Config struct {
	Client   Client   `toml:"client"`
	Ratchet  Ratchet  `toml:"ratchet"`
	Relay    Relay    `toml:"relay"`
	Keycloak Keycloak `toml:"keycloak"`
}

// Client configures the device side.
type Client struct {
	Home        string        `toml:"home"`
	RelayURL    string        `toml:"relay_url"`
	Curve       string        `toml:"curve"`
	LogLevel    string        `toml:"log_level"`
	DisplayName string        `toml:"display_name"`
	PreKeyTTL   time.Duration `toml:"prekey_ttl"`
}

// Ratchet mirrors channel.Policy.
type Ratchet struct {
	FullMessageThreshold      int           `toml:"full_message_threshold"`
	FullInterval              time.Duration `toml:"full_interval"`
	PartialMessageThreshold   int           `toml:"partial_message_threshold"`
	PartialDecryptedThreshold int           `toml:"partial_decrypted_threshold"`
	PartialInterval           time.Duration `toml:"partial_interval"`
	ProvisionWindow           int           `toml:"provision_window"`
	GracePeriod               time.Duration `toml:"grace_period"`
}

// Relay configures the relay server.
type Relay struct {
	Listen      string        `toml:"listen"`
	RedisAddr   string        `toml:"redis_addr"`
	RedisPrefix string        `toml:"redis_prefix"`
	MailboxTTL  time.Duration `toml:"mailbox_ttl"`
	Metrics     bool          `toml:"metrics"`
	RateLimit   int           `toml:"rate_limit"`
}

// Keycloak configures the identity provider whose tokens are accepted.
type Keycloak struct {
	Server string `toml:"server"`
	// Keys maps key ids to PEM-encoded public keys.
	Keys map[string]string `toml:"keys"`
	// SignedDetails is this user's own token, sent along invitations.
	SignedDetails string `toml:"signed_details"`
}

// Default returns a working configuration rooted at ~/.trustline.
func Default() Config {
	home := ".trustline"
	if h, err := os.UserHomeDir(); err == nil {
		home = filepath.Join(h, ".trustline")
	}
	p := channel.DefaultPolicy()
	return Config{
		Client: Client{
			Home:      home,
			RelayURL:  "http://127.0.0.1:8080",
			Curve:     "curve25519",
			LogLevel:  "info",
			PreKeyTTL: 7 * 24 * time.Hour,
		},
		Ratchet: Ratchet{
			FullMessageThreshold:      p.FullMessageThreshold,
			FullInterval:              p.FullInterval,
			PartialMessageThreshold:   p.PartialMessageThreshold,
			PartialDecryptedThreshold: p.PartialDecryptedThreshold,
			PartialInterval:           p.PartialInterval,
			ProvisionWindow:           p.ProvisionWindow,
			GracePeriod:               p.GracePeriod,
		},
		Relay: Relay{
			Listen:      ":8080",
			RedisPrefix: "trustline",
			MailboxTTL:  30 * 24 * time.Hour,
			Metrics:     true,
			RateLimit:   600,
		},
	}
}

// Load reads <home>/trustline.toml over the defaults, then .env and the
// environment. home falls back to TRUSTLINE_HOME, then the default. Missing
// files are not an error; a malformed .env is.
func Load(home string) (Config, error) {
	cfg := Default()
	switch {
	case home != "":
		cfg.Client.Home = home
	case os.Getenv("TRUSTLINE_HOME") != "":
		cfg.Client.Home = os.Getenv("TRUSTLINE_HOME")
	}
	env := filepath.Join(cfg.Client.Home, ".env")
	if err := godotenv.Load(env); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%s: %w", env, err)
	}

	path := filepath.Join(cfg.Client.Home, FileName)
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, err
	default:
		if err := Decode(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Decode parses TOML into cfg, keeping values the document does not set.
func Decode(b []byte, cfg *Config) error {
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return fmt.Errorf("config: undecoded keys: %v", undecoded)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"TRUSTLINE_RELAY_URL":      &c.Client.RelayURL,
		"TRUSTLINE_CURVE":          &c.Client.Curve,
		"TRUSTLINE_LOG_LEVEL":      &c.Client.LogLevel,
		"TRUSTLINE_DISPLAY_NAME":   &c.Client.DisplayName,
		"TRUSTLINE_RELAY_LISTEN":   &c.Relay.Listen,
		"TRUSTLINE_REDIS_ADDR":     &c.Relay.RedisAddr,
		"TRUSTLINE_KEYCLOAK_URL":   &c.Keycloak.Server,
		"TRUSTLINE_SIGNED_DETAILS": &c.Keycloak.SignedDetails,
	}
	for k, dst := range str {
		if v, ok := lookup(k); ok {
			*dst = v
		}
	}
	if v, ok := lookup("TRUSTLINE_RATE_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: TRUSTLINE_RATE_LIMIT: %v", ErrInvalid, err)
		}
		c.Relay.RateLimit = n
	}
	if v, ok := lookup("TRUSTLINE_METRICS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: TRUSTLINE_METRICS: %v", ErrInvalid, err)
		}
		c.Relay.Metrics = b
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if _, err := c.CurveID(); err != nil {
		return err
	}
	r := c.Ratchet
	if r.FullMessageThreshold <= 0 || r.PartialMessageThreshold <= 0 || r.PartialDecryptedThreshold <= 0 {
		return fmt.Errorf("%w: ratchet thresholds must be positive", ErrInvalid)
	}
	if r.FullInterval <= 0 || r.PartialInterval <= 0 || r.GracePeriod < 0 {
		return fmt.Errorf("%w: ratchet intervals must be positive", ErrInvalid)
	}
	if r.ProvisionWindow <= 0 {
		return fmt.Errorf("%w: provision window must be positive", ErrInvalid)
	}
	if c.Client.PreKeyTTL <= 0 {
		return fmt.Errorf("%w: prekey_ttl must be positive", ErrInvalid)
	}
	if c.Relay.RateLimit < 0 {
		return fmt.Errorf("%w: rate_limit must not be negative", ErrInvalid)
	}
	if len(c.Keycloak.Keys) > 0 && c.Keycloak.Server == "" {
		return fmt.Errorf("%w: keycloak keys without a server", ErrInvalid)
	}
	return nil
}

// CurveID maps the configured curve name.
func (c Config) CurveID() (edwards.ID, error) {
	switch strings.ToLower(c.Client.Curve) {
	case "curve25519", "":
		return edwards.Curve25519, nil
	case "mdc":
		return edwards.MDC, nil
	default:
		return 0, fmt.Errorf("%w: unknown curve %q", ErrInvalid, c.Client.Curve)
	}
}

// Policy returns the ratchet policy.
func (c Config) Policy() channel.Policy {
	r := c.Ratchet
	return channel.Policy{
		FullMessageThreshold:      r.FullMessageThreshold,
		FullInterval:              r.FullInterval,
		PartialMessageThreshold:   r.PartialMessageThreshold,
		PartialDecryptedThreshold: r.PartialDecryptedThreshold,
		PartialInterval:           r.PartialInterval,
		ProvisionWindow:           r.ProvisionWindow,
		GracePeriod:               r.GracePeriod,
	}
}
