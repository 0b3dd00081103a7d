package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trustline/internal/crypto/edwards"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	id, err := cfg.CurveID()
	require.NoError(t, err)
	require.Equal(t, edwards.Curve25519, id)
}

func TestLoadFileThenEnv(t *testing.T) {
	home := t.TempDir()
	doc := `
[client]
relay_url = "http://relay.test"
curve = "mdc"

[ratchet]
full_message_threshold = 10
partial_interval = "2h"

[keycloak]
server = "https://kc.test/realms/a"
keys = { k1 = "pem" }
`
	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte(doc), 0o600))
	t.Setenv("TRUSTLINE_LOG_LEVEL", "debug")
	t.Setenv("TRUSTLINE_RATE_LIMIT", "5")

	cfg, err := Load(home)
	require.NoError(t, err)
	require.Equal(t, home, cfg.Client.Home)
	require.Equal(t, "http://relay.test", cfg.Client.RelayURL)
	require.Equal(t, "debug", cfg.Client.LogLevel)
	require.Equal(t, 5, cfg.Relay.RateLimit)
	require.Equal(t, 10, cfg.Policy().FullMessageThreshold)
	require.Equal(t, 2*time.Hour, cfg.Policy().PartialInterval)
	require.Equal(t, "pem", cfg.Keycloak.Keys["k1"])
	id, err := cfg.CurveID()
	require.NoError(t, err)
	require.Equal(t, edwards.MDC, id)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, Default().Ratchet, cfg.Ratchet)
}

func TestLoadDotEnvFromHomeVariable(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, ".env"), []byte("TRUSTLINE_DISPLAY_NAME=dotenv\n"), 0o600))
	t.Setenv("TRUSTLINE_HOME", home)
	// Registered so the value .env sets is unset again after the test.
	t.Setenv("TRUSTLINE_DISPLAY_NAME", "")
	require.NoError(t, os.Unsetenv("TRUSTLINE_DISPLAY_NAME"))

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, home, cfg.Client.Home)
	require.Equal(t, "dotenv", cfg.Client.DisplayName)
}

func TestLoadRejectsMalformedDotEnv(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, ".env"), []byte("TRUSTLINE_DISPLAY_NAME=\"unterminated\n"), 0o600))

	_, err := Load(home)
	require.Error(t, err)
	require.Contains(t, err.Error(), ".env")
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	cfg := Default()
	require.Error(t, Decode([]byte("[client]\nbogus = 1\n"), &cfg))
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"curve":     func(c *Config) { c.Client.Curve = "p256" },
		"threshold": func(c *Config) { c.Ratchet.FullMessageThreshold = -1 },
		"window":    func(c *Config) { c.Ratchet.ProvisionWindow = 0 },
		"ttl":       func(c *Config) { c.Client.PreKeyTTL = 0 },
		"rate":      func(c *Config) { c.Relay.RateLimit = -3 },
		"keycloak":  func(c *Config) { c.Keycloak.Keys = map[string]string{"a": "b"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}
