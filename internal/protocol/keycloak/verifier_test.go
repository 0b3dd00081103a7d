package keycloak_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"trustline/internal/domain"
	"trustline/internal/protocol/keycloak"
	"trustline/internal/testkit"
)

const server = "https://sso.example.org/realms/trustline"

// issuer signs details the way the identity provider does.
type issuer struct {
	t    *testing.T
	kid  string
	priv ed25519.PrivateKey
}

func newIssuer(t *testing.T, kid string, tag byte) *issuer {
	return &issuer{t: t, kid: kid, priv: ed25519.NewKeyFromSeed(bytes.Repeat([]byte{tag}, ed25519.SeedSize))}
}

func (is *issuer) keys() map[string]string {
	der, err := x509.MarshalPKIXPublicKey(is.priv.Public())
	require.NoError(is.t, err)
	return map[string]string{is.kid: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))}
}

func (is *issuer) verifier() *keycloak.Verifier {
	v, err := keycloak.NewVerifier(server, is.keys())
	require.NoError(is.t, err)
	return v
}

func (is *issuer) sign(id domain.Identity, name string, iss string, exp time.Time) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, keycloak.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    iss,
			Subject:   name,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Identity:    id.Hex(),
		DisplayName: name,
	})
	tok.Header["kid"] = is.kid
	s, err := tok.SignedString(is.priv)
	require.NoError(is.t, err)
	return s
}

func (is *issuer) details(id domain.Identity, name string) string {
	return is.sign(id, name, server, testkit.NewClock().Now().Add(time.Hour))
}

func TestVerify(t *testing.T) {
	is := newIssuer(t, "k1", 9)
	v := is.verifier()
	id := testkit.Account(t, 1).ID()
	now := testkit.NewClock().Now()

	claims, got, err := v.Verify(is.details(id, "alice"), now)
	require.NoError(t, err)
	require.Equal(t, id, got)
	require.Equal(t, "alice", claims.DisplayName)
	require.Equal(t, server, v.Server())

	_, err = v.VerifyFor(is.details(id, "alice"), testkit.Account(t, 2).ID(), now)
	require.ErrorIs(t, err, keycloak.ErrIdentityMismatch)
}

func TestVerifyRejects(t *testing.T) {
	is := newIssuer(t, "k1", 9)
	v := is.verifier()
	id := testkit.Account(t, 1).ID()
	now := testkit.NewClock().Now()

	tests := []struct {
		name  string
		token string
	}{
		{"expired", is.sign(id, "alice", server, now.Add(-time.Minute))},
		{"other issuer", is.sign(id, "alice", "https://evil.example.org", now.Add(time.Hour))},
		{"unknown key", newIssuer(t, "k2", 10).details(id, "alice")},
		{"wrong key", newIssuer(t, "k1", 11).details(id, "alice")},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := v.Verify(tt.token, now)
			require.Error(t, err)
		})
	}
}

func TestNilVerifier(t *testing.T) {
	var v *keycloak.Verifier
	_, _, err := v.Verify("x", time.Now())
	require.ErrorIs(t, err, keycloak.ErrNoVerifier)
	require.Empty(t, v.Server())
}

func TestNewVerifierBadKey(t *testing.T) {
	_, err := keycloak.NewVerifier(server, map[string]string{"k": "not pem"})
	require.Error(t, err)
}
