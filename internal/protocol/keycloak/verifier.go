package keycloak

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trustline/internal/domain"
)

var (
	// ErrNoVerifier is returned when no identity provider is configured.
	ErrNoVerifier = errors.New("keycloak: no identity provider configured")
	// ErrIdentityMismatch is returned when signed details vouch for
	// another identity than the one presenting them.
	ErrIdentityMismatch = errors.New("keycloak: signed details are for another identity")
)

// Claims are the signed details an identity provider issues for a user.
// Identity is the hex form of the user's identity.
type Claims struct {
	jwt.RegisteredClaims
	Identity    string `json:"identity"`
	DisplayName string `json:"name,omitempty"`
}

// Verifier checks signed details against the keys of one identity
// provider.
type Verifier struct {
	server string
	keys   map[string]any
}

// NewVerifier returns a Verifier for server. keys maps a key id to a PEM
// encoded public key; Ed25519, ECDSA and RSA keys are accepted.
func NewVerifier(server string, keys map[string]string) (*Verifier, error) {
	v := &Verifier{server: server, keys: make(map[string]any, len(keys))}
	for kid, p := range keys {
		block, _ := pem.Decode([]byte(p))
		if block == nil {
			return nil, fmt.Errorf("keycloak: key %q: no PEM block", kid)
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("keycloak: key %q: %w", kid, err)
		}
		v.keys[kid] = pub
	}
	return v, nil
}

// Server returns the issuer URL the verifier trusts.
func (v *Verifier) Server() string {
	if v == nil {
		return ""
	}
	return v.server
}

// Verify parses token and checks its signature, issuer and validity at
// now. The returned claims name the identity they vouch for.
func (v *Verifier) Verify(token string, now time.Time) (Claims, domain.Identity, error) {
	if v == nil {
		return Claims{}, domain.Identity{}, ErrNoVerifier
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{
			jwt.SigningMethodEdDSA.Alg(),
			jwt.SigningMethodES256.Alg(),
			jwt.SigningMethodRS256.Alg(),
		}),
		jwt.WithIssuer(v.server),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	var claims Claims
	_, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := v.keys[kid]
		if !ok {
			return nil, fmt.Errorf("keycloak: unknown key id %q", kid)
		}
		return key, nil
	})
	if err != nil {
		return Claims{}, domain.Identity{}, err
	}
	id, err := domain.ParseIdentity(claims.Identity)
	if err != nil {
		return Claims{}, domain.Identity{}, err
	}
	return claims, id, nil
}

// VerifyFor verifies token and checks that it vouches for want.
func (v *Verifier) VerifyFor(token string, want domain.Identity, now time.Time) (Claims, error) {
	claims, id, err := v.Verify(token, now)
	if err != nil {
		return Claims{}, err
	}
	if id != want {
		return Claims{}, ErrIdentityMismatch
	}
	return claims, nil
}
