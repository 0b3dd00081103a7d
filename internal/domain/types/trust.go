package types

import (
	"fmt"
	"time"
)

// TrustOriginKind records how a contact came to be trusted.
type TrustOriginKind uint8

const (
	TrustDirect TrustOriginKind = iota + 1
	TrustGroup
	TrustIntroduction
	TrustKeycloak
)

func (k TrustOriginKind) String() string {
	switch k {
	case TrustDirect:
		return "direct"
	case TrustGroup:
		return "group"
	case TrustIntroduction:
		return "introduction"
	case TrustKeycloak:
		return "keycloak"
	default:
		return fmt.Sprintf("trust(%d)", uint8(k))
	}
}

// TrustLevel orders trust origins; higher is stronger.
type TrustLevel int

const (
	TrustLevelNone         TrustLevel = 0
	TrustLevelIntroduction TrustLevel = 1
	TrustLevelGroup        TrustLevel = 2
	TrustLevelKeycloak     TrustLevel = 3
	TrustLevelDirect       TrustLevel = 4
)

// TrustOrigin is one reason a contact is trusted.
type TrustOrigin struct {
	Kind      TrustOriginKind `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	// Mediator is the introducing contact for introductions.
	Mediator Identity `json:"mediator,omitempty"`
	// GroupUID identifies the group for group origins.
	GroupUID UID `json:"group_uid,omitempty"`
	// KeycloakServer is the identity provider URL for keycloak origins.
	KeycloakServer string `json:"keycloak_server,omitempty"`
}

// Level returns the trust level granted by the origin.
func (o TrustOrigin) Level() TrustLevel {
	switch o.Kind {
	case TrustDirect:
		return TrustLevelDirect
	case TrustKeycloak:
		return TrustLevelKeycloak
	case TrustGroup:
		return TrustLevelGroup
	case TrustIntroduction:
		return TrustLevelIntroduction
	default:
		return TrustLevelNone
	}
}

// Contact is a remote identity known to an owned identity.
type Contact struct {
	Owned       Identity      `json:"owned"`
	Identity    Identity      `json:"identity"`
	DisplayName string        `json:"display_name"`
	Devices     []UID         `json:"devices"`
	Origins     []TrustOrigin `json:"origins"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"created_at"`
}

// TrustLevel is the strongest level among the contact's origins.
func (c Contact) TrustLevel() TrustLevel {
	best := TrustLevelNone
	for _, o := range c.Origins {
		if l := o.Level(); l > best {
			best = l
		}
	}
	return best
}

// AddTrustOrigin appends o. Origins are only ever added, so the trust
// level never decreases.
func (c *Contact) AddTrustOrigin(o TrustOrigin) {
	c.Origins = append(c.Origins, o)
}

// OnlyKeycloakOrigins reports whether every origin is a keycloak origin
// for server.
func (c Contact) OnlyKeycloakOrigins(server string) bool {
	if len(c.Origins) == 0 {
		return false
	}
	for _, o := range c.Origins {
		if o.Kind != TrustKeycloak || o.KeycloakServer != server {
			return false
		}
	}
	return true
}

// HasDevice reports whether dev is a known device of the contact.
func (c Contact) HasDevice(dev UID) bool {
	for _, d := range c.Devices {
		if d == dev {
			return true
		}
	}
	return false
}
