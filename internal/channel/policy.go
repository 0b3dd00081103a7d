package channel

import "time"

// Decision is the outcome of evaluating the ratchet policy.
type Decision uint8

const (
	// DecisionNone leaves the channel alone.
	DecisionNone Decision = iota
	// DecisionPartial restarts a full ratchet exchange that is taking too
	// long to complete.
	DecisionPartial
	// DecisionFull starts a fresh key exchange for the send direction.
	DecisionFull
)

func (d Decision) String() string {
	switch d {
	case DecisionPartial:
		return "partial"
	case DecisionFull:
		return "full"
	default:
		return "none"
	}
}

// Policy holds the tunable ratchet thresholds.
type Policy struct {
	// FullMessageThreshold is the number of messages encrypted since the
	// last full ratchet after which a new one starts.
	FullMessageThreshold int
	// FullInterval is the age of the send seed after which a full ratchet
	// starts.
	FullInterval time.Duration
	// PartialMessageThreshold is the number of messages encrypted while a
	// full ratchet is pending after which it is restarted.
	PartialMessageThreshold int
	// PartialDecryptedThreshold is the number of messages decrypted while
	// a full ratchet is pending after which it is restarted.
	PartialDecryptedThreshold int
	// PartialInterval is how long a pending full ratchet may wait for the
	// peer before it is restarted.
	PartialInterval time.Duration
	// ProvisionWindow is how many receive keys are kept ahead per epoch.
	ProvisionWindow int
	// GracePeriod is how long superseded receive keys stay usable.
	GracePeriod time.Duration
}

// DefaultPolicy returns production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		FullMessageThreshold:      500,
		FullInterval:              30 * 24 * time.Hour,
		PartialMessageThreshold:   200,
		PartialDecryptedThreshold: 200,
		PartialInterval:           24 * time.Hour,
		ProvisionWindow:           50,
		GracePeriod:               7 * 24 * time.Hour,
	}
}

// Evaluate decides whether the channel with stats needs a (re)started
// full ratchet at now.
func (p Policy) Evaluate(s Stats, now time.Time) Decision {
	if s.FullRatchetInProgress {
		if s.DecryptedSinceFullRatchetSent >= p.PartialDecryptedThreshold ||
			s.EncryptedSinceFullRatchetSent >= p.PartialMessageThreshold ||
			now.Sub(s.FullRatchetSentAt) >= p.PartialInterval {
			return DecisionPartial
		}
		return DecisionNone
	}
	if s.EncryptedSinceFullRatchet >= p.FullMessageThreshold ||
		now.Sub(s.LastFullRatchet) >= p.FullInterval {
		return DecisionFull
	}
	return DecisionNone
}
