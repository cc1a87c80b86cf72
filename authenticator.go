package umbra

import (
	"fmt"
	"time"
)

// LoginInfo identifies an authenticated identity within a provider
// namespace. It is immutable for the life of an authenticator.
type LoginInfo struct {
	ProviderID  string `json:"providerID"`
	ProviderKey string `json:"providerKey"`
}

func (l LoginInfo) String() string {
	return fmt.Sprintf("%s/%s", l.ProviderID, l.ProviderKey)
}

// Authenticator is the record behind an active session or token. It is
// request scoped: services hand out copies, never shared pointers into
// a cache.
type Authenticator struct {
	// ID is an opaque unguessable identifier, replaced only on renewal.
	ID        string
	LoginInfo LoginInfo
	// LastUsedAt moves forward on every touch when an idle timeout is
	// configured.
	LastUsedAt time.Time
	// ExpiresAt is the absolute end of the validity window.
	ExpiresAt time.Time
	// IdleTimeout, when set, bounds the gap between uses.
	IdleTimeout *time.Duration
	// Fingerprint binds the cookie flavor to request-derived client
	// signals. Empty when fingerprinting is disabled.
	Fingerprint string
	// CustomClaims carries arbitrary payload for the JWT flavor. Keys
	// must not shadow reserved claim names.
	CustomClaims map[string]any
}

// IsValid reports whether the authenticator is usable at the given
// instant: before the absolute expiry and, when an idle timeout is
// configured, within the idle window since last use.
func (a *Authenticator) IsValid(now time.Time) bool {
	if a == nil {
		return false
	}

	if !now.Before(a.ExpiresAt) {
		return false
	}

	if a.IdleTimeout != nil && now.Sub(a.LastUsedAt) > *a.IdleTimeout {
		return false
	}

	return true
}

// IsExpired reports whether the absolute expiry has passed, ignoring
// the idle timeout.
func (a *Authenticator) IsExpired(now time.Time) bool {
	return a == nil || !now.Before(a.ExpiresAt)
}

// IsTimedOut reports whether the idle window has lapsed. False when no
// idle timeout is configured.
func (a *Authenticator) IsTimedOut(now time.Time) bool {
	if a == nil || a.IdleTimeout == nil {
		return false
	}
	return now.Sub(a.LastUsedAt) > *a.IdleTimeout
}

// Clone returns a deep copy so touch/renew never mutate a caller's
// record in place.
func (a *Authenticator) Clone() *Authenticator {
	if a == nil {
		return nil
	}

	dup := *a
	if a.IdleTimeout != nil {
		timeout := *a.IdleTimeout
		dup.IdleTimeout = &timeout
	}
	if a.CustomClaims != nil {
		claims := make(map[string]any, len(a.CustomClaims))
		for k, v := range a.CustomClaims {
			claims[k] = v
		}
		dup.CustomClaims = claims
	}

	return &dup
}
