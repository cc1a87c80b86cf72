// Package repository provides backing stores for stateful
// authenticators: an in-process cache, Redis, and a Bun-backed SQL
// store. All of them satisfy umbra.AuthenticatorRepository and treat
// "not found" as (nil, nil), never as an error.
package repository

import (
	"encoding/json"
	"time"

	"github.com/umbrakit/umbra"
)

// record is the serialized shape shared by the Redis store and tests.
// Durations travel as seconds to stay portable across readers.
type record struct {
	ID           string          `json:"id"`
	ProviderID   string          `json:"provider_id"`
	ProviderKey  string          `json:"provider_key"`
	LastUsedAt   time.Time       `json:"last_used_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	IdleSeconds  *int64          `json:"idle_seconds,omitempty"`
	Fingerprint  string          `json:"fingerprint,omitempty"`
	CustomClaims json.RawMessage `json:"custom_claims,omitempty"`
}

func toRecord(a *umbra.Authenticator) (*record, error) {
	rec := &record{
		ID:          a.ID,
		ProviderID:  a.LoginInfo.ProviderID,
		ProviderKey: a.LoginInfo.ProviderKey,
		LastUsedAt:  a.LastUsedAt,
		ExpiresAt:   a.ExpiresAt,
		Fingerprint: a.Fingerprint,
	}
	if a.IdleTimeout != nil {
		seconds := int64(a.IdleTimeout.Seconds())
		rec.IdleSeconds = &seconds
	}
	if len(a.CustomClaims) > 0 {
		raw, err := json.Marshal(a.CustomClaims)
		if err != nil {
			return nil, err
		}
		rec.CustomClaims = raw
	}
	return rec, nil
}

func (r *record) toAuthenticator() (*umbra.Authenticator, error) {
	authenticator := &umbra.Authenticator{
		ID: r.ID,
		LoginInfo: umbra.LoginInfo{
			ProviderID:  r.ProviderID,
			ProviderKey: r.ProviderKey,
		},
		LastUsedAt:  r.LastUsedAt,
		ExpiresAt:   r.ExpiresAt,
		Fingerprint: r.Fingerprint,
	}
	if r.IdleSeconds != nil {
		timeout := time.Duration(*r.IdleSeconds) * time.Second
		authenticator.IdleTimeout = &timeout
	}
	if len(r.CustomClaims) > 0 {
		var claims map[string]any
		if err := json.Unmarshal(r.CustomClaims, &claims); err != nil {
			return nil, err
		}
		authenticator.CustomClaims = claims
	}
	return authenticator, nil
}
