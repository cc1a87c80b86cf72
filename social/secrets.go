package social

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/umbrakit/umbra"
)

// RequestSecretStore persists the OAuth1 request-token secret between
// the redirect and the callback. OAuth1 needs the secret again to sign
// the access-token exchange, but it must never travel through the
// provider.
type RequestSecretStore interface {
	Publish(w http.ResponseWriter, token, secret string) error
	Retrieve(r *http.Request, token string) (string, error)
	Discard(w http.ResponseWriter)
}

// SecretSettings configures the cookie carrying the request secret.
type SecretSettings struct {
	CookieName     string
	CookiePath     string
	CookieDomain   string
	SecureCookie   bool
	HTTPOnlyCookie bool
	SameSite       http.SameSite
	TTL            time.Duration
}

// DefaultSecretSettings returns production-safe secret settings.
func DefaultSecretSettings() SecretSettings {
	return SecretSettings{
		CookieName:     "OAuth1TokenSecret",
		CookiePath:     "/",
		SecureCookie:   true,
		HTTPOnlyCookie: true,
		SameSite:       http.SameSiteLaxMode,
		TTL:            defaultStateTTL,
	}
}

type requestSecretPayload struct {
	Token     string `json:"token"`
	Secret    string `json:"secret"`
	ExpiresAt int64  `json:"exp"`
}

// CookieSecretStore keeps the request secret in a signed cookie on the
// user agent, bound to its request token so a swapped token cannot
// reuse another handshake's secret.
type CookieSecretStore struct {
	settings SecretSettings
	signer   umbra.Signer
	clock    umbra.Clock
}

// NewCookieSecretStore creates a cookie-backed secret store.
func NewCookieSecretStore(settings SecretSettings, signer umbra.Signer) (*CookieSecretStore, error) {
	if signer == nil {
		return nil, ErrMissingSetting.Clone().WithMetadata(map[string]any{
			"setting": "signer",
		})
	}
	if settings.CookieName == "" {
		settings.CookieName = "OAuth1TokenSecret"
	}
	if settings.CookiePath == "" {
		settings.CookiePath = "/"
	}
	if settings.TTL <= 0 {
		settings.TTL = defaultStateTTL
	}

	return &CookieSecretStore{
		settings: settings,
		signer:   signer,
		clock:    umbra.SystemClock{},
	}, nil
}

// WithClock overrides the time source.
func (s *CookieSecretStore) WithClock(clock umbra.Clock) *CookieSecretStore {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Publish implements RequestSecretStore.
func (s *CookieSecretStore) Publish(w http.ResponseWriter, token, secret string) error {
	payload := requestSecretPayload{
		Token:     token,
		Secret:    secret,
		ExpiresAt: s.clock.Now().Add(s.settings.TTL).Unix(),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return ErrMalformedState.Clone().WithMetadata(map[string]any{
			"error": err.Error(),
		})
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.settings.CookieName,
		Value:    s.signer.Sign(base64.RawURLEncoding.EncodeToString(raw)),
		Path:     s.settings.CookiePath,
		Domain:   s.settings.CookieDomain,
		MaxAge:   int(s.settings.TTL.Seconds()),
		Secure:   s.settings.SecureCookie,
		HttpOnly: s.settings.HTTPOnlyCookie,
		SameSite: s.settings.SameSite,
	})

	return nil
}

// Retrieve implements RequestSecretStore. The stored token must match
// the one the provider echoed back.
func (s *CookieSecretStore) Retrieve(r *http.Request, token string) (string, error) {
	cookie, err := r.Cookie(s.settings.CookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrRequestSecretMissing
	}

	extracted, err := s.signer.Extract(cookie.Value)
	if err != nil {
		return "", err
	}

	decoded, err := base64.RawURLEncoding.DecodeString(extracted)
	if err != nil {
		return "", ErrMalformedState.Clone().WithMetadata(map[string]any{
			"error": err.Error(),
		})
	}

	var payload requestSecretPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return "", ErrMalformedState.Clone().WithMetadata(map[string]any{
			"error": err.Error(),
		})
	}

	if !umbra.ConstantTimeEquals(payload.Token, token) {
		return "", ErrRequestSecretMissing.Clone().WithMetadata(map[string]any{
			"reason": "token mismatch",
		})
	}

	if s.clock.Now().Unix() >= payload.ExpiresAt {
		return "", ErrRequestSecretMissing.Clone().WithMetadata(map[string]any{
			"reason": "secret expired",
		})
	}

	return payload.Secret, nil
}

// Discard implements RequestSecretStore.
func (s *CookieSecretStore) Discard(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.settings.CookieName,
		Value:    "",
		Path:     s.settings.CookiePath,
		Domain:   s.settings.CookieDomain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   s.settings.SecureCookie,
		HttpOnly: s.settings.HTTPOnlyCookie,
		SameSite: s.settings.SameSite,
	})
}

var _ RequestSecretStore = (*CookieSecretStore)(nil)
