package social

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/umbrakit/umbra"
)

const defaultStateTTL = 5 * time.Minute

// State carries the CSRF protection value for a social handshake. The
// random Value round-trips through both the provider redirect and a
// client cookie; UserState is opaque application data that survives
// the round trip, e.g. the URL to land on after login. CodeVerifier
// holds the PKCE verifier between the redirect and the token exchange;
// it only ever travels inside the signed cookie, never to the
// provider.
type State struct {
	ExpiresAt    int64             `json:"exp"`
	Value        string            `json:"value"`
	CodeVerifier string            `json:"codeVerifier,omitempty"`
	UserState    map[string]string `json:"userState,omitempty"`
}

// IsExpired reports whether the state window has passed.
func (s *State) IsExpired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}

// IsEmpty reports whether the state carries nothing worth protecting.
func (s *State) IsEmpty() bool {
	return s == nil || (s.Value == "" && len(s.UserState) == 0)
}

// StateProvider builds, transports, and validates handshake state.
// Build mints a fresh state, Serialize turns it into the provider
// `state` parameter, Publish mirrors it into a client cookie, and
// Validate cross-checks both copies on callback.
type StateProvider interface {
	Build(ctx context.Context, userState map[string]string) (*State, error)
	Serialize(state *State) (string, error)
	Unserialize(raw string) (*State, error)
	Validate(r *http.Request) (*State, error)
	Publish(w http.ResponseWriter, state *State) error
}

// StateSettings configures the cookie leg of the CSRF round trip.
type StateSettings struct {
	CookieName     string
	CookiePath     string
	CookieDomain   string
	SecureCookie   bool
	HTTPOnlyCookie bool
	SameSite       http.SameSite
	TTL            time.Duration
}

// DefaultStateSettings returns production-safe state settings.
func DefaultStateSettings() StateSettings {
	return StateSettings{
		CookieName:     "OAuth2State",
		CookiePath:     "/",
		SecureCookie:   true,
		HTTPOnlyCookie: true,
		SameSite:       http.SameSiteLaxMode,
		TTL:            defaultStateTTL,
	}
}

// CookieStateProvider implements StateProvider with a signed cookie as
// the client-side copy. The serialized form is
// sign(base64url(json(state))) so neither leg can be forged or
// tampered with.
type CookieStateProvider struct {
	settings StateSettings
	signer   umbra.Signer
	idGen    umbra.IDGenerator
	clock    umbra.Clock
}

// NewCookieStateProvider creates a state provider. The signer is
// required; it authenticates both the cookie and the provider
// round-trip value.
func NewCookieStateProvider(settings StateSettings, signer umbra.Signer) (*CookieStateProvider, error) {
	if signer == nil {
		return nil, ErrMissingSetting.Clone().WithMetadata(map[string]any{
			"setting": "signer",
		})
	}
	if settings.CookieName == "" {
		settings.CookieName = "OAuth2State"
	}
	if settings.CookiePath == "" {
		settings.CookiePath = "/"
	}
	if settings.TTL <= 0 {
		settings.TTL = defaultStateTTL
	}

	return &CookieStateProvider{
		settings: settings,
		signer:   signer,
		idGen:    umbra.NewSecureIDGenerator(0),
		clock:    umbra.SystemClock{},
	}, nil
}

// WithIDGenerator overrides the random value source.
func (p *CookieStateProvider) WithIDGenerator(idGen umbra.IDGenerator) *CookieStateProvider {
	if idGen != nil {
		p.idGen = idGen
	}
	return p
}

// WithClock overrides the time source.
func (p *CookieStateProvider) WithClock(clock umbra.Clock) *CookieStateProvider {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Build implements StateProvider.
func (p *CookieStateProvider) Build(ctx context.Context, userState map[string]string) (*State, error) {
	value, err := p.idGen.Generate(ctx)
	if err != nil {
		return nil, err
	}

	state := &State{
		ExpiresAt: p.clock.Now().Add(p.settings.TTL).Unix(),
		Value:     value,
	}
	if len(userState) > 0 {
		state.UserState = make(map[string]string, len(userState))
		for k, v := range userState {
			state.UserState[k] = v
		}
	}

	return state, nil
}

// Serialize implements StateProvider. An empty state serializes to the
// empty string so providers that run without CSRF protection emit no
// state parameter at all.
func (p *CookieStateProvider) Serialize(state *State) (string, error) {
	if state.IsEmpty() {
		return "", nil
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return "", ErrMalformedState.Clone().WithMetadata(map[string]any{
			"error": err.Error(),
		})
	}

	return p.signer.Sign(base64.RawURLEncoding.EncodeToString(raw)), nil
}

// Unserialize implements StateProvider.
func (p *CookieStateProvider) Unserialize(raw string) (*State, error) {
	payload, err := p.signer.Extract(raw)
	if err != nil {
		return nil, err
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrMalformedState.Clone().WithMetadata(map[string]any{
			"error": err.Error(),
		})
	}

	var state State
	if err := json.Unmarshal(decoded, &state); err != nil {
		return nil, ErrMalformedState.Clone().WithMetadata(map[string]any{
			"error": err.Error(),
		})
	}

	return &state, nil
}

// Validate implements StateProvider. It unserializes the client cookie
// and the provider `state` query parameter, compares the random values
// in constant time, and checks the expiry window. The cookie copy wins
// as the returned state since it is the one the application published.
func (p *CookieStateProvider) Validate(r *http.Request) (*State, error) {
	cookie, err := r.Cookie(p.settings.CookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrClientStateMissing
	}

	clientState, err := p.Unserialize(cookie.Value)
	if err != nil {
		return nil, err
	}

	raw := r.URL.Query().Get("state")
	if raw == "" {
		return nil, ErrProviderStateMissing
	}

	providerState, err := p.Unserialize(raw)
	if err != nil {
		return nil, err
	}

	if !umbra.ConstantTimeEquals(clientState.Value, providerState.Value) {
		return nil, ErrStateMismatch
	}

	if clientState.IsExpired(p.clock.Now()) {
		return nil, ErrStateExpired
	}

	return clientState, nil
}

// Publish implements StateProvider.
func (p *CookieStateProvider) Publish(w http.ResponseWriter, state *State) error {
	serialized, err := p.Serialize(state)
	if err != nil {
		return err
	}
	if serialized == "" {
		return nil
	}

	http.SetCookie(w, &http.Cookie{
		Name:     p.settings.CookieName,
		Value:    serialized,
		Path:     p.settings.CookiePath,
		Domain:   p.settings.CookieDomain,
		MaxAge:   int(p.settings.TTL.Seconds()),
		Secure:   p.settings.SecureCookie,
		HttpOnly: p.settings.HTTPOnlyCookie,
		SameSite: p.settings.SameSite,
	})

	return nil
}

var _ StateProvider = (*CookieStateProvider)(nil)
