package social

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/umbrakit/umbra"
)

// OAuth2Settings configures an OAuth2 authorization-code flow. With
// UsePKCE set, each handshake mints a fresh code verifier, sends its
// S256 challenge on the authorization redirect, and round-trips the
// verifier through the state cookie to the token exchange.
type OAuth2Settings struct {
	AuthorizationURL    string
	AccessTokenURL      string
	RedirectURL         string
	APIURL              string
	ClientID            string
	ClientSecret        string
	Scope               string
	UsePKCE             bool
	AuthorizationParams map[string]string
	AccessTokenParams   map[string]string
}

// Validate checks the settings needed for any flow at all. The
// authorization URL is only needed to start a handshake and is checked
// there, so pure token-exchange setups can omit it.
func (s OAuth2Settings) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.ClientID, validation.Required),
		validation.Field(&s.AccessTokenURL, validation.Required, is.URL),
		validation.Field(&s.AuthorizationURL, is.URL),
		validation.Field(&s.RedirectURL, is.URL),
		validation.Field(&s.APIURL, is.URL),
	)
}

// OAuth2Provider implements the authorization-code handshake. Concrete
// providers configure it with their endpoints and plug in a profile
// parser and error envelope for their API shape.
type OAuth2Provider struct {
	id         string
	settings   OAuth2Settings
	state      StateProvider
	httpClient *http.Client
	clock      umbra.Clock
	logger     umbra.Logger
	parser     ProfileParser
	envelope   ErrorEnvelope
	userState  func(r *http.Request) map[string]string
}

// NewOAuth2Provider creates a provider for the given id. A nil state
// provider disables CSRF state handling; pass one for any
// browser-facing flow.
func NewOAuth2Provider(id string, settings OAuth2Settings, state StateProvider) (*OAuth2Provider, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &OAuth2Provider{
		id:         id,
		settings:   settings,
		state:      state,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      umbra.SystemClock{},
		logger:     umbra.DefaultLogger(),
	}, nil
}

// WithHTTPClient overrides the HTTP client used for provider calls.
func (p *OAuth2Provider) WithHTTPClient(client *http.Client) *OAuth2Provider {
	if client != nil {
		p.httpClient = client
	}
	return p
}

// WithLogger sets the logger.
func (p *OAuth2Provider) WithLogger(logger umbra.Logger) *OAuth2Provider {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// WithClock overrides the time source.
func (p *OAuth2Provider) WithClock(clock umbra.Clock) *OAuth2Provider {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// WithProfileParser sets the parser mapping the provider's profile
// document to the common shape.
func (p *OAuth2Provider) WithProfileParser(parser ProfileParser) *OAuth2Provider {
	p.parser = parser
	return p
}

// WithErrorEnvelope sets the detector for the provider's error
// document shape.
func (p *OAuth2Provider) WithErrorEnvelope(envelope ErrorEnvelope) *OAuth2Provider {
	p.envelope = envelope
	return p
}

// WithUserState sets an extractor that pulls application state out of
// the initial request so it survives the handshake round trip.
func (p *OAuth2Provider) WithUserState(fn func(r *http.Request) map[string]string) *OAuth2Provider {
	p.userState = fn
	return p
}

// ID implements Provider.
func (p *OAuth2Provider) ID() string {
	return p.id
}

// Settings returns a copy of the provider settings.
func (p *OAuth2Provider) Settings() OAuth2Settings {
	return p.settings
}

// Authenticate implements Provider. A request without a code or error
// parameter starts the handshake and yields a redirect; a callback
// request validates state and exchanges the code for credentials.
func (p *OAuth2Provider) Authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Outcome, error) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		meta := map[string]any{
			"provider": p.id,
			"error":    errCode,
		}
		if desc := query.Get("error_description"); desc != "" {
			meta["error_description"] = desc
		}
		if errCode == "access_denied" {
			return nil, ErrAccessDenied.Clone().WithMetadata(meta)
		}
		return nil, ErrUnexpectedResponse.Clone().WithMetadata(meta)
	}

	if code := query.Get("code"); code != "" {
		return p.completeHandshake(ctx, r, code)
	}

	return p.startHandshake(ctx, w, r)
}

func (p *OAuth2Provider) startHandshake(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Outcome, error) {
	if p.settings.AuthorizationURL == "" {
		return nil, ErrMissingSetting.Clone().WithMetadata(map[string]any{
			"provider": p.id,
			"setting":  "authorizationURL",
		})
	}
	if p.settings.UsePKCE && p.state == nil {
		// the verifier survives the redirect inside the state cookie
		return nil, ErrMissingSetting.Clone().WithMetadata(map[string]any{
			"provider": p.id,
			"setting":  "stateProvider",
		})
	}

	authURL, err := url.Parse(p.settings.AuthorizationURL)
	if err != nil {
		return nil, ErrMissingSetting.Clone().WithMetadata(map[string]any{
			"provider": p.id,
			"setting":  "authorizationURL",
			"error":    err.Error(),
		})
	}

	params := url.Values{
		"client_id":     {p.settings.ClientID},
		"redirect_uri":  {p.settings.RedirectURL},
		"response_type": {"code"},
	}
	if p.settings.Scope != "" {
		params.Set("scope", p.settings.Scope)
	}
	for k, v := range p.settings.AuthorizationParams {
		params.Set(k, v)
	}

	if p.state != nil {
		var userState map[string]string
		if p.userState != nil {
			userState = p.userState(r)
		}

		state, err := p.state.Build(ctx, userState)
		if err != nil {
			return nil, err
		}

		// the provider-bound copy is serialized before the verifier is
		// attached; only the challenge may leave through the redirect
		serialized, err := p.state.Serialize(state)
		if err != nil {
			return nil, err
		}
		if serialized != "" {
			params.Set("state", serialized)
		}

		if p.settings.UsePKCE {
			verifier, err := pkceVerifier()
			if err != nil {
				return nil, asProviderError(p.id, opAuthorize, err).wrap()
			}
			state.CodeVerifier = verifier
			params.Set("code_challenge", pkceChallenge(verifier))
			params.Set("code_challenge_method", "S256")
		}

		if err := p.state.Publish(w, state); err != nil {
			return nil, err
		}
	}

	authURL.RawQuery = params.Encode()
	p.logger.Debug("redirecting to %s authorization endpoint", p.id)

	return &Outcome{Redirect: &Redirect{URL: authURL.String()}}, nil
}

func (p *OAuth2Provider) completeHandshake(ctx context.Context, r *http.Request, code string) (*Outcome, error) {
	var userState map[string]string
	var opts []ExchangeOption

	if p.state != nil {
		state, err := p.state.Validate(r)
		if err != nil {
			return nil, err
		}
		userState = state.UserState
		if state.CodeVerifier != "" {
			opts = append(opts, WithCodeVerifier(state.CodeVerifier))
		}
	}

	info, err := p.ExchangeCode(ctx, code, opts...)
	if err != nil {
		return nil, err
	}

	return &Outcome{Info: info, UserState: userState}, nil
}

// ExchangeOption mutates the token exchange form before it is sent.
type ExchangeOption func(form url.Values)

// WithCodeVerifier adds the PKCE code verifier to the exchange.
func WithCodeVerifier(verifier string) ExchangeOption {
	return func(form url.Values) {
		form.Set("code_verifier", verifier)
	}
}

// ExchangeCode trades an authorization code for an access token.
func (p *OAuth2Provider) ExchangeCode(ctx context.Context, code string, opts ...ExchangeOption) (*OAuth2Info, error) {
	data := url.Values{
		"client_id":     {p.settings.ClientID},
		"client_secret": {p.settings.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {p.settings.RedirectURL},
	}
	for k, v := range p.settings.AccessTokenParams {
		data.Set(k, v)
	}
	for _, opt := range opts {
		opt(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.settings.AccessTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, asProviderError(p.id, opExchange, err).wrap()
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, asProviderError(p.id, opExchange, err).wrap()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, asProviderError(p.id, opExchange, err).wrap()
	}

	var content map[string]any
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, (&ProviderError{
			Provider:    p.id,
			Operation:   opExchange,
			Status:      resp.StatusCode,
			Description: "failed to decode token response",
			Err:         err,
		}).wrap()
	}

	if resp.StatusCode != http.StatusOK || stringValue(content, "error") != "" {
		return nil, (&ProviderError{
			Provider:    p.id,
			Operation:   opExchange,
			Status:      resp.StatusCode,
			Code:        stringValue(content, "error"),
			Description: stringValue(content, "error_description"),
			Raw:         content,
		}).wrap()
	}

	info := buildOAuth2Info(content)
	if info.AccessToken == "" {
		return nil, (&ProviderError{
			Provider:    p.id,
			Operation:   opExchange,
			Status:      resp.StatusCode,
			Description: "missing access token",
			Raw:         content,
		}).wrapAs(ErrInvalidResponseFormat)
	}

	return info, nil
}

// RetrieveProfile implements Provider. It fetches the profile document
// with the access token and maps it through the configured parser.
func (p *OAuth2Provider) RetrieveProfile(ctx context.Context, info AuthInfo) (*Profile, error) {
	oauth2Info, ok := info.(*OAuth2Info)
	if !ok {
		return nil, (&ProviderError{
			Provider:    p.id,
			Operation:   opProfile,
			Description: "unsupported auth info type",
		}).wrap()
	}
	if p.settings.APIURL == "" || p.parser == nil {
		return nil, ErrMissingSetting.Clone().WithMetadata(map[string]any{
			"provider": p.id,
			"setting":  "apiURL/profileParser",
		})
	}

	content, status, err := p.apiGet(ctx, p.settings.APIURL, oauth2Info)
	if err != nil {
		return nil, WrapProfileError(p.id, err)
	}

	if p.envelope != nil {
		if perr := p.envelope(status, content); perr != nil {
			return nil, WrapProfileError(p.id, perr)
		}
	}
	if status != http.StatusOK {
		return nil, (&ProviderError{
			Provider:  p.id,
			Operation: opProfile,
			Status:    status,
			Raw:       content,
		}).wrap()
	}

	profile, err := p.parser.Parse(content, info)
	if err != nil {
		return nil, WrapProfileError(p.id, err)
	}

	return profile, nil
}

// apiGet fetches a provider API endpoint with the bearer token and
// decodes the JSON body. The status code is returned alongside so the
// caller can run its error envelope over non-200 documents.
func (p *OAuth2Provider) apiGet(ctx context.Context, endpoint string, info *OAuth2Info) (map[string]any, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+info.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var content map[string]any
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, resp.StatusCode, &ProviderError{
			Provider:    p.id,
			Operation:   opProfile,
			Status:      resp.StatusCode,
			Description: "failed to decode profile response",
			Err:         err,
		}
	}

	return content, resp.StatusCode, nil
}

// pkceVerifier mints a high-entropy PKCE code verifier.
func pkceVerifier() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// pkceChallenge derives the S256 challenge for a verifier.
func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func buildOAuth2Info(content map[string]any) *OAuth2Info {
	info := &OAuth2Info{
		AccessToken:  stringValue(content, "access_token"),
		TokenType:    stringValue(content, "token_type"),
		RefreshToken: stringValue(content, "refresh_token"),
	}

	if v, ok := content["expires_in"].(float64); ok {
		seconds := int(v)
		info.ExpiresIn = &seconds
	}

	params := map[string]string{}
	for k, v := range content {
		switch k {
		case "access_token", "token_type", "expires_in", "refresh_token":
			continue
		}
		if s, ok := v.(string); ok {
			params[k] = s
		}
	}
	if len(params) > 0 {
		info.Params = params
	}

	return info
}

var _ Provider = (*OAuth2Provider)(nil)
