package social

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/dghubble/oauth1"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/umbrakit/umbra"
)

// OAuth1Settings configures an OAuth1 three-legged flow.
type OAuth1Settings struct {
	RequestTokenURL  string
	AuthorizationURL string
	AccessTokenURL   string
	CallbackURL      string
	APIURL           string
	ConsumerKey      string
	ConsumerSecret   string
}

// Validate checks the settings. All three endpoint URLs are required;
// OAuth1 has no degraded mode without them.
func (s OAuth1Settings) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.RequestTokenURL, validation.Required, is.URL),
		validation.Field(&s.AuthorizationURL, validation.Required, is.URL),
		validation.Field(&s.AccessTokenURL, validation.Required, is.URL),
		validation.Field(&s.CallbackURL, is.URL),
		validation.Field(&s.APIURL, is.URL),
		validation.Field(&s.ConsumerKey, validation.Required),
		validation.Field(&s.ConsumerSecret, validation.Required),
	)
}

// OAuth1Provider implements the three-legged OAuth1 handshake on top
// of dghubble/oauth1. The request-token secret survives the redirect
// through a RequestSecretStore.
type OAuth1Provider struct {
	id       string
	settings OAuth1Settings
	config   *oauth1.Config
	secrets  RequestSecretStore
	logger   umbra.Logger
	parser   ProfileParser
	envelope ErrorEnvelope
}

// NewOAuth1Provider creates a provider for the given id. The secret
// store is required; without it the callback leg cannot sign the
// access-token exchange.
func NewOAuth1Provider(id string, settings OAuth1Settings, secrets RequestSecretStore) (*OAuth1Provider, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if secrets == nil {
		return nil, ErrMissingSetting.Clone().WithMetadata(map[string]any{
			"provider": id,
			"setting":  "requestSecretStore",
		})
	}

	config := &oauth1.Config{
		ConsumerKey:    settings.ConsumerKey,
		ConsumerSecret: settings.ConsumerSecret,
		CallbackURL:    settings.CallbackURL,
		Endpoint: oauth1.Endpoint{
			RequestTokenURL: settings.RequestTokenURL,
			AuthorizeURL:    settings.AuthorizationURL,
			AccessTokenURL:  settings.AccessTokenURL,
		},
	}

	return &OAuth1Provider{
		id:       id,
		settings: settings,
		config:   config,
		secrets:  secrets,
		logger:   umbra.DefaultLogger(),
	}, nil
}

// WithLogger sets the logger.
func (p *OAuth1Provider) WithLogger(logger umbra.Logger) *OAuth1Provider {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// WithProfileParser sets the parser mapping the provider's profile
// document to the common shape.
func (p *OAuth1Provider) WithProfileParser(parser ProfileParser) *OAuth1Provider {
	p.parser = parser
	return p
}

// WithErrorEnvelope sets the detector for the provider's error
// document shape.
func (p *OAuth1Provider) WithErrorEnvelope(envelope ErrorEnvelope) *OAuth1Provider {
	p.envelope = envelope
	return p
}

// ID implements Provider.
func (p *OAuth1Provider) ID() string {
	return p.id
}

// Authenticate implements Provider. Without callback parameters it
// obtains a request token, stashes its secret, and redirects; with an
// oauth_verifier it completes the access-token exchange.
func (p *OAuth1Provider) Authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Outcome, error) {
	query := r.URL.Query()

	if denied := query.Get("denied"); denied != "" {
		return nil, ErrAccessDenied.Clone().WithMetadata(map[string]any{
			"provider": p.id,
			"token":    denied,
		})
	}

	if verifier := query.Get("oauth_verifier"); verifier != "" {
		return p.completeHandshake(w, r, query.Get("oauth_token"), verifier)
	}

	return p.startHandshake(w)
}

func (p *OAuth1Provider) startHandshake(w http.ResponseWriter) (*Outcome, error) {
	requestToken, requestSecret, err := p.config.RequestToken()
	if err != nil {
		return nil, asProviderError(p.id, opRequestToken, err).wrap()
	}

	if err := p.secrets.Publish(w, requestToken, requestSecret); err != nil {
		return nil, err
	}

	authURL, err := p.config.AuthorizationURL(requestToken)
	if err != nil {
		return nil, asProviderError(p.id, opAuthorize, err).wrap()
	}

	p.logger.Debug("redirecting to %s authorization endpoint", p.id)

	return &Outcome{Redirect: &Redirect{URL: authURL.String()}}, nil
}

func (p *OAuth1Provider) completeHandshake(w http.ResponseWriter, r *http.Request, token, verifier string) (*Outcome, error) {
	if token == "" {
		return nil, ErrUnexpectedResponse.Clone().WithMetadata(map[string]any{
			"provider": p.id,
			"reason":   "callback missing oauth_token",
		})
	}

	secret, err := p.secrets.Retrieve(r, token)
	if err != nil {
		return nil, err
	}

	accessToken, accessSecret, err := p.config.AccessToken(token, secret, verifier)
	if err != nil {
		return nil, asProviderError(p.id, opAccessToken, err).wrap()
	}

	p.secrets.Discard(w)

	return &Outcome{Info: &OAuth1Info{Token: accessToken, Secret: accessSecret}}, nil
}

// RetrieveProfile implements Provider. API calls are signed with the
// access-token pair through the oauth1 transport.
func (p *OAuth1Provider) RetrieveProfile(ctx context.Context, info AuthInfo) (*Profile, error) {
	oauth1Info, ok := info.(*OAuth1Info)
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

	client := p.config.Client(ctx, oauth1.NewToken(oauth1Info.Token, oauth1Info.Secret))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.settings.APIURL, nil)
	if err != nil {
		return nil, WrapProfileError(p.id, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, WrapProfileError(p.id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapProfileError(p.id, err)
	}

	var content map[string]any
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, (&ProviderError{
			Provider:    p.id,
			Operation:   opProfile,
			Status:      resp.StatusCode,
			Description: "failed to decode profile response",
			Err:         err,
		}).wrap()
	}

	if p.envelope != nil {
		if perr := p.envelope(resp.StatusCode, content); perr != nil {
			return nil, WrapProfileError(p.id, perr)
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, (&ProviderError{
			Provider:  p.id,
			Operation: opProfile,
			Status:    resp.StatusCode,
			Raw:       content,
		}).wrap()
	}

	profile, err := p.parser.Parse(content, info)
	if err != nil {
		return nil, WrapProfileError(p.id, err)
	}

	return profile, nil
}

var _ Provider = (*OAuth1Provider)(nil)
