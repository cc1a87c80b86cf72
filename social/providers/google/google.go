// Package google implements Google social login on top of the OAuth2
// authorization-code flow.
package google

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/umbrakit/umbra"
	"github.com/umbrakit/umbra/social"
)

const (
	defaultAuthURL    = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL   = "https://oauth2.googleapis.com/token"
	defaultProfileURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// Config holds Google OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	AuthURL    string
	TokenURL   string
	ProfileURL string

	HTTPClient    *http.Client
	StateProvider social.StateProvider
}

// DefaultScopes returns the default Google scopes.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// Provider implements social.Provider for Google.
type Provider struct {
	*social.OAuth2Provider
}

// New creates a new Google provider.
func New(cfg Config) (*Provider, error) {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.ProfileURL == "" {
		cfg.ProfileURL = defaultProfileURL
	}

	settings := social.OAuth2Settings{
		AuthorizationURL: cfg.AuthURL,
		AccessTokenURL:   cfg.TokenURL,
		APIURL:           cfg.ProfileURL,
		RedirectURL:      cfg.RedirectURL,
		ClientID:         cfg.ClientID,
		ClientSecret:     cfg.ClientSecret,
		Scope:            strings.Join(cfg.Scopes, " "),
		AuthorizationParams: map[string]string{
			"access_type": "offline",
		},
	}

	base, err := social.NewOAuth2Provider("google", settings, cfg.StateProvider)
	if err != nil {
		return nil, err
	}

	base.WithProfileParser(social.ProfileParserFunc(parseProfile)).
		WithErrorEnvelope(errorEnvelope)
	if cfg.HTTPClient != nil {
		base.WithHTTPClient(cfg.HTTPClient)
	}

	return &Provider{OAuth2Provider: base}, nil
}

func parseProfile(content map[string]any, _ social.AuthInfo) (*social.Profile, error) {
	sub := str(content, "sub")
	if sub == "" {
		return nil, &social.ProviderError{
			Provider:    "google",
			Operation:   "profile",
			Code:        "missing_subject",
			Description: "userinfo response missing sub claim",
			Raw:         content,
		}
	}

	return &social.Profile{
		LoginInfo: umbra.LoginInfo{
			ProviderID:  "google",
			ProviderKey: sub,
		},
		FirstName: str(content, "given_name"),
		LastName:  str(content, "family_name"),
		FullName:  str(content, "name"),
		Email:     str(content, "email"),
		AvatarURL: str(content, "picture"),
	}, nil
}

// errorEnvelope handles both Google error shapes: the OAuth style
// {"error": "...", "error_description": "..."} and the API style
// {"error": {"code": ..., "message": ..., "status": ...}}.
func errorEnvelope(status int, content map[string]any) *social.ProviderError {
	switch v := content["error"].(type) {
	case string:
		if v == "" {
			return nil
		}
		return &social.ProviderError{
			Provider:    "google",
			Operation:   "profile",
			Status:      status,
			Code:        v,
			Description: str(content, "error_description"),
			Raw:         content,
		}
	case map[string]any:
		code := str(v, "status")
		if code == "" {
			if n, ok := v["code"].(float64); ok && n != 0 {
				code = fmt.Sprintf("%d", int(n))
			}
		}
		return &social.ProviderError{
			Provider:    "google",
			Operation:   "profile",
			Status:      status,
			Code:        code,
			Description: str(v, "message"),
			Raw:         content,
		}
	}
	return nil
}

func str(content map[string]any, key string) string {
	if v, ok := content[key].(string); ok {
		return v
	}
	return ""
}
