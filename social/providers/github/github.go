// Package github implements GitHub social login. The profile step
// needs two API calls because GitHub keeps the primary email off the
// user document for most accounts.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/umbrakit/umbra"
	"github.com/umbrakit/umbra/social"
)

const (
	defaultAuthURL   = "https://github.com/login/oauth/authorize"
	defaultTokenURL  = "https://github.com/login/oauth/access_token"
	defaultUserURL   = "https://api.github.com/user"
	defaultEmailsURL = "https://api.github.com/user/emails"
)

// Config holds GitHub OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	AuthURL   string
	TokenURL  string
	UserURL   string
	EmailsURL string

	HTTPClient    *http.Client
	StateProvider social.StateProvider
}

// DefaultScopes returns the default GitHub scopes.
func DefaultScopes() []string {
	return []string{"user:email", "read:user"}
}

// Provider implements social.Provider for GitHub.
type Provider struct {
	*social.OAuth2Provider

	userURL    string
	emailsURL  string
	httpClient *http.Client
}

// New creates a new GitHub provider.
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
	if cfg.UserURL == "" {
		cfg.UserURL = defaultUserURL
	}
	if cfg.EmailsURL == "" {
		cfg.EmailsURL = defaultEmailsURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	settings := social.OAuth2Settings{
		AuthorizationURL: cfg.AuthURL,
		AccessTokenURL:   cfg.TokenURL,
		RedirectURL:      cfg.RedirectURL,
		ClientID:         cfg.ClientID,
		ClientSecret:     cfg.ClientSecret,
		Scope:            strings.Join(cfg.Scopes, " "),
	}

	base, err := social.NewOAuth2Provider("github", settings, cfg.StateProvider)
	if err != nil {
		return nil, err
	}
	base.WithHTTPClient(client)

	return &Provider{
		OAuth2Provider: base,
		userURL:        cfg.UserURL,
		emailsURL:      cfg.EmailsURL,
		httpClient:     client,
	}, nil
}

// RetrieveProfile implements social.Provider. It fetches the user
// document and resolves the primary email through the emails endpoint,
// falling back to whatever the user document exposes.
func (p *Provider) RetrieveProfile(ctx context.Context, info social.AuthInfo) (*social.Profile, error) {
	oauth2Info, ok := info.(*social.OAuth2Info)
	if !ok {
		return nil, social.WrapProfileError("github", &social.ProviderError{
			Provider:    "github",
			Operation:   "profile",
			Description: "unsupported auth info type",
		})
	}

	user, err := p.fetchUser(ctx, oauth2Info.AccessToken)
	if err != nil {
		return nil, social.WrapProfileError("github", err)
	}

	email, err := p.fetchPrimaryEmail(ctx, oauth2Info.AccessToken)
	if err != nil {
		email = user.Email
	}

	profile := &social.Profile{
		LoginInfo: umbra.LoginInfo{
			ProviderID:  "github",
			ProviderKey: fmt.Sprintf("%d", user.ID),
		},
		FullName:  user.Name,
		Email:     email,
		AvatarURL: user.AvatarURL,
	}
	if profile.FullName == "" {
		profile.FullName = user.Login
	}

	return profile, nil
}

func (p *Provider) fetchUser(ctx context.Context, accessToken string) (*githubUser, error) {
	body, status, err := p.apiGet(ctx, p.userURL, accessToken)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, &social.ProviderError{
			Provider:    "github",
			Operation:   "user_info",
			Status:      status,
			Description: apiErrorMessage(body),
		}
	}

	var user githubUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, &social.ProviderError{
			Provider:    "github",
			Operation:   "user_info",
			Status:      status,
			Code:        "invalid_response",
			Description: "failed to decode user response",
			Err:         err,
		}
	}
	if user.ID == 0 {
		return nil, &social.ProviderError{
			Provider:    "github",
			Operation:   "user_info",
			Status:      status,
			Code:        "missing_id",
			Description: "user response missing id",
		}
	}

	return &user, nil
}

func (p *Provider) fetchPrimaryEmail(ctx context.Context, accessToken string) (string, error) {
	body, status, err := p.apiGet(ctx, p.emailsURL, accessToken)
	if err != nil {
		return "", err
	}

	if status != http.StatusOK {
		return "", &social.ProviderError{
			Provider:    "github",
			Operation:   "emails",
			Status:      status,
			Description: apiErrorMessage(body),
		}
	}

	var emails []githubEmail
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", &social.ProviderError{
			Provider:    "github",
			Operation:   "emails",
			Status:      status,
			Code:        "invalid_response",
			Description: "failed to decode emails response",
			Err:         err,
		}
	}

	for _, e := range emails {
		if e.Primary {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}

	return "", &social.ProviderError{
		Provider:    "github",
		Operation:   "emails",
		Status:      status,
		Code:        "email_not_found",
		Description: "no valid email found",
	}
}

func (p *Provider) apiGet(ctx context.Context, endpoint, accessToken string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

type githubAPIError struct {
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url"`
}

func apiErrorMessage(body []byte) string {
	var apiErr githubAPIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "github request failed"
	}

	return msg
}

var _ social.Provider = (*Provider)(nil)
