// Package social implements the provider side of social login: the
// two-step OAuth handshake, CSRF state handling, and profile
// retrieval. Concrete providers live in social/providers.
package social

import (
	"context"
	"net/http"

	"github.com/umbrakit/umbra"
)

// AuthInfo is the credential material a provider hands back after a
// completed handshake. Concrete shapes are OAuth2Info, OAuth1Info and
// OpenIDInfo.
type AuthInfo interface {
	isAuthInfo()
}

// OAuth2Info holds the result of an OAuth2 token exchange.
type OAuth2Info struct {
	AccessToken  string            `json:"access_token"`
	TokenType    string            `json:"token_type,omitempty"`
	ExpiresIn    *int              `json:"expires_in,omitempty"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
}

func (*OAuth2Info) isAuthInfo() {}

// OAuth1Info holds the access token pair from an OAuth1 exchange.
type OAuth1Info struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

func (*OAuth1Info) isAuthInfo() {}

// OpenIDInfo holds a verified OpenID identifier and its attributes.
type OpenIDInfo struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (*OpenIDInfo) isAuthInfo() {}

// Profile is the common shape every provider's user data is mapped
// into. LoginInfo is the stable identity key; everything else is
// optional and provider dependent.
type Profile struct {
	LoginInfo umbra.LoginInfo `json:"loginInfo"`
	FirstName string          `json:"firstName,omitempty"`
	LastName  string          `json:"lastName,omitempty"`
	FullName  string          `json:"fullName,omitempty"`
	Email     string          `json:"email,omitempty"`
	AvatarURL string          `json:"avatarURL,omitempty"`
}

// Outcome is the result of one Authenticate step. Either Redirect is
// set (step one) or Info is (completed callback). UserState carries
// the application data that rode along on the handshake, if any.
type Outcome struct {
	Redirect  *Redirect
	Info      AuthInfo
	UserState map[string]string
}

// Redirect instructs the caller to send the user agent to the
// provider. Any cookies the handshake needs were already written to
// the ResponseWriter passed to Authenticate.
type Redirect struct {
	URL string
}

// Provider is a social login provider. Authenticate inspects the
// request to decide which step of the handshake it is on; callers loop
// until they get an Info instead of a Redirect.
type Provider interface {
	ID() string
	Authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Outcome, error)
	RetrieveProfile(ctx context.Context, info AuthInfo) (*Profile, error)
}

// ProfileParser maps a provider's raw JSON document to the common
// profile shape.
type ProfileParser interface {
	Parse(content map[string]any, info AuthInfo) (*Profile, error)
}

// ProfileParserFunc adapts a function to the ProfileParser interface.
type ProfileParserFunc func(content map[string]any, info AuthInfo) (*Profile, error)

// Parse implements ProfileParser.
func (f ProfileParserFunc) Parse(content map[string]any, info AuthInfo) (*Profile, error) {
	return f(content, info)
}

// ErrorEnvelope inspects a provider response for the provider's own
// error document. A nil return means the response is not an error.
type ErrorEnvelope func(status int, content map[string]any) *ProviderError

func stringValue(content map[string]any, key string) string {
	if v, ok := content[key].(string); ok {
		return v
	}
	return ""
}
