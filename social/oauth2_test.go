package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umbrakit/umbra"
)

type tokenEndpoint struct {
	calls    atomic.Int64
	status   int
	response map[string]any
	lastForm url.Values
}

func (e *tokenEndpoint) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e.calls.Add(1)
		_ = r.ParseForm()
		e.lastForm = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		if e.status != 0 {
			w.WriteHeader(e.status)
		}
		_ = json.NewEncoder(w).Encode(e.response)
	}
}

func testOAuth2Provider(t *testing.T, tokenURL string, state StateProvider) *OAuth2Provider {
	t.Helper()

	provider, err := NewOAuth2Provider("acme", OAuth2Settings{
		AuthorizationURL: "https://provider.example.com/authorize",
		AccessTokenURL:   tokenURL,
		RedirectURL:      "https://app.example.com/callback",
		ClientID:         "client-1",
		ClientSecret:     "secret-1",
		Scope:            "openid email",
	}, state)
	require.NoError(t, err)
	return provider
}

func TestOAuth2StartHandshake(t *testing.T) {
	state := testStateProvider(t)
	provider := testOAuth2Provider(t, "https://provider.example.com/token", state)

	w := httptest.NewRecorder()
	outcome, err := provider.Authenticate(context.Background(), w, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.NoError(t, err)
	require.NotNil(t, outcome.Redirect)
	assert.Nil(t, outcome.Info)

	redirect, err := url.Parse(outcome.Redirect.URL)
	require.NoError(t, err)
	query := redirect.Query()

	assert.Equal(t, "client-1", query.Get("client_id"))
	assert.Equal(t, "https://app.example.com/callback", query.Get("redirect_uri"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "openid email", query.Get("scope"))
	require.NotEmpty(t, query.Get("state"))

	// the state parameter and the published cookie carry the same value
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)

	fromParam, err := state.Unserialize(query.Get("state"))
	require.NoError(t, err)
	fromCookie, err := state.Unserialize(cookies[0].Value)
	require.NoError(t, err)
	assert.Equal(t, fromCookie.Value, fromParam.Value)
}

func TestOAuth2StartWithoutAuthorizationURL(t *testing.T) {
	provider, err := NewOAuth2Provider("acme", OAuth2Settings{
		AccessTokenURL: "https://provider.example.com/token",
		ClientID:       "client-1",
	}, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	_, err = provider.Authenticate(context.Background(), w, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Error(t, err)
	assert.Equal(t, TextCodeMissingSetting, textCode(t, err))
}

func TestOAuth2AccessDenied(t *testing.T) {
	endpoint := &tokenEndpoint{response: map[string]any{"access_token": "never"}}
	server := httptest.NewServer(endpoint.handler())
	defer server.Close()

	provider := testOAuth2Provider(t, server.URL, testStateProvider(t))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/callback?error=access_denied", nil)

	_, err := provider.Authenticate(context.Background(), w, r)
	require.Error(t, err)
	assert.Equal(t, TextCodeAccessDenied, textCode(t, err))
	// denial short-circuits before any token exchange
	assert.Equal(t, int64(0), endpoint.calls.Load())
}

func TestOAuth2ProviderError(t *testing.T) {
	provider := testOAuth2Provider(t, "https://provider.example.com/token", testStateProvider(t))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/callback?error=server_error&error_description=boom", nil)

	_, err := provider.Authenticate(context.Background(), w, r)
	require.Error(t, err)
	assert.Equal(t, TextCodeUnexpectedResponse, textCode(t, err))
}

func TestOAuth2CompleteHandshake(t *testing.T) {
	endpoint := &tokenEndpoint{response: map[string]any{
		"access_token":  "at-1",
		"token_type":    "Bearer",
		"expires_in":    float64(3600),
		"refresh_token": "rt-1",
		"id_token":      "idt-1",
	}}
	server := httptest.NewServer(endpoint.handler())
	defer server.Close()

	state := testStateProvider(t)
	provider := testOAuth2Provider(t, server.URL, state)
	ctx := context.Background()

	built, err := state.Build(ctx, map[string]string{"redirect": "/dashboard"})
	require.NoError(t, err)
	serialized, err := state.Serialize(built)
	require.NoError(t, err)

	published := httptest.NewRecorder()
	require.NoError(t, state.Publish(published, built))

	r := httptest.NewRequest(http.MethodGet, "/callback?code=code-1&state="+url.QueryEscape(serialized), nil)
	for _, c := range published.Result().Cookies() {
		r.AddCookie(c)
	}

	outcome, err := provider.Authenticate(ctx, httptest.NewRecorder(), r)
	require.NoError(t, err)
	require.Nil(t, outcome.Redirect)

	info, ok := outcome.Info.(*OAuth2Info)
	require.True(t, ok)
	assert.Equal(t, "at-1", info.AccessToken)
	assert.Equal(t, "Bearer", info.TokenType)
	require.NotNil(t, info.ExpiresIn)
	assert.Equal(t, 3600, *info.ExpiresIn)
	assert.Equal(t, "rt-1", info.RefreshToken)
	assert.Equal(t, "idt-1", info.Params["id_token"])
	assert.Equal(t, "/dashboard", outcome.UserState["redirect"])

	// the exchange carried the authorization-code grant
	assert.Equal(t, "authorization_code", endpoint.lastForm.Get("grant_type"))
	assert.Equal(t, "code-1", endpoint.lastForm.Get("code"))
	assert.Equal(t, "client-1", endpoint.lastForm.Get("client_id"))
	assert.Equal(t, "secret-1", endpoint.lastForm.Get("client_secret"))
	assert.Equal(t, "https://app.example.com/callback", endpoint.lastForm.Get("redirect_uri"))
}

func TestOAuth2CallbackStateMismatch(t *testing.T) {
	endpoint := &tokenEndpoint{response: map[string]any{"access_token": "never"}}
	server := httptest.NewServer(endpoint.handler())
	defer server.Close()

	state := testStateProvider(t)
	provider := testOAuth2Provider(t, server.URL, state)
	ctx := context.Background()

	cookieState, err := state.Build(ctx, nil)
	require.NoError(t, err)
	otherState, err := state.Build(ctx, nil)
	require.NoError(t, err)
	serializedOther, err := state.Serialize(otherState)
	require.NoError(t, err)

	published := httptest.NewRecorder()
	require.NoError(t, state.Publish(published, cookieState))

	r := httptest.NewRequest(http.MethodGet, "/callback?code=code-1&state="+url.QueryEscape(serializedOther), nil)
	for _, c := range published.Result().Cookies() {
		r.AddCookie(c)
	}

	_, err = provider.Authenticate(ctx, httptest.NewRecorder(), r)
	require.Error(t, err)
	assert.Equal(t, TextCodeStateMismatch, textCode(t, err))
	// a failed state check never reaches the token endpoint
	assert.Equal(t, int64(0), endpoint.calls.Load())
}

func TestOAuth2ExchangeFailures(t *testing.T) {
	t.Run("provider error envelope", func(t *testing.T) {
		endpoint := &tokenEndpoint{
			status: http.StatusBadRequest,
			response: map[string]any{
				"error":             "invalid_grant",
				"error_description": "code expired",
			},
		}
		server := httptest.NewServer(endpoint.handler())
		defer server.Close()

		provider := testOAuth2Provider(t, server.URL, nil)
		_, err := provider.ExchangeCode(context.Background(), "stale-code")
		require.Error(t, err)
		assert.Equal(t, TextCodeUnexpectedResponse, textCode(t, err))
	})

	t.Run("missing access token", func(t *testing.T) {
		endpoint := &tokenEndpoint{response: map[string]any{"token_type": "Bearer"}}
		server := httptest.NewServer(endpoint.handler())
		defer server.Close()

		provider := testOAuth2Provider(t, server.URL, nil)
		_, err := provider.ExchangeCode(context.Background(), "code-1")
		require.Error(t, err)
		assert.Equal(t, TextCodeInvalidResponse, textCode(t, err))
	})
}

func TestOAuth2PKCEHandshake(t *testing.T) {
	endpoint := &tokenEndpoint{response: map[string]any{"access_token": "at-1"}}
	server := httptest.NewServer(endpoint.handler())
	defer server.Close()

	state := testStateProvider(t)
	provider, err := NewOAuth2Provider("acme", OAuth2Settings{
		AuthorizationURL: "https://provider.example.com/authorize",
		AccessTokenURL:   server.URL,
		RedirectURL:      "https://app.example.com/callback",
		ClientID:         "client-1",
		UsePKCE:          true,
	}, state)
	require.NoError(t, err)
	ctx := context.Background()

	w := httptest.NewRecorder()
	outcome, err := provider.Authenticate(ctx, w, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.NoError(t, err)
	require.NotNil(t, outcome.Redirect)

	redirect, err := url.Parse(outcome.Redirect.URL)
	require.NoError(t, err)
	query := redirect.Query()

	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	challenge := query.Get("code_challenge")
	require.NotEmpty(t, challenge)

	// the verifier rides only in the cookie, never in the state param
	fromParam, err := state.Unserialize(query.Get("state"))
	require.NoError(t, err)
	assert.Empty(t, fromParam.CodeVerifier)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	fromCookie, err := state.Unserialize(cookies[0].Value)
	require.NoError(t, err)
	require.NotEmpty(t, fromCookie.CodeVerifier)
	assert.Equal(t, challenge, pkceChallenge(fromCookie.CodeVerifier))

	callback := httptest.NewRequest(http.MethodGet, "/callback?code=code-1&state="+url.QueryEscape(query.Get("state")), nil)
	for _, c := range cookies {
		callback.AddCookie(c)
	}

	_, err = provider.Authenticate(ctx, httptest.NewRecorder(), callback)
	require.NoError(t, err)

	// the verifier from the cookie reached the token exchange
	assert.Equal(t, fromCookie.CodeVerifier, endpoint.lastForm.Get("code_verifier"))
}

func TestOAuth2PKCERequiresStateProvider(t *testing.T) {
	provider, err := NewOAuth2Provider("acme", OAuth2Settings{
		AuthorizationURL: "https://provider.example.com/authorize",
		AccessTokenURL:   "https://provider.example.com/token",
		ClientID:         "client-1",
		UsePKCE:          true,
	}, nil)
	require.NoError(t, err)

	_, err = provider.Authenticate(context.Background(), httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Error(t, err)
	assert.Equal(t, TextCodeMissingSetting, textCode(t, err))
}

func TestOAuth2WithoutStateProvider(t *testing.T) {
	endpoint := &tokenEndpoint{response: map[string]any{"access_token": "at-1"}}
	server := httptest.NewServer(endpoint.handler())
	defer server.Close()

	provider := testOAuth2Provider(t, server.URL, nil)
	ctx := context.Background()

	w := httptest.NewRecorder()
	outcome, err := provider.Authenticate(ctx, w, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.NoError(t, err)

	redirect, err := url.Parse(outcome.Redirect.URL)
	require.NoError(t, err)
	assert.Empty(t, redirect.Query().Get("state"))
	assert.Empty(t, w.Result().Cookies())

	// callback needs no state either
	callback := httptest.NewRequest(http.MethodGet, "/callback?code=code-1", nil)
	outcome, err = provider.Authenticate(ctx, httptest.NewRecorder(), callback)
	require.NoError(t, err)
	require.NotNil(t, outcome.Info)
}

func TestOAuth2RetrieveProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "u-1",
			"email": "jane@example.com",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	provider, err := NewOAuth2Provider("acme", OAuth2Settings{
		AccessTokenURL: server.URL + "/token",
		APIURL:         server.URL + "/userinfo",
		ClientID:       "client-1",
	}, nil)
	require.NoError(t, err)

	provider.WithProfileParser(ProfileParserFunc(func(content map[string]any, _ AuthInfo) (*Profile, error) {
		return &Profile{
			LoginInfo: umbra.LoginInfo{ProviderID: "acme", ProviderKey: content["id"].(string)},
			Email:     content["email"].(string),
		}, nil
	}))

	profile, err := provider.RetrieveProfile(context.Background(), &OAuth2Info{AccessToken: "at-1"})
	require.NoError(t, err)
	assert.Equal(t, "u-1", profile.LoginInfo.ProviderKey)
	assert.Equal(t, "jane@example.com", profile.Email)
}

func TestOAuth2RetrieveProfileFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "invalid_token",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	provider, err := NewOAuth2Provider("acme", OAuth2Settings{
		AccessTokenURL: server.URL + "/token",
		APIURL:         server.URL + "/userinfo",
		ClientID:       "client-1",
	}, nil)
	require.NoError(t, err)

	provider.WithProfileParser(ProfileParserFunc(func(content map[string]any, _ AuthInfo) (*Profile, error) {
		t.Fatal("parser must not run on an error response")
		return nil, nil
	})).WithErrorEnvelope(func(status int, content map[string]any) *ProviderError {
		if code, _ := content["error"].(string); code != "" {
			return &ProviderError{Provider: "acme", Operation: "profile", Status: status, Code: code}
		}
		return nil
	})

	_, err = provider.RetrieveProfile(context.Background(), &OAuth2Info{AccessToken: "expired"})
	require.Error(t, err)
	assert.Equal(t, TextCodeProfileRetrieval, textCode(t, err))

	// wrong credential type
	_, err = provider.RetrieveProfile(context.Background(), &OAuth1Info{Token: "t", Secret: "s"})
	require.Error(t, err)
	assert.Equal(t, TextCodeProfileRetrieval, textCode(t, err))
}
