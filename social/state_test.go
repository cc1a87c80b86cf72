package social

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umbrakit/umbra"
)

var stateEpoch = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func textCode(t *testing.T, err error) string {
	t.Helper()
	var gerr *goerrors.Error
	require.ErrorAs(t, err, &gerr)
	return gerr.TextCode
}

func testStateProvider(t *testing.T) *CookieStateProvider {
	t.Helper()
	provider, err := NewCookieStateProvider(DefaultStateSettings(), umbra.NewHMACSigner([]byte("0123456789abcdef0123456789abcdef")))
	require.NoError(t, err)
	return provider.WithClock(umbra.ClockFunc(func() time.Time { return stateEpoch }))
}

// callbackRequest builds the provider callback: the client cookie from
// the recorder plus the echoed state query parameter.
func callbackRequest(t *testing.T, w *httptest.ResponseRecorder, stateParam string) *http.Request {
	t.Helper()

	target := "/callback"
	if stateParam != "" {
		target += "?state=" + url.QueryEscape(stateParam)
	}

	r := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range w.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func TestStateBuild(t *testing.T) {
	provider := testStateProvider(t)

	state, err := provider.Build(context.Background(), map[string]string{"redirect": "/dashboard"})
	require.NoError(t, err)

	assert.NotEmpty(t, state.Value)
	assert.Equal(t, stateEpoch.Add(5*time.Minute).Unix(), state.ExpiresAt)
	assert.Equal(t, "/dashboard", state.UserState["redirect"])

	another, err := provider.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, state.Value, another.Value)
}

func TestStateSerializeRoundTrip(t *testing.T) {
	provider := testStateProvider(t)

	state, err := provider.Build(context.Background(), map[string]string{"redirect": "/dashboard"})
	require.NoError(t, err)

	serialized, err := provider.Serialize(state)
	require.NoError(t, err)
	require.NotEmpty(t, serialized)

	decoded, err := provider.Unserialize(serialized)
	require.NoError(t, err)
	assert.Equal(t, state.Value, decoded.Value)
	assert.Equal(t, state.ExpiresAt, decoded.ExpiresAt)
	assert.Equal(t, state.UserState, decoded.UserState)
}

func TestStateSerializeEmpty(t *testing.T) {
	provider := testStateProvider(t)

	serialized, err := provider.Serialize(&State{})
	require.NoError(t, err)
	assert.Empty(t, serialized)

	// an empty state publishes nothing
	w := httptest.NewRecorder()
	require.NoError(t, provider.Publish(w, &State{}))
	assert.Empty(t, w.Result().Cookies())
}

func TestStateUnserializeFailures(t *testing.T) {
	provider := testStateProvider(t)
	other, err := NewCookieStateProvider(DefaultStateSettings(), umbra.NewHMACSigner([]byte("ffffffffffffffffffffffffffffffff")))
	require.NoError(t, err)

	state, err := provider.Build(context.Background(), nil)
	require.NoError(t, err)
	serialized, err := provider.Serialize(state)
	require.NoError(t, err)

	// wrong key
	_, err = other.Unserialize(serialized)
	require.Error(t, err)
	assert.Equal(t, umbra.TextCodeInvalidSignature, textCode(t, err))

	// signed garbage
	signer := umbra.NewHMACSigner([]byte("0123456789abcdef0123456789abcdef"))
	_, err = provider.Unserialize(signer.Sign("bm90LWpzb24"))
	require.Error(t, err)
	assert.Equal(t, TextCodeMalformedState, textCode(t, err))
}

func TestStateValidate(t *testing.T) {
	provider := testStateProvider(t)
	ctx := context.Background()

	publish := func(t *testing.T, state *State) *httptest.ResponseRecorder {
		t.Helper()
		w := httptest.NewRecorder()
		require.NoError(t, provider.Publish(w, state))
		return w
	}

	t.Run("matching state validates and carries user state", func(t *testing.T) {
		state, err := provider.Build(ctx, map[string]string{"redirect": "/dashboard"})
		require.NoError(t, err)
		serialized, err := provider.Serialize(state)
		require.NoError(t, err)

		validated, err := provider.Validate(callbackRequest(t, publish(t, state), serialized))
		require.NoError(t, err)
		assert.Equal(t, state.Value, validated.Value)
		assert.Equal(t, "/dashboard", validated.UserState["redirect"])
	})

	t.Run("missing cookie", func(t *testing.T) {
		state, err := provider.Build(ctx, nil)
		require.NoError(t, err)
		serialized, err := provider.Serialize(state)
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/callback?state="+url.QueryEscape(serialized), nil)
		_, err = provider.Validate(r)
		require.Error(t, err)
		assert.Equal(t, TextCodeClientStateMissing, textCode(t, err))
	})

	t.Run("missing query parameter", func(t *testing.T) {
		state, err := provider.Build(ctx, nil)
		require.NoError(t, err)

		_, err = provider.Validate(callbackRequest(t, publish(t, state), ""))
		require.Error(t, err)
		assert.Equal(t, TextCodeProviderStateMissing, textCode(t, err))
	})

	t.Run("value mismatch", func(t *testing.T) {
		cookieState, err := provider.Build(ctx, nil)
		require.NoError(t, err)
		otherState, err := provider.Build(ctx, nil)
		require.NoError(t, err)

		serializedOther, err := provider.Serialize(otherState)
		require.NoError(t, err)

		_, err = provider.Validate(callbackRequest(t, publish(t, cookieState), serializedOther))
		require.Error(t, err)
		assert.Equal(t, TextCodeStateMismatch, textCode(t, err))
	})

	t.Run("expired state", func(t *testing.T) {
		state, err := provider.Build(ctx, nil)
		require.NoError(t, err)
		serialized, err := provider.Serialize(state)
		require.NoError(t, err)
		w := publish(t, state)

		stale := provider.WithClock(umbra.ClockFunc(func() time.Time {
			return stateEpoch.Add(6 * time.Minute)
		}))
		defer stale.WithClock(umbra.ClockFunc(func() time.Time { return stateEpoch }))

		_, err = stale.Validate(callbackRequest(t, w, serialized))
		require.Error(t, err)
		assert.Equal(t, TextCodeStateExpired, textCode(t, err))
	})

	t.Run("tampered cookie", func(t *testing.T) {
		state, err := provider.Build(ctx, nil)
		require.NoError(t, err)
		serialized, err := provider.Serialize(state)
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/callback?state="+url.QueryEscape(serialized), nil)
		r.AddCookie(&http.Cookie{Name: "OAuth2State", Value: "1-deadbeef-tampered"})

		_, err = provider.Validate(r)
		require.Error(t, err)
		assert.Equal(t, umbra.TextCodeInvalidSignature, textCode(t, err))
	})
}

func TestStatePublishCookieAttributes(t *testing.T) {
	provider := testStateProvider(t)

	state, err := provider.Build(context.Background(), nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, provider.Publish(w, state))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "OAuth2State", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, int((5 * time.Minute).Seconds()), cookies[0].MaxAge)
}

func TestNewCookieStateProviderRequiresSigner(t *testing.T) {
	_, err := NewCookieStateProvider(DefaultStateSettings(), nil)
	require.Error(t, err)
	assert.Equal(t, TextCodeMissingSetting, textCode(t, err))
}
