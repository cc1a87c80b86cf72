package umbra

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieSettingsValidate(t *testing.T) {
	valid := DefaultCookieSettings()
	assert.NoError(t, valid.Validate())

	noName := DefaultCookieSettings()
	noName.CookieName = ""
	assert.Error(t, noName.Validate())

	noExpiry := DefaultCookieSettings()
	noExpiry.AuthenticatorExpiry = 0
	assert.Error(t, noExpiry.Validate())

	badIdle := DefaultCookieSettings()
	negative := -time.Minute
	badIdle.AuthenticatorIdleTimeout = &negative
	assert.Error(t, badIdle.Validate())
}

func TestJWTSettingsValidate(t *testing.T) {
	valid := DefaultJWTSettings()
	valid.Issuer = "umbra-test"
	valid.SharedSecret = []byte("0123456789abcdef0123456789abcdef")
	assert.NoError(t, valid.Validate())

	noSecret := DefaultJWTSettings()
	noSecret.Issuer = "umbra-test"
	assert.Error(t, noSecret.Validate())

	badMethod := valid
	badMethod.SigningMethod = "none"
	assert.Error(t, badMethod.Validate())

	noLookup := valid
	noLookup.TokenLookup = ""
	assert.Error(t, noLookup.Validate())
}

func TestLoadSettings(t *testing.T) {
	content := `
cookie:
  name: session
  path: /app
  secure: false
  same_site: strict
  use_fingerprinting: true
  max_age: 720h
  expiry: 24h
  idle_timeout: 30m
jwt:
  field_name: X-Api-Token
  issuer: umbra-test
  signing_method: HS512
  shared_secret: 0123456789abcdef0123456789abcdef
  expiry: 1h
`
	path := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	settings, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "session", settings.Cookie.CookieName)
	assert.Equal(t, "/app", settings.Cookie.CookiePath)
	assert.False(t, settings.Cookie.SecureCookie)
	assert.Equal(t, http.SameSiteStrictMode, settings.Cookie.SameSite)
	assert.True(t, settings.Cookie.UseFingerprinting)
	require.NotNil(t, settings.Cookie.CookieMaxAge)
	assert.Equal(t, 720*time.Hour, *settings.Cookie.CookieMaxAge)
	assert.Equal(t, 24*time.Hour, settings.Cookie.AuthenticatorExpiry)
	require.NotNil(t, settings.Cookie.AuthenticatorIdleTimeout)
	assert.Equal(t, 30*time.Minute, *settings.Cookie.AuthenticatorIdleTimeout)

	assert.Equal(t, "X-Api-Token", settings.JWT.FieldName)
	assert.Equal(t, "header:X-Api-Token", settings.JWT.TokenLookup)
	assert.Equal(t, "HS512", settings.JWT.SigningMethod)
	assert.Equal(t, time.Hour, settings.JWT.AuthenticatorExpiry)
}

func TestLoadSettingsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, os.WriteFile(path, []byte("cookie:\n  name: sid\n"), 0o600))

	settings, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "sid", settings.Cookie.CookieName)
	assert.True(t, settings.Cookie.SecureCookie)
	assert.Equal(t, 12*time.Hour, settings.Cookie.AuthenticatorExpiry)
	// jwt section untouched, secret left unset
	assert.Nil(t, settings.JWT.SharedSecret)
}

func TestLoadSettingsFailures(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("cookie:\n  expiry: not-a-duration\n"), 0o600))
	_, err = LoadSettings(path)
	assert.Error(t, err)
}
