package umbra

import (
	"net/http"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

// CookieAuthenticatorSettings configures the cookie flavor.
type CookieAuthenticatorSettings struct {
	// CookieName names the transport cookie.
	CookieName   string
	CookiePath   string
	CookieDomain string
	// SecureCookie and HTTPOnlyCookie default to true; switch off only
	// for plain-HTTP development setups.
	SecureCookie   bool
	HTTPOnlyCookie bool
	SameSite       http.SameSite
	// UseFingerprinting binds the authenticator to request-derived
	// client signals at creation time.
	UseFingerprinting bool
	// CookieMaxAge, when set, makes the cookie persistent. Nil means a
	// browser-session cookie.
	CookieMaxAge *time.Duration
	// AuthenticatorExpiry is the absolute validity window.
	AuthenticatorExpiry time.Duration
	// AuthenticatorIdleTimeout, when set, enables idle-timeout
	// touching.
	AuthenticatorIdleTimeout *time.Duration
}

// DefaultCookieSettings returns production-safe defaults: secure
// HttpOnly cookie named "id", 12 hour expiry, no idle timeout.
func DefaultCookieSettings() CookieAuthenticatorSettings {
	return CookieAuthenticatorSettings{
		CookieName:          "id",
		CookiePath:          "/",
		SecureCookie:        true,
		HTTPOnlyCookie:      true,
		SameSite:            http.SameSiteLaxMode,
		AuthenticatorExpiry: 12 * time.Hour,
	}
}

// Validate implements fatal-at-construction settings checking.
func (s CookieAuthenticatorSettings) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.CookieName, validation.Required),
		validation.Field(&s.CookiePath, validation.Required),
		validation.Field(&s.AuthenticatorExpiry, validation.Required, validation.By(positiveDuration)),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid cookie authenticator settings").
			WithTextCode(TextCodeInvalidSettings)
	}

	if s.AuthenticatorIdleTimeout != nil && *s.AuthenticatorIdleTimeout <= 0 {
		return ErrInvalidSettings.Clone().WithMetadata(map[string]any{
			"field":  "AuthenticatorIdleTimeout",
			"reason": "must be positive when set",
		})
	}

	return nil
}

// JWTAuthenticatorSettings configures the JWT flavor.
type JWTAuthenticatorSettings struct {
	// FieldName names the response header carrying freshly embedded
	// tokens.
	FieldName string
	// TokenLookup locates the artifact on incoming requests, in
	// "source:name" form ("header:X-Auth-Token", "query:token").
	TokenLookup string
	Issuer      string
	// SigningMethod is a JWA name understood by golang-jwt (HS256,
	// HS384, HS512).
	SigningMethod string
	SharedSecret  []byte
	// EncryptSubject passes the login info through the configured
	// Crypter before base64 encoding it into the sub claim.
	EncryptSubject           bool
	AuthenticatorExpiry      time.Duration
	AuthenticatorIdleTimeout *time.Duration
}

// DefaultJWTSettings returns defaults matching the common header-borne
// deployment: X-Auth-Token transport, HS256, 12 hour expiry.
func DefaultJWTSettings() JWTAuthenticatorSettings {
	return JWTAuthenticatorSettings{
		FieldName:           "X-Auth-Token",
		TokenLookup:         "header:X-Auth-Token",
		SigningMethod:       "HS256",
		AuthenticatorExpiry: 12 * time.Hour,
	}
}

// Validate implements fatal-at-construction settings checking.
func (s JWTAuthenticatorSettings) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.FieldName, validation.Required),
		validation.Field(&s.TokenLookup, validation.Required),
		validation.Field(&s.Issuer, validation.Required),
		validation.Field(&s.SigningMethod, validation.Required, validation.In("HS256", "HS384", "HS512")),
		validation.Field(&s.SharedSecret, validation.Required),
		validation.Field(&s.AuthenticatorExpiry, validation.Required, validation.By(positiveDuration)),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid jwt authenticator settings").
			WithTextCode(TextCodeInvalidSettings)
	}

	if s.AuthenticatorIdleTimeout != nil && *s.AuthenticatorIdleTimeout <= 0 {
		return ErrInvalidSettings.Clone().WithMetadata(map[string]any{
			"field":  "AuthenticatorIdleTimeout",
			"reason": "must be positive when set",
		})
	}

	return nil
}

func positiveDuration(value any) error {
	d, ok := value.(time.Duration)
	if !ok {
		return validation.NewError("validation_duration", "must be a duration")
	}
	if d <= 0 {
		return validation.NewError("validation_duration_positive", "must be positive")
	}
	return nil
}

// Settings aggregates file-loadable configuration for both flavors.
type Settings struct {
	Cookie CookieAuthenticatorSettings
	JWT    JWTAuthenticatorSettings
}

type settingsFile struct {
	Cookie cookieSettingsFile `yaml:"cookie"`
	JWT    jwtSettingsFile    `yaml:"jwt"`
}

type cookieSettingsFile struct {
	Name              string    `yaml:"name"`
	Path              string    `yaml:"path"`
	Domain            string    `yaml:"domain"`
	Secure            *bool     `yaml:"secure"`
	HTTPOnly          *bool     `yaml:"http_only"`
	SameSite          string    `yaml:"same_site"`
	UseFingerprinting bool      `yaml:"use_fingerprinting"`
	MaxAge            *duration `yaml:"max_age"`
	Expiry            *duration `yaml:"expiry"`
	IdleTimeout       *duration `yaml:"idle_timeout"`
}

type jwtSettingsFile struct {
	FieldName      string    `yaml:"field_name"`
	TokenLookup    string    `yaml:"token_lookup"`
	Issuer         string    `yaml:"issuer"`
	SigningMethod  string    `yaml:"signing_method"`
	SharedSecret   string    `yaml:"shared_secret"`
	EncryptSubject bool      `yaml:"encrypt_subject"`
	Expiry         *duration `yaml:"expiry"`
	IdleTimeout    *duration `yaml:"idle_timeout"`
}

type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}

	*d = duration(parsed)
	return nil
}

// LoadSettings reads a YAML settings file, applying defaults for any
// field the file leaves out, and validates the result.
func LoadSettings(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to read settings file").
			WithTextCode(TextCodeInvalidSettings)
	}

	var file settingsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to parse settings file").
			WithTextCode(TextCodeInvalidSettings)
	}

	settings := &Settings{
		Cookie: DefaultCookieSettings(),
		JWT:    DefaultJWTSettings(),
	}
	applyCookieFile(&settings.Cookie, file.Cookie)
	applyJWTFile(&settings.JWT, file.JWT)

	if err := settings.Cookie.Validate(); err != nil {
		return nil, err
	}
	if settings.JWT.SharedSecret != nil {
		if err := settings.JWT.Validate(); err != nil {
			return nil, err
		}
	}

	return settings, nil
}

func applyCookieFile(s *CookieAuthenticatorSettings, f cookieSettingsFile) {
	if f.Name != "" {
		s.CookieName = f.Name
	}
	if f.Path != "" {
		s.CookiePath = f.Path
	}
	if f.Domain != "" {
		s.CookieDomain = f.Domain
	}
	if f.Secure != nil {
		s.SecureCookie = *f.Secure
	}
	if f.HTTPOnly != nil {
		s.HTTPOnlyCookie = *f.HTTPOnly
	}
	if f.SameSite != "" {
		s.SameSite = parseSameSite(f.SameSite)
	}
	s.UseFingerprinting = f.UseFingerprinting
	if f.MaxAge != nil {
		maxAge := time.Duration(*f.MaxAge)
		s.CookieMaxAge = &maxAge
	}
	if f.Expiry != nil {
		s.AuthenticatorExpiry = time.Duration(*f.Expiry)
	}
	if f.IdleTimeout != nil {
		timeout := time.Duration(*f.IdleTimeout)
		s.AuthenticatorIdleTimeout = &timeout
	}
}

func applyJWTFile(s *JWTAuthenticatorSettings, f jwtSettingsFile) {
	if f.FieldName != "" {
		s.FieldName = f.FieldName
		if f.TokenLookup == "" {
			s.TokenLookup = "header:" + f.FieldName
		}
	}
	if f.TokenLookup != "" {
		s.TokenLookup = f.TokenLookup
	}
	if f.Issuer != "" {
		s.Issuer = f.Issuer
	}
	if f.SigningMethod != "" {
		s.SigningMethod = f.SigningMethod
	}
	if f.SharedSecret != "" {
		s.SharedSecret = []byte(f.SharedSecret)
	}
	s.EncryptSubject = f.EncryptSubject
	if f.Expiry != nil {
		s.AuthenticatorExpiry = time.Duration(*f.Expiry)
	}
	if f.IdleTimeout != nil {
		timeout := time.Duration(*f.IdleTimeout)
		s.AuthenticatorIdleTimeout = &timeout
	}
}

func parseSameSite(value string) http.SameSite {
	switch value {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}
