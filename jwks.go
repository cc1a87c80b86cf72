package umbra

import (
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// NewJWKSKeyfunc builds a jwt.Keyfunc backed by one or more remote
// JWK Sets, with background refresh. Wire the result into a JWT
// service via WithKeyfunc when tokens are issued by an external
// identity provider with asymmetric keys.
func NewJWKSKeyfunc(logger Logger, jwkSetURLs ...string) (jwt.Keyfunc, error) {
	if len(jwkSetURLs) == 0 {
		return nil, errors.New("at least one JWK Set URL is required", errors.CategoryBadInput).
			WithTextCode(TextCodeInvalidSettings)
	}
	if logger == nil {
		logger = defLogger{}
	}

	opts := keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Error("jwk set background refresh failed: %v", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	}

	if len(jwkSetURLs) == 1 {
		jwks, err := keyfunc.Get(jwkSetURLs[0], opts)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to fetch JWK Set")
		}
		return jwks.Keyfunc, nil
	}

	m := make(map[string]keyfunc.Options, len(jwkSetURLs))
	for _, url := range jwkSetURLs {
		m[url] = opts
	}

	multi, err := keyfunc.GetMultiple(m, keyfunc.MultipleOptions{
		KeySelector: keyfunc.KeySelectorFirst,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to fetch JWK Sets")
	}

	return multi.Keyfunc, nil
}
