package social

import "github.com/goliatone/go-errors"

const (
	TextCodeAccessDenied         = "social_access_denied"
	TextCodeUnexpectedResponse   = "social_unexpected_response"
	TextCodeInvalidResponse      = "social_invalid_response_format"
	TextCodeProfileRetrieval     = "social_profile_retrieval_failed"
	TextCodeClientStateMissing   = "social_client_state_missing"
	TextCodeProviderStateMissing = "social_provider_state_missing"
	TextCodeStateMismatch        = "social_state_mismatch"
	TextCodeStateExpired         = "social_state_expired"
	TextCodeMalformedState       = "social_malformed_state"
	TextCodeSecretMissing        = "social_request_secret_missing"
	TextCodeMissingSetting       = "social_missing_setting"
)

// ErrAccessDenied is returned when the user declined the provider's
// consent screen. It is an authentication outcome, not a crash.
var ErrAccessDenied = errors.New("user denied provider authorization", errors.CategoryAuth).
	WithTextCode(TextCodeAccessDenied).
	WithCode(errors.CodeForbidden)

// ErrUnexpectedResponse is returned when the provider signals an error
// other than access denial, or a token/request exchange fails.
var ErrUnexpectedResponse = errors.New("unexpected provider response", errors.CategoryAuth).
	WithTextCode(TextCodeUnexpectedResponse).
	WithCode(errors.CodeUnauthorized)

// ErrInvalidResponseFormat is returned when a provider body parses but
// does not carry the expected credential fields.
var ErrInvalidResponseFormat = errors.New("invalid provider response format", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidResponse).
	WithCode(errors.CodeUnauthorized)

// ErrProfileRetrieval is returned when fetching or mapping the user
// profile fails after a successful token exchange.
var ErrProfileRetrieval = errors.New("failed to retrieve user profile", errors.CategoryAuth).
	WithTextCode(TextCodeProfileRetrieval).
	WithCode(errors.CodeUnauthorized)

// ErrClientStateMissing is returned when the browser did not present
// the CSRF state cookie on callback.
var ErrClientStateMissing = errors.New("client csrf state missing", errors.CategoryAuth).
	WithTextCode(TextCodeClientStateMissing).
	WithCode(errors.CodeForbidden)

// ErrProviderStateMissing is returned when the provider callback lacks
// the state query parameter.
var ErrProviderStateMissing = errors.New("provider csrf state missing", errors.CategoryAuth).
	WithTextCode(TextCodeProviderStateMissing).
	WithCode(errors.CodeForbidden)

// ErrStateMismatch is returned when cookie and callback state values
// differ.
var ErrStateMismatch = errors.New("csrf state mismatch", errors.CategoryAuth).
	WithTextCode(TextCodeStateMismatch).
	WithCode(errors.CodeForbidden)

// ErrStateExpired is returned when the CSRF state outlived its window.
var ErrStateExpired = errors.New("csrf state expired", errors.CategoryAuth).
	WithTextCode(TextCodeStateExpired).
	WithCode(errors.CodeForbidden)

// ErrMalformedState is returned when a state value fails to decode.
var ErrMalformedState = errors.New("malformed csrf state", errors.CategoryBadInput).
	WithTextCode(TextCodeMalformedState).
	WithCode(errors.CodeBadRequest)

// ErrRequestSecretMissing is returned when the OAuth1 request-token
// secret cannot be recovered on callback.
var ErrRequestSecretMissing = errors.New("oauth1 request secret missing", errors.CategoryAuth).
	WithTextCode(TextCodeSecretMissing).
	WithCode(errors.CodeForbidden)

// ErrMissingSetting is returned for fatal provider configuration
// problems, e.g. a missing authorization URL.
var ErrMissingSetting = errors.New("missing provider setting", errors.CategoryBadInput).
	WithTextCode(TextCodeMissingSetting).
	WithCode(errors.CodeBadRequest)
