package umbra

import "github.com/goliatone/go-errors"

const (
	TextCodeCreationFailed     = "authenticator_creation_failed"
	TextCodeRetrievalFailed    = "authenticator_retrieval_failed"
	TextCodeInitFailed         = "authenticator_init_failed"
	TextCodeUpdateFailed       = "authenticator_update_failed"
	TextCodeRenewalFailed      = "authenticator_renewal_failed"
	TextCodeDiscardingFailed   = "authenticator_discarding_failed"
	TextCodeInvalidSignature   = "artifact_invalid_signature"
	TextCodeMalformedPayload   = "artifact_malformed_payload"
	TextCodeReservedClaim      = "jwt_reserved_claim_collision"
	TextCodeUnsupportedClaim   = "jwt_unsupported_claim_value"
	TextCodeInvalidSettings    = "authenticator_invalid_settings"
	TextCodeFingerprintChanged = "authenticator_fingerprint_changed"
)

// Lifecycle errors. Each wraps the originating cause via Clone/Source
// at the call site so callers keep full diagnostics.

// ErrCreation is returned when a new authenticator cannot be minted.
var ErrCreation = errors.New("authenticator creation failed", errors.CategoryInternal).
	WithTextCode(TextCodeCreationFailed).
	WithCode(errors.CodeInternal)

// ErrRetrieval is returned when locating an authenticator fails for a
// reason other than "nothing present".
var ErrRetrieval = errors.New("authenticator retrieval failed", errors.CategoryInternal).
	WithTextCode(TextCodeRetrievalFailed).
	WithCode(errors.CodeInternal)

// ErrInitialization is returned when an authenticator cannot be turned
// into a transport artifact.
var ErrInitialization = errors.New("authenticator initialization failed", errors.CategoryInternal).
	WithTextCode(TextCodeInitFailed).
	WithCode(errors.CodeInternal)

// ErrUpdate is returned when persisting a touched authenticator fails.
var ErrUpdate = errors.New("authenticator update failed", errors.CategoryInternal).
	WithTextCode(TextCodeUpdateFailed).
	WithCode(errors.CodeInternal)

// ErrRenewal is returned when superseding an authenticator fails.
var ErrRenewal = errors.New("authenticator renewal failed", errors.CategoryInternal).
	WithTextCode(TextCodeRenewalFailed).
	WithCode(errors.CodeInternal)

// ErrDiscarding is returned when invalidating an authenticator fails.
var ErrDiscarding = errors.New("authenticator discarding failed", errors.CategoryInternal).
	WithTextCode(TextCodeDiscardingFailed).
	WithCode(errors.CodeInternal)

// Codec errors. Retrieve treats all of these as "nothing present", but
// the codecs surface them so tampering is distinguishable from absence
// at the codec boundary.

// ErrInvalidSignature is returned when an artifact fails HMAC or JWT
// signature verification.
var ErrInvalidSignature = errors.New("invalid artifact signature", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidSignature).
	WithCode(errors.CodeUnauthorized)

// ErrMalformedPayload is returned when an artifact decodes but does not
// parse into an authenticator.
var ErrMalformedPayload = errors.New("malformed artifact payload", errors.CategoryBadInput).
	WithTextCode(TextCodeMalformedPayload).
	WithCode(errors.CodeBadRequest)

// ErrReservedClaimCollision is returned when custom claims shadow a
// reserved JWT claim name. Serialization fails hard rather than
// silently overriding.
var ErrReservedClaimCollision = errors.New("custom claim collides with reserved claim", errors.CategoryValidation).
	WithTextCode(TextCodeReservedClaim).
	WithCode(errors.CodeBadRequest)

// ErrUnsupportedClaimValue is returned when a custom claim value cannot
// be represented in a JWT payload.
var ErrUnsupportedClaimValue = errors.New("unsupported custom claim value", errors.CategoryValidation).
	WithTextCode(TextCodeUnsupportedClaim).
	WithCode(errors.CodeBadRequest)

// ErrInvalidSettings is returned for fatal configuration problems,
// surfaced at construction time and never retried.
var ErrInvalidSettings = errors.New("invalid authenticator settings", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidSettings).
	WithCode(errors.CodeBadRequest)

func wrapLifecycleError(base *errors.Error, cause error) error {
	if cause == nil {
		return base
	}

	clone := base.Clone()
	if clone == nil {
		return cause
	}

	clone.Source = cause
	return clone.WithMetadata(map[string]any{
		"cause": cause.Error(),
	})
}
