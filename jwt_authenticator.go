package umbra

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// reservedClaims are claim names owned by the codec. Custom claims
// shadowing any of them fail serialization.
var reservedClaims = map[string]struct{}{
	"jti": {},
	"sub": {},
	"iss": {},
	"iat": {},
	"exp": {},
	"nbf": {},
	"aud": {},
}

// JWTCodec serializes authenticators as standard three-part JWTs. The
// login info travels in the sub claim as base64url JSON, optionally
// encrypted first.
type JWTCodec struct {
	settings JWTAuthenticatorSettings
	crypter  Crypter
	keyfunc  jwt.Keyfunc
}

// NewJWTCodec validates the settings and returns a codec.
func NewJWTCodec(settings JWTAuthenticatorSettings) (*JWTCodec, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &JWTCodec{settings: settings}, nil
}

// WithCrypter enables sub-claim encryption.
func (c *JWTCodec) WithCrypter(crypter Crypter) *JWTCodec {
	c.crypter = crypter
	return c
}

// WithKeyfunc overrides signature verification, e.g. for JWKS-backed
// asymmetric keys. Serialization still uses the shared secret.
func (c *JWTCodec) WithKeyfunc(fn jwt.Keyfunc) *JWTCodec {
	c.keyfunc = fn
	return c
}

// Serialize encodes the authenticator. Reserved claims are populated
// from the record; custom claims merge at the top level and collide
// hard rather than silently overriding.
func (c *JWTCodec) Serialize(a *Authenticator) (string, error) {
	if a == nil {
		return "", ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": "nil authenticator",
		})
	}

	sub, err := c.encodeSubject(a.LoginInfo)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"jti": a.ID,
		"sub": sub,
		"iss": c.settings.Issuer,
		"iat": a.LastUsedAt.Unix(),
		"exp": a.ExpiresAt.Unix(),
	}

	for name, value := range a.CustomClaims {
		if _, reserved := reservedClaims[name]; reserved {
			return "", ErrReservedClaimCollision.Clone().WithMetadata(map[string]any{
				"claim": name,
			})
		}
		if err := validateClaimValue(name, value); err != nil {
			return "", err
		}
		claims[name] = value
	}

	method := jwt.GetSigningMethod(c.settings.SigningMethod)
	if method == nil {
		return "", ErrInvalidSettings.Clone().WithMetadata(map[string]any{
			"signing_method": c.settings.SigningMethod,
		})
	}

	token, err := jwt.NewWithClaims(method, claims).SignedString(c.settings.SharedSecret)
	if err != nil {
		return "", ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": err.Error(),
		})
	}

	return token, nil
}

// Unserialize decodes and verifies a token. Expiry is NOT enforced
// here: an expired token still decodes so the service layer can treat
// "present but invalid" distinctly from "absent".
func (c *JWTCodec) Unserialize(artifact string) (*Authenticator, error) {
	keyFn := c.keyfunc
	if keyFn == nil {
		keyFn = func(t *jwt.Token) (any, error) {
			return c.settings.SharedSecret, nil
		}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.Parse(artifact, keyFn)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrInvalidSignature.Clone().WithMetadata(map[string]any{
				"cause": err.Error(),
			})
		}
		return nil, ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"cause": err.Error(),
		})
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": "claims are not a map",
		})
	}

	id, _ := claims["jti"].(string)
	sub, _ := claims["sub"].(string)
	if id == "" || sub == "" {
		return nil, ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": "missing jti or sub claim",
		})
	}

	loginInfo, err := c.decodeSubject(sub)
	if err != nil {
		return nil, err
	}

	iat, err := numericClaim(claims, "iat")
	if err != nil {
		return nil, err
	}
	exp, err := numericClaim(claims, "exp")
	if err != nil {
		return nil, err
	}

	authenticator := &Authenticator{
		ID:          id,
		LoginInfo:   loginInfo,
		LastUsedAt:  time.Unix(iat, 0).UTC(),
		ExpiresAt:   time.Unix(exp, 0).UTC(),
		IdleTimeout: c.settings.AuthenticatorIdleTimeout,
	}

	custom := make(map[string]any)
	for name, value := range claims {
		if _, reserved := reservedClaims[name]; reserved {
			continue
		}
		custom[name] = value
	}
	if len(custom) > 0 {
		authenticator.CustomClaims = custom
	}

	return authenticator, nil
}

func (c *JWTCodec) encodeSubject(loginInfo LoginInfo) (string, error) {
	raw, err := json.Marshal(loginInfo)
	if err != nil {
		return "", ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": err.Error(),
		})
	}

	if c.settings.EncryptSubject {
		if c.crypter == nil {
			return "", ErrInvalidSettings.Clone().WithMetadata(map[string]any{
				"reason": "subject encryption enabled without a crypter",
			})
		}
		return c.crypter.Encrypt(string(raw))
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func (c *JWTCodec) decodeSubject(sub string) (LoginInfo, error) {
	var raw string

	if c.settings.EncryptSubject {
		if c.crypter == nil {
			return LoginInfo{}, ErrInvalidSettings.Clone().WithMetadata(map[string]any{
				"reason": "subject encryption enabled without a crypter",
			})
		}
		decrypted, err := c.crypter.Decrypt(sub)
		if err != nil {
			return LoginInfo{}, err
		}
		raw = decrypted
	} else {
		decoded, err := base64.RawURLEncoding.DecodeString(sub)
		if err != nil {
			return LoginInfo{}, ErrMalformedPayload.Clone().WithMetadata(map[string]any{
				"reason": "sub claim is not base64url",
			})
		}
		raw = string(decoded)
	}

	var loginInfo LoginInfo
	if err := json.Unmarshal([]byte(raw), &loginInfo); err != nil {
		return LoginInfo{}, ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": "sub claim is not login info JSON",
		})
	}
	if loginInfo.ProviderID == "" {
		return LoginInfo{}, ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": "sub claim missing provider id",
		})
	}

	return loginInfo, nil
}

func numericClaim(claims jwt.MapClaims, name string) (int64, error) {
	switch v := claims[name].(type) {
	case float64:
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, ErrMalformedPayload.Clone().WithMetadata(map[string]any{
				"claim": name,
			})
		}
		return n, nil
	default:
		return 0, ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"claim":  name,
			"reason": "missing or non-numeric",
		})
	}
}

// validateClaimValue rejects values that cannot survive a JSON round
// trip through a JWT payload.
func validateClaimValue(name string, value any) error {
	switch v := value.(type) {
	case nil, string, bool,
		int, int32, int64, float32, float64, json.Number:
		return nil
	case []string:
		return nil
	case []any:
		for _, item := range v {
			if err := validateClaimValue(name, item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for _, item := range v {
			if err := validateClaimValue(name, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return ErrUnsupportedClaimValue.Clone().WithMetadata(map[string]any{
			"claim": name,
			"type":  fmt.Sprintf("%T", value),
		})
	}
}

// JWTAuthenticatorService drives the lifecycle of JWT-borne
// authenticators. The token itself is the artifact; an optional
// repository cross-checks tokens by jti so they can be revoked server
// side.
type JWTAuthenticatorService struct {
	settings JWTAuthenticatorSettings
	codec    *JWTCodec
	idGen    IDGenerator
	clock    Clock
	repo     AuthenticatorRepository
	logger   Logger
	sink     EventSink
}

// NewJWTAuthenticatorService validates settings and returns a service
// with system defaults for the clock and ID generator.
func NewJWTAuthenticatorService(settings JWTAuthenticatorSettings) (*JWTAuthenticatorService, error) {
	codec, err := NewJWTCodec(settings)
	if err != nil {
		return nil, err
	}

	return &JWTAuthenticatorService{
		settings: settings,
		codec:    codec,
		idGen:    NewSecureIDGenerator(0),
		clock:    SystemClock{},
		logger:   defLogger{},
	}, nil
}

func (s *JWTAuthenticatorService) WithLogger(logger Logger) *JWTAuthenticatorService {
	s.logger = logger
	return s
}

func (s *JWTAuthenticatorService) WithClock(clock Clock) *JWTAuthenticatorService {
	s.clock = clock
	return s
}

func (s *JWTAuthenticatorService) WithIDGenerator(gen IDGenerator) *JWTAuthenticatorService {
	s.idGen = gen
	return s
}

// WithRepository enables server-side cross-checking and revocation.
func (s *JWTAuthenticatorService) WithRepository(repo AuthenticatorRepository) *JWTAuthenticatorService {
	s.repo = repo
	return s
}

func (s *JWTAuthenticatorService) WithEventSink(sink EventSink) *JWTAuthenticatorService {
	s.sink = normalizeEventSink(sink)
	return s
}

// WithCrypter enables sub-claim encryption on the underlying codec.
func (s *JWTAuthenticatorService) WithCrypter(crypter Crypter) *JWTAuthenticatorService {
	s.codec.WithCrypter(crypter)
	return s
}

// WithKeyfunc overrides token verification on the underlying codec.
func (s *JWTAuthenticatorService) WithKeyfunc(fn jwt.Keyfunc) *JWTAuthenticatorService {
	s.codec.WithKeyfunc(fn)
	return s
}

// Codec exposes the underlying codec for direct serialization.
func (s *JWTAuthenticatorService) Codec() *JWTCodec {
	return s.codec
}

// Create mints a new authenticator for the given login info.
func (s *JWTAuthenticatorService) Create(ctx context.Context, loginInfo LoginInfo) (*Authenticator, error) {
	id, err := s.idGen.Generate(ctx)
	if err != nil {
		s.logger.Error("jwt authenticator id generation failed: %v", err)
		return nil, wrapLifecycleError(ErrCreation, err)
	}

	now := s.clock.Now()
	authenticator := &Authenticator{
		ID:          id,
		LoginInfo:   loginInfo,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(s.settings.AuthenticatorExpiry),
		IdleTimeout: s.settings.AuthenticatorIdleTimeout,
	}

	publishEvent(ctx, s.sink, s.logger, s.clock, Event{
		Type:            EventAuthenticatorCreated,
		LoginInfo:       loginInfo,
		AuthenticatorID: id,
	})

	return authenticator, nil
}

// Retrieve locates and decodes the token carried by the request.
// Absence and decode failures yield (nil, nil); with a repository the
// stored record is authoritative and a missing entry means the token
// was revoked.
func (s *JWTAuthenticatorService) Retrieve(ctx context.Context, r *http.Request) (*Authenticator, error) {
	artifact, err := ExtractArtifact(r, GetExtractors(s.settings.TokenLookup))
	if err != nil {
		return nil, nil
	}

	authenticator, err := s.codec.Unserialize(artifact)
	if err != nil {
		s.logger.Debug("jwt authenticator decode failed: %v", err)
		return nil, nil
	}

	if s.repo == nil {
		noteInvalid(ctx, s.sink, s.logger, s.clock, authenticator)
		return authenticator, nil
	}

	stored, err := s.repo.Find(ctx, authenticator.ID)
	if err != nil {
		s.logger.Error("jwt authenticator lookup failed: %v", err)
		return nil, wrapLifecycleError(ErrRetrieval, err)
	}

	noteInvalid(ctx, s.sink, s.logger, s.clock, stored)
	return stored, nil
}

// Init turns a freshly created authenticator into its signed token,
// persisting the record first when repository backed.
func (s *JWTAuthenticatorService) Init(ctx context.Context, authenticator *Authenticator) (string, error) {
	if s.repo != nil {
		if _, err := s.repo.Add(ctx, authenticator); err != nil {
			return "", wrapLifecycleError(ErrInitialization, err)
		}
	}

	artifact, err := s.codec.Serialize(authenticator)
	if err != nil {
		return "", wrapLifecycleError(ErrInitialization, err)
	}
	return artifact, nil
}

// Embed attaches the token to an outgoing response header, replacing
// any prior value.
func (s *JWTAuthenticatorService) Embed(artifact string, w http.ResponseWriter) {
	w.Header().Set(s.settings.FieldName, artifact)
}

// EmbedRequest attaches the token to a synthetic incoming request.
func (s *JWTAuthenticatorService) EmbedRequest(artifact string, r *http.Request) *http.Request {
	clone := r.Clone(r.Context())
	clone.Header.Set(s.settings.FieldName, artifact)
	return clone
}

// Touch bumps the last-used timestamp when an idle timeout is
// configured.
func (s *JWTAuthenticatorService) Touch(authenticator *Authenticator) (*Authenticator, bool) {
	if authenticator == nil || authenticator.IdleTimeout == nil {
		return authenticator, false
	}

	touched := authenticator.Clone()
	touched.LastUsedAt = s.clock.Now()

	publishEvent(context.Background(), s.sink, s.logger, s.clock, Event{
		Type:            EventAuthenticatorTouched,
		LoginInfo:       touched.LoginInfo,
		AuthenticatorID: touched.ID,
	})

	return touched, true
}

// Update persists a (possibly touched) authenticator and embeds the
// re-signed token into the response.
func (s *JWTAuthenticatorService) Update(ctx context.Context, authenticator *Authenticator, w http.ResponseWriter) error {
	if s.repo != nil {
		if _, err := s.repo.Update(ctx, authenticator); err != nil {
			return wrapLifecycleError(ErrUpdate, err)
		}
	}

	artifact, err := s.codec.Serialize(authenticator)
	if err != nil {
		return wrapLifecycleError(ErrUpdate, err)
	}

	s.Embed(artifact, w)
	return nil
}

// Renew supersedes the authenticator: new ID, fresh timestamps, old
// repository entry removed. Remove and add are sequential, not
// transactional.
func (s *JWTAuthenticatorService) Renew(ctx context.Context, authenticator *Authenticator, w http.ResponseWriter) (*Authenticator, error) {
	id, err := s.idGen.Generate(ctx)
	if err != nil {
		return nil, wrapLifecycleError(ErrRenewal, err)
	}

	now := s.clock.Now()
	renewed := authenticator.Clone()
	renewed.ID = id
	renewed.LastUsedAt = now
	renewed.ExpiresAt = now.Add(s.settings.AuthenticatorExpiry)
	renewed.IdleTimeout = s.settings.AuthenticatorIdleTimeout

	if s.repo != nil {
		if err := s.repo.Remove(ctx, authenticator.ID); err != nil {
			return nil, wrapLifecycleError(ErrRenewal, err)
		}
		if _, err := s.repo.Add(ctx, renewed); err != nil {
			return nil, wrapLifecycleError(ErrRenewal, err)
		}
	}

	artifact, err := s.codec.Serialize(renewed)
	if err != nil {
		return nil, wrapLifecycleError(ErrRenewal, err)
	}
	s.Embed(artifact, w)

	publishEvent(ctx, s.sink, s.logger, s.clock, Event{
		Type:            EventAuthenticatorRenewed,
		LoginInfo:       renewed.LoginInfo,
		AuthenticatorID: renewed.ID,
		Metadata:        map[string]any{"previous_id": authenticator.ID},
	})

	return renewed, nil
}

// Discard invalidates the authenticator: the repository entry is
// removed and the transport header omitted from the response.
func (s *JWTAuthenticatorService) Discard(ctx context.Context, authenticator *Authenticator, w http.ResponseWriter) error {
	if s.repo != nil && authenticator != nil {
		if err := s.repo.Remove(ctx, authenticator.ID); err != nil {
			return wrapLifecycleError(ErrDiscarding, err)
		}
	}

	w.Header().Del(s.settings.FieldName)

	if authenticator != nil {
		publishEvent(ctx, s.sink, s.logger, s.clock, Event{
			Type:            EventAuthenticatorDiscarded,
			LoginInfo:       authenticator.LoginInfo,
			AuthenticatorID: authenticator.ID,
		})
	}

	return nil
}
