package umbra

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"
)

type cookiePayload struct {
	ID          string    `json:"id"`
	LoginInfo   LoginInfo `json:"loginInfo"`
	LastUsedAt  int64     `json:"lastUsedDateTime"`
	ExpiresAt   int64     `json:"expirationDateTime"`
	IdleSeconds *int64    `json:"idleTimeout,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
}

// SerializeCookieAuthenticator encodes an authenticator for cookie
// transport: JSON, base64url, then an HMAC signature over the encoded
// payload. Timestamps are carried at second resolution.
func SerializeCookieAuthenticator(a *Authenticator, signer Signer) (string, error) {
	if a == nil {
		return "", ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": "nil authenticator",
		})
	}

	payload := cookiePayload{
		ID:          a.ID,
		LoginInfo:   a.LoginInfo,
		LastUsedAt:  a.LastUsedAt.Unix(),
		ExpiresAt:   a.ExpiresAt.Unix(),
		Fingerprint: a.Fingerprint,
	}
	if a.IdleTimeout != nil {
		seconds := int64(a.IdleTimeout.Seconds())
		payload.IdleSeconds = &seconds
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": err.Error(),
		})
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return signer.Sign(encoded), nil
}

// UnserializeCookieAuthenticator reverses SerializeCookieAuthenticator,
// failing with ErrInvalidSignature on tampering and ErrMalformedPayload
// on structural problems.
func UnserializeCookieAuthenticator(artifact string, signer Signer) (*Authenticator, error) {
	encoded, err := signer.Extract(artifact)
	if err != nil {
		return nil, err
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": "payload is not base64url",
		})
	}

	var payload cookiePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": err.Error(),
		})
	}
	if payload.ID == "" || payload.LoginInfo.ProviderID == "" {
		return nil, ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": "missing id or login info",
		})
	}

	authenticator := &Authenticator{
		ID:          payload.ID,
		LoginInfo:   payload.LoginInfo,
		LastUsedAt:  time.Unix(payload.LastUsedAt, 0).UTC(),
		ExpiresAt:   time.Unix(payload.ExpiresAt, 0).UTC(),
		Fingerprint: payload.Fingerprint,
	}
	if payload.IdleSeconds != nil {
		timeout := time.Duration(*payload.IdleSeconds) * time.Second
		authenticator.IdleTimeout = &timeout
	}

	return authenticator, nil
}

// CookieAuthenticatorService drives the lifecycle of cookie-borne
// authenticators. Without a repository the cookie is self-contained;
// with one the cookie carries only the authenticator ID and the record
// lives server side.
type CookieAuthenticatorService struct {
	settings     CookieAuthenticatorSettings
	signer       Signer
	idGen        IDGenerator
	clock        Clock
	repo         AuthenticatorRepository
	fingerprints FingerprintGenerator
	logger       Logger
	sink         EventSink
}

// NewCookieAuthenticatorService validates settings and returns a
// service with system defaults for the clock and ID generator.
func NewCookieAuthenticatorService(settings CookieAuthenticatorSettings, signer Signer) (*CookieAuthenticatorService, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, ErrInvalidSettings.Clone().WithMetadata(map[string]any{
			"reason": "signer is required",
		})
	}

	return &CookieAuthenticatorService{
		settings:     settings,
		signer:       signer,
		idGen:        NewSecureIDGenerator(0),
		clock:        SystemClock{},
		fingerprints: DefaultFingerprintGenerator{},
		logger:       defLogger{},
	}, nil
}

func (s *CookieAuthenticatorService) WithLogger(logger Logger) *CookieAuthenticatorService {
	s.logger = logger
	return s
}

func (s *CookieAuthenticatorService) WithClock(clock Clock) *CookieAuthenticatorService {
	s.clock = clock
	return s
}

func (s *CookieAuthenticatorService) WithIDGenerator(gen IDGenerator) *CookieAuthenticatorService {
	s.idGen = gen
	return s
}

// WithRepository switches the service to stateful mode.
func (s *CookieAuthenticatorService) WithRepository(repo AuthenticatorRepository) *CookieAuthenticatorService {
	s.repo = repo
	return s
}

func (s *CookieAuthenticatorService) WithFingerprintGenerator(gen FingerprintGenerator) *CookieAuthenticatorService {
	s.fingerprints = gen
	return s
}

func (s *CookieAuthenticatorService) WithEventSink(sink EventSink) *CookieAuthenticatorService {
	s.sink = normalizeEventSink(sink)
	return s
}

// Create mints a new authenticator for the given login info. The
// request supplies fingerprint signals when fingerprinting is enabled.
func (s *CookieAuthenticatorService) Create(ctx context.Context, loginInfo LoginInfo, r *http.Request) (*Authenticator, error) {
	id, err := s.idGen.Generate(ctx)
	if err != nil {
		s.logger.Error("cookie authenticator id generation failed: %v", err)
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

	if s.settings.UseFingerprinting && r != nil {
		authenticator.Fingerprint = s.fingerprints.Generate(r)
	}

	publishEvent(ctx, s.sink, s.logger, s.clock, Event{
		Type:            EventAuthenticatorCreated,
		LoginInfo:       loginInfo,
		AuthenticatorID: id,
	})

	return authenticator, nil
}

// Retrieve locates and decodes the authenticator carried by the
// request. Absence, tampering, unknown IDs, and fingerprint mismatches
// all yield (nil, nil); only unexpected repository failures error.
func (s *CookieAuthenticatorService) Retrieve(ctx context.Context, r *http.Request) (*Authenticator, error) {
	cookie, err := r.Cookie(s.settings.CookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	if s.repo != nil {
		return s.retrieveBacked(ctx, cookie.Value, r)
	}

	authenticator, err := UnserializeCookieAuthenticator(cookie.Value, s.signer)
	if err != nil {
		s.logger.Debug("cookie authenticator decode failed: %v", err)
		return nil, nil
	}

	if !s.fingerprintMatches(ctx, authenticator, r) {
		return nil, nil
	}

	noteInvalid(ctx, s.sink, s.logger, s.clock, authenticator)
	return authenticator, nil
}

func (s *CookieAuthenticatorService) retrieveBacked(ctx context.Context, id string, r *http.Request) (*Authenticator, error) {
	authenticator, err := s.repo.Find(ctx, id)
	if err != nil {
		s.logger.Error("cookie authenticator lookup failed: %v", err)
		return nil, wrapLifecycleError(ErrRetrieval, err)
	}
	if authenticator == nil {
		return nil, nil
	}

	if !s.fingerprintMatches(ctx, authenticator, r) {
		return nil, nil
	}

	noteInvalid(ctx, s.sink, s.logger, s.clock, authenticator)
	return authenticator, nil
}

func (s *CookieAuthenticatorService) fingerprintMatches(ctx context.Context, authenticator *Authenticator, r *http.Request) bool {
	if authenticator.Fingerprint == "" {
		return true
	}

	current := s.fingerprints.Generate(r)
	if ConstantTimeEquals(authenticator.Fingerprint, current) {
		return true
	}

	s.logger.Info("cookie authenticator fingerprint mismatch for %s", authenticator.LoginInfo)
	publishEvent(ctx, s.sink, s.logger, s.clock, Event{
		Type:            EventFingerprintMismatch,
		LoginInfo:       authenticator.LoginInfo,
		AuthenticatorID: authenticator.ID,
	})

	return false
}

// Init turns a freshly created authenticator into its transport
// artifact, persisting it first when repository backed.
func (s *CookieAuthenticatorService) Init(ctx context.Context, authenticator *Authenticator) (string, error) {
	if s.repo != nil {
		if _, err := s.repo.Add(ctx, authenticator); err != nil {
			return "", wrapLifecycleError(ErrInitialization, err)
		}
		return authenticator.ID, nil
	}

	artifact, err := SerializeCookieAuthenticator(authenticator, s.signer)
	if err != nil {
		return "", wrapLifecycleError(ErrInitialization, err)
	}
	return artifact, nil
}

// Embed attaches the artifact to an outgoing response, replacing any
// prior cookie of the same name.
func (s *CookieAuthenticatorService) Embed(artifact string, w http.ResponseWriter) {
	http.SetCookie(w, s.transportCookie(artifact))
}

// EmbedRequest attaches the artifact to a synthetic incoming request,
// preserving unrelated cookies. Useful for handler chaining.
func (s *CookieAuthenticatorService) EmbedRequest(artifact string, r *http.Request) *http.Request {
	return replaceRequestCookie(r, s.transportCookie(artifact))
}

// Touch bumps the last-used timestamp when an idle timeout is
// configured. The boolean reports whether anything changed, so callers
// only re-persist and re-embed on true.
func (s *CookieAuthenticatorService) Touch(authenticator *Authenticator) (*Authenticator, bool) {
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

// Update persists a (possibly touched) authenticator and re-embeds its
// artifact into the response.
func (s *CookieAuthenticatorService) Update(ctx context.Context, authenticator *Authenticator, w http.ResponseWriter) error {
	artifact := authenticator.ID

	if s.repo != nil {
		if _, err := s.repo.Update(ctx, authenticator); err != nil {
			return wrapLifecycleError(ErrUpdate, err)
		}
	} else {
		serialized, err := SerializeCookieAuthenticator(authenticator, s.signer)
		if err != nil {
			return wrapLifecycleError(ErrUpdate, err)
		}
		artifact = serialized
	}

	s.Embed(artifact, w)
	return nil
}

// Renew supersedes the authenticator wholesale: a new ID and fresh
// timestamps, the old repository entry removed. The remove and add are
// sequential, not transactional; a crash in between loses the session
// and forces a fresh login.
func (s *CookieAuthenticatorService) Renew(ctx context.Context, authenticator *Authenticator, w http.ResponseWriter) (*Authenticator, error) {
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

	artifact := renewed.ID
	if s.repo != nil {
		if err := s.repo.Remove(ctx, authenticator.ID); err != nil {
			return nil, wrapLifecycleError(ErrRenewal, err)
		}
		if _, err := s.repo.Add(ctx, renewed); err != nil {
			return nil, wrapLifecycleError(ErrRenewal, err)
		}
	} else {
		serialized, err := SerializeCookieAuthenticator(renewed, s.signer)
		if err != nil {
			return nil, wrapLifecycleError(ErrRenewal, err)
		}
		artifact = serialized
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
// removed and the cookie expired immediately.
func (s *CookieAuthenticatorService) Discard(ctx context.Context, authenticator *Authenticator, w http.ResponseWriter) error {
	if s.repo != nil && authenticator != nil {
		if err := s.repo.Remove(ctx, authenticator.ID); err != nil {
			return wrapLifecycleError(ErrDiscarding, err)
		}
	}

	discard := s.transportCookie("")
	discard.MaxAge = -1
	discard.Expires = time.Unix(0, 0)
	http.SetCookie(w, discard)

	if authenticator != nil {
		publishEvent(ctx, s.sink, s.logger, s.clock, Event{
			Type:            EventAuthenticatorDiscarded,
			LoginInfo:       authenticator.LoginInfo,
			AuthenticatorID: authenticator.ID,
		})
	}

	return nil
}

func (s *CookieAuthenticatorService) transportCookie(value string) *http.Cookie {
	cookie := &http.Cookie{
		Name:     s.settings.CookieName,
		Value:    value,
		Path:     s.settings.CookiePath,
		Domain:   s.settings.CookieDomain,
		Secure:   s.settings.SecureCookie,
		HttpOnly: s.settings.HTTPOnlyCookie,
		SameSite: s.settings.SameSite,
	}
	if s.settings.CookieMaxAge != nil {
		cookie.MaxAge = int(s.settings.CookieMaxAge.Seconds())
	}
	return cookie
}
