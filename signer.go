package umbra

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/goliatone/go-errors"
)

// signerVersion prefixes signed values so the format can evolve
// without breaking verification of older artifacts.
const signerVersion = "1"

// HMACSigner signs payloads with HMAC-SHA256. The signed format is
// "1-<hex signature>-<payload>", which survives cookie transport and
// is recoverable without knowing the payload length.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner returns a Signer keyed with the given secret.
func NewHMACSigner(key []byte) *HMACSigner {
	return &HMACSigner{key: key}
}

// Sign implements Signer.
func (s *HMACSigner) Sign(data string) string {
	return signerVersion + "-" + s.signature(data) + "-" + data
}

// Extract implements Signer. It fails when the value does not carry
// the expected format or the signature does not match.
func (s *HMACSigner) Extract(signed string) (string, error) {
	parts := strings.SplitN(signed, "-", 3)
	if len(parts) != 3 {
		return "", ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": "signed value does not have three parts",
		})
	}

	version, signature, data := parts[0], parts[1], parts[2]
	if version != signerVersion {
		return "", ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason":  "unknown signer version",
			"version": version,
		})
	}

	expected := s.signature(data)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", ErrInvalidSignature
	}

	return data, nil
}

func (s *HMACSigner) signature(data string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ Signer = (*HMACSigner)(nil)

// ConstantTimeEquals compares two strings without leaking length or
// content timing. Used for state value comparison.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return hmac.Equal([]byte(a), []byte(b))
}

// RequireKey validates signer/crypter key material up front so
// misconfiguration fails at construction rather than on first use.
func RequireKey(key []byte, minLen int) error {
	if len(key) < minLen {
		return errors.New("key material too short", errors.CategoryBadInput).
			WithTextCode(TextCodeInvalidSettings).
			WithMetadata(map[string]any{
				"minimum": minLen,
				"actual":  len(key),
			})
	}
	return nil
}
