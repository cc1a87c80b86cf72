package umbra

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/goliatone/go-errors"
	"golang.org/x/crypto/nacl/secretbox"
)

// SecretboxCrypter encrypts payloads with NaCl secretbox
// (XSalsa20-Poly1305). The nonce is prepended to the ciphertext and
// the whole value is base64url encoded for transport.
type SecretboxCrypter struct {
	key [32]byte
}

// NewSecretboxCrypter returns a Crypter keyed with a 32-byte secret.
func NewSecretboxCrypter(key []byte) (*SecretboxCrypter, error) {
	if len(key) != 32 {
		return nil, errors.New("secretbox key must be 32 bytes", errors.CategoryBadInput).
			WithTextCode(TextCodeInvalidSettings).
			WithMetadata(map[string]any{"actual": len(key)})
	}

	c := &SecretboxCrypter{}
	copy(c.key[:], key)
	return c, nil
}

// Encrypt implements Crypter.
func (c *SecretboxCrypter) Encrypt(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate nonce")
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt implements Crypter.
func (c *SecretboxCrypter) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": "ciphertext is not base64url",
		})
	}

	if len(raw) < 24 {
		return "", ErrMalformedPayload.Clone().WithMetadata(map[string]any{
			"reason": "ciphertext shorter than nonce",
		})
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plaintext, ok := secretbox.Open(nil, raw[24:], &nonce, &c.key)
	if !ok {
		return "", ErrInvalidSignature
	}

	return string(plaintext), nil
}

var _ Crypter = (*SecretboxCrypter)(nil)
