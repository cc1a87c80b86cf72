package umbra

import (
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"strings"
)

// FingerprintGenerator derives a stable hash of client signals from an
// incoming request. A cookie authenticator bound to a fingerprint is
// rejected when presented by a client with different signals.
type FingerprintGenerator interface {
	Generate(r *http.Request) string
}

// FingerprintGeneratorFunc adapts a function to the interface.
type FingerprintGeneratorFunc func(r *http.Request) string

func (f FingerprintGeneratorFunc) Generate(r *http.Request) string {
	return f(r)
}

// DefaultFingerprintGenerator hashes User-Agent, Accept-Language and
// Accept-Charset into a stable client fingerprint.
type DefaultFingerprintGenerator struct{}

// Generate implements FingerprintGenerator.
func (DefaultFingerprintGenerator) Generate(r *http.Request) string {
	if r == nil {
		return ""
	}

	parts := []string{
		r.Header.Get("User-Agent"),
		r.Header.Get("Accept-Language"),
		r.Header.Get("Accept-Charset"),
	}

	sum := sha1.Sum([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}
