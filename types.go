package umbra

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Clock abstracts the time source so validity rules can be exercised
// against a pinned instant.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock is the default wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// IDGenerator produces cryptographically unguessable identifiers, one
// per call. Authenticator IDs and OAuth state values come from here.
type IDGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// Signer signs a payload so it can round-trip through an untrusted
// client and be verified on the way back.
type Signer interface {
	Sign(data string) string
	// Extract verifies a signed value and returns the original payload.
	Extract(signed string) (string, error)
}

// Crypter encrypts opaque payloads embedded in transport artifacts,
// such as the login info carried in a JWT subject claim.
type Crypter interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AuthenticatorRepository is the optional backing store for stateful
// authenticators. Find returns (nil, nil) when no record exists; an
// error always means the lookup itself failed.
type AuthenticatorRepository interface {
	Find(ctx context.Context, id string) (*Authenticator, error)
	Add(ctx context.Context, authenticator *Authenticator) (*Authenticator, error)
	Update(ctx context.Context, authenticator *Authenticator) (*Authenticator, error)
	Remove(ctx context.Context, id string) error
}

// DefaultLogger returns the fallback stdout logger used when no
// Logger is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] UMBRA "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] UMBRA "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] UMBRA "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
