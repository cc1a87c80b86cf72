package umbra

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SecureIDGenerator produces hex-encoded random identifiers from
// crypto/rand. The default size yields 256 bits of entropy.
type SecureIDGenerator struct {
	Size int
}

// NewSecureIDGenerator returns a generator producing ids of the given
// byte size, defaulting to 32 bytes.
func NewSecureIDGenerator(size int) *SecureIDGenerator {
	if size <= 0 {
		size = 32
	}
	return &SecureIDGenerator{Size: size}
}

// Generate implements IDGenerator.
func (g *SecureIDGenerator) Generate(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, errors.CategoryOperation, "context cancelled during id generation")
	}

	size := g.Size
	if size <= 0 {
		size = 32
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to read random bytes")
	}

	return hex.EncodeToString(buf), nil
}

// UUIDGenerator produces random UUIDv4 identifiers. Useful when the
// backing store indexes authenticators by UUID column.
type UUIDGenerator struct{}

// Generate implements IDGenerator.
func (UUIDGenerator) Generate(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, errors.CategoryOperation, "context cancelled during id generation")
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate uuid")
	}

	return id.String(), nil
}
