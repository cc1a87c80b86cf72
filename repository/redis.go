package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
	"github.com/umbrakit/umbra"
)

const defaultKeyPrefix = "umbra:authenticator:"

// RedisRepository stores authenticators as JSON values with a TTL
// matching the absolute expiry, so Redis reclaims dead sessions on its
// own.
type RedisRepository struct {
	client    redis.UniversalClient
	keyPrefix string
	clock     umbra.Clock
}

// NewRedisRepository wraps an existing client. The caller owns the
// client lifecycle (pooling, close).
func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		clock:     umbra.SystemClock{},
	}
}

// WithKeyPrefix overrides the key namespace.
func (r *RedisRepository) WithKeyPrefix(prefix string) *RedisRepository {
	r.keyPrefix = prefix
	return r
}

// WithClock overrides the time source used to compute TTLs.
func (r *RedisRepository) WithClock(clock umbra.Clock) *RedisRepository {
	r.clock = clock
	return r
}

// Find implements umbra.AuthenticatorRepository.
func (r *RedisRepository) Find(ctx context.Context, id string) (*umbra.Authenticator, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "redis authenticator lookup failed")
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "redis authenticator payload corrupt")
	}

	authenticator, err := rec.toAuthenticator()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "redis authenticator payload corrupt")
	}

	return authenticator, nil
}

// Add implements umbra.AuthenticatorRepository.
func (r *RedisRepository) Add(ctx context.Context, authenticator *umbra.Authenticator) (*umbra.Authenticator, error) {
	if err := r.set(ctx, authenticator); err != nil {
		return nil, err
	}
	return authenticator, nil
}

// Update implements umbra.AuthenticatorRepository.
func (r *RedisRepository) Update(ctx context.Context, authenticator *umbra.Authenticator) (*umbra.Authenticator, error) {
	if err := r.set(ctx, authenticator); err != nil {
		return nil, err
	}
	return authenticator, nil
}

// Remove implements umbra.AuthenticatorRepository.
func (r *RedisRepository) Remove(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "redis authenticator delete failed")
	}
	return nil
}

func (r *RedisRepository) set(ctx context.Context, authenticator *umbra.Authenticator) error {
	rec, err := toRecord(authenticator)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode authenticator")
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode authenticator")
	}

	ttl := authenticator.ExpiresAt.Sub(r.clock.Now())
	if ttl <= 0 {
		ttl = time.Minute
	}

	if err := r.client.Set(ctx, r.key(authenticator.ID), raw, ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "redis authenticator write failed")
	}
	return nil
}

func (r *RedisRepository) key(id string) string {
	return r.keyPrefix + id
}

var _ umbra.AuthenticatorRepository = (*RedisRepository)(nil)
