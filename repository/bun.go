package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/umbrakit/umbra"
	"github.com/uptrace/bun"
)

// AuthenticatorModel is the Bun model for persisted authenticators.
type AuthenticatorModel struct {
	bun.BaseModel `bun:"table:authenticators"`

	ID           string     `bun:"id,pk"`
	ProviderID   string     `bun:"provider_id,notnull"`
	ProviderKey  string     `bun:"provider_key,notnull"`
	LastUsedAt   time.Time  `bun:"last_used_at,notnull"`
	ExpiresAt    time.Time  `bun:"expires_at,notnull"`
	IdleSeconds  *int64     `bun:"idle_seconds"`
	Fingerprint  string     `bun:"fingerprint"`
	CustomClaims string     `bun:"custom_claims"`
	CreatedAt    time.Time  `bun:"created_at,default:current_timestamp"`
	UpdatedAt    *time.Time `bun:"updated_at"`
}

// BunRepository implements umbra.AuthenticatorRepository on a SQL
// store through Bun.
type BunRepository struct {
	db *bun.DB
}

// NewBunRepository creates a new SQL-backed repository.
func NewBunRepository(db *bun.DB) *BunRepository {
	return &BunRepository{db: db}
}

// CreateTable creates the authenticators table if missing. Intended
// for tests and bootstrap scripts; production schemas belong in
// migrations.
func (r *BunRepository) CreateTable(ctx context.Context) error {
	_, err := r.db.NewCreateTable().
		Model((*AuthenticatorModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create authenticators table")
	}
	return nil
}

// Find implements umbra.AuthenticatorRepository.
func (r *BunRepository) Find(ctx context.Context, id string) (*umbra.Authenticator, error) {
	var model AuthenticatorModel
	err := r.db.NewSelect().
		Model(&model).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "authenticator lookup failed")
	}

	return r.toAuthenticator(&model)
}

// Add implements umbra.AuthenticatorRepository.
func (r *BunRepository) Add(ctx context.Context, authenticator *umbra.Authenticator) (*umbra.Authenticator, error) {
	model, err := r.fromAuthenticator(authenticator)
	if err != nil {
		return nil, err
	}
	model.CreatedAt = time.Now()

	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "authenticator insert failed")
	}

	return authenticator, nil
}

// Update implements umbra.AuthenticatorRepository.
func (r *BunRepository) Update(ctx context.Context, authenticator *umbra.Authenticator) (*umbra.Authenticator, error) {
	model, err := r.fromAuthenticator(authenticator)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	model.UpdatedAt = &now

	res, err := r.db.NewUpdate().
		Model(model).
		WherePK().
		ExcludeColumn("created_at").
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "authenticator update failed")
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, goerrors.New("authenticator not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound)
	}

	return authenticator, nil
}

// Remove implements umbra.AuthenticatorRepository.
func (r *BunRepository) Remove(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*AuthenticatorModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "authenticator delete failed")
	}
	return nil
}

func (r *BunRepository) fromAuthenticator(a *umbra.Authenticator) (*AuthenticatorModel, error) {
	model := &AuthenticatorModel{
		ID:          a.ID,
		ProviderID:  a.LoginInfo.ProviderID,
		ProviderKey: a.LoginInfo.ProviderKey,
		LastUsedAt:  a.LastUsedAt,
		ExpiresAt:   a.ExpiresAt,
		Fingerprint: a.Fingerprint,
	}
	if a.IdleTimeout != nil {
		seconds := int64(a.IdleTimeout.Seconds())
		model.IdleSeconds = &seconds
	}
	if len(a.CustomClaims) > 0 {
		raw, err := json.Marshal(a.CustomClaims)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode custom claims")
		}
		model.CustomClaims = string(raw)
	}
	return model, nil
}

func (r *BunRepository) toAuthenticator(model *AuthenticatorModel) (*umbra.Authenticator, error) {
	authenticator := &umbra.Authenticator{
		ID: model.ID,
		LoginInfo: umbra.LoginInfo{
			ProviderID:  model.ProviderID,
			ProviderKey: model.ProviderKey,
		},
		LastUsedAt:  model.LastUsedAt,
		ExpiresAt:   model.ExpiresAt,
		Fingerprint: model.Fingerprint,
	}
	if model.IdleSeconds != nil {
		timeout := time.Duration(*model.IdleSeconds) * time.Second
		authenticator.IdleTimeout = &timeout
	}
	if model.CustomClaims != "" {
		var claims map[string]any
		if err := json.Unmarshal([]byte(model.CustomClaims), &claims); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "custom claims payload corrupt")
		}
		authenticator.CustomClaims = claims
	}
	return authenticator, nil
}

var _ umbra.AuthenticatorRepository = (*BunRepository)(nil)
