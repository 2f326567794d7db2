package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mycelialmesh/meshcore/internal/auth"
)

// KeyStore is a reference [auth.KeyStore] backed by the same pool as the
// graph store. Key issuance and rotation belong to an external identity
// service and stay out of scope; this type only ever reads the table a
// deployment without that external service still needs something to back
// auth.Resolver, the way pkg/memory/postgres backs every other store
// interface directly against Postgres.
type KeyStore struct {
	store *Store
}

// NewKeyStore wraps store's pool for API key lookups.
func NewKeyStore(store *Store) *KeyStore {
	return &KeyStore{store: store}
}

// LookupByHash implements [auth.KeyStore].
func (k *KeyStore) LookupByHash(ctx context.Context, keyHash string) (*auth.KeyRecord, error) {
	const q = `
		SELECT tenant_id, scopes, rate_limit_rpm, status, expires_at
		FROM   api_keys
		WHERE  key_hash = $1`

	var (
		rec        auth.KeyRecord
		scopesJSON []byte
	)
	err := k.store.pool.QueryRow(ctx, q, keyHash).Scan(
		&rec.TenantID, &scopesJSON, &rec.RateLimitPerMinute, &rec.Status, &rec.ExpiresAt,
	)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("api keys: lookup: %w", err)
	}
	if err := json.Unmarshal(scopesJSON, &rec.Scopes); err != nil {
		return nil, fmt.Errorf("api keys: unmarshal scopes: %w", err)
	}
	return &rec, nil
}

// MarkUsed implements [auth.KeyStore].
func (k *KeyStore) MarkUsed(ctx context.Context, keyHash string, at time.Time) error {
	const q = `UPDATE api_keys SET last_used_at = $2 WHERE key_hash = $1`
	if _, err := k.store.pool.Exec(ctx, q, keyHash, at); err != nil {
		return fmt.Errorf("api keys: mark used: %w", err)
	}
	return nil
}

// UpsertKey creates or replaces an API key record. It exists for operator
// bootstrapping (seeding the admin key on first deploy) and tests; no HTTP
// endpoint exposes it, since key issuance is out of scope.
func (k *KeyStore) UpsertKey(ctx context.Context, keyHash string, rec auth.KeyRecord) error {
	scopesJSON, err := json.Marshal(rec.Scopes)
	if err != nil {
		return fmt.Errorf("api keys: marshal scopes: %w", err)
	}

	const q = `
		INSERT INTO api_keys (key_hash, tenant_id, scopes, rate_limit_rpm, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key_hash) DO UPDATE SET
		    tenant_id      = EXCLUDED.tenant_id,
		    scopes         = EXCLUDED.scopes,
		    rate_limit_rpm = EXCLUDED.rate_limit_rpm,
		    status         = EXCLUDED.status,
		    expires_at     = EXCLUDED.expires_at`

	if _, err := k.store.pool.Exec(ctx, q, keyHash, rec.TenantID, scopesJSON,
		rec.RateLimitPerMinute, rec.Status, rec.ExpiresAt); err != nil {
		return fmt.Errorf("api keys: upsert: %w", err)
	}
	return nil
}
