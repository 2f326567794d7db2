package auth

import (
	"context"
	"testing"
	"time"
)

type fakeKeyStore struct {
	records map[string]*KeyRecord
	used    []string
}

func (f *fakeKeyStore) LookupByHash(ctx context.Context, keyHash string) (*KeyRecord, error) {
	return f.records[keyHash], nil
}

func (f *fakeKeyStore) MarkUsed(ctx context.Context, keyHash string, at time.Time) error {
	f.used = append(f.used, keyHash)
	return nil
}

func TestResolveEmptyKey(t *testing.T) {
	r := NewResolver(&fakeKeyStore{})
	_, err := r.Resolve(context.Background(), "")
	if err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestResolveUnknownKey(t *testing.T) {
	r := NewResolver(&fakeKeyStore{records: map[string]*KeyRecord{}})
	_, err := r.Resolve(context.Background(), "secret")
	if err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestResolveExpiredKey(t *testing.T) {
	hash := HashAPIKey("secret")
	past := time.Now().Add(-time.Hour)
	store := &fakeKeyStore{records: map[string]*KeyRecord{
		hash: {TenantID: "t1", Status: "active", ExpiresAt: &past},
	}}
	r := NewResolver(store)
	_, err := r.Resolve(context.Background(), "secret")
	if err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey for expired key, got %v", err)
	}
}

func TestResolveRevokedKey(t *testing.T) {
	hash := HashAPIKey("secret")
	store := &fakeKeyStore{records: map[string]*KeyRecord{
		hash: {TenantID: "t1", Status: "revoked"},
	}}
	r := NewResolver(store)
	_, err := r.Resolve(context.Background(), "secret")
	if err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey for revoked key, got %v", err)
	}
}

func TestResolveValidKey(t *testing.T) {
	hash := HashAPIKey("secret")
	store := &fakeKeyStore{records: map[string]*KeyRecord{
		hash: {TenantID: "t1", Status: "active", Scopes: []string{"nutrients:write"}, RateLimitPerMinute: 500},
	}}
	r := NewResolver(store)
	identity, err := r.Resolve(context.Background(), "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.TenantID != "t1" || identity.IsAdmin {
		t.Errorf("unexpected identity: %+v", identity)
	}
	if len(store.used) != 1 {
		t.Errorf("expected MarkUsed called once, got %d", len(store.used))
	}
}

func TestResolveAdminTenantGrantsAdmin(t *testing.T) {
	hash := HashAPIKey("admin-secret")
	store := &fakeKeyStore{records: map[string]*KeyRecord{
		hash: {TenantID: AdminTenantID, Status: "active"},
	}}
	r := NewResolver(store)
	identity, err := r.Resolve(context.Background(), "admin-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !identity.IsAdmin {
		t.Error("expected admin tenant to resolve as admin")
	}
}

func TestResolveAdminScopeGrantsAdmin(t *testing.T) {
	hash := HashAPIKey("scoped-secret")
	store := &fakeKeyStore{records: map[string]*KeyRecord{
		hash: {TenantID: "t2", Status: "active", Scopes: []string{AdminScope}},
	}}
	r := NewResolver(store)
	identity, err := r.Resolve(context.Background(), "scoped-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !identity.IsAdmin {
		t.Error("expected admin:* scope to resolve as admin")
	}
}
