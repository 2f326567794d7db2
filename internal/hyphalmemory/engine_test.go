package hyphalmemory

import (
	"context"
	"testing"
	"time"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

type fakeMemStore struct {
	mesh.HyphalMemoryStore
	inserted []mesh.HyphalMemory
}

func (f *fakeMemStore) InsertMemory(ctx context.Context, m mesh.HyphalMemory) error {
	f.inserted = append(f.inserted, m)
	return nil
}

func (f *fakeMemStore) SearchMemories(ctx context.Context, tenant string, embedding []float32, topK int, filter mesh.MemorySearchFilter, now time.Time) ([]mesh.MemorySearchResult, error) {
	return nil, nil
}

func unitEmbedding() []float32 {
	v := make([]float32, mesh.EmbeddingDim)
	v[0] = 1
	return v
}

func TestStoreValidatesEmbeddingDimension(t *testing.T) {
	eng := New(&fakeMemStore{}, nil)
	_, err := eng.Store(context.Background(), StoreInput{
		Tenant:    "t1",
		Embedding: make([]float32, 4),
		Kind:      "insight",
	})
	if err == nil {
		t.Fatal("expected dimension validation error")
	}
}

func TestStoreDefaultsSensitivityToInternal(t *testing.T) {
	store := &fakeMemStore{}
	eng := New(store, nil)
	_, err := eng.Store(context.Background(), StoreInput{
		Tenant:    "t1",
		Embedding: unitEmbedding(),
		Kind:      "insight",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.inserted[0].Sensitivity != mesh.SensitivityInternal {
		t.Errorf("expected default sensitivity internal, got %v", store.inserted[0].Sensitivity)
	}
}

func TestStoreComputesExpiryFromTTL(t *testing.T) {
	store := &fakeMemStore{}
	eng := New(store, nil)
	_, err := eng.Store(context.Background(), StoreInput{
		Tenant:    "t1",
		Embedding: unitEmbedding(),
		Kind:      "insight",
		TTLHours:  1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.inserted[0].ExpiresAt == nil {
		t.Fatal("expected non-nil ExpiresAt when TTLHours > 0")
	}
}

func TestStoreRejectsOutOfRangeQuality(t *testing.T) {
	eng := New(&fakeMemStore{}, nil)
	_, err := eng.Store(context.Background(), StoreInput{
		Tenant:    "t1",
		Embedding: unitEmbedding(),
		Kind:      "insight",
		Quality:   1.5,
	})
	if err == nil {
		t.Fatal("expected quality validation error")
	}
}

func TestSearchValidatesTopK(t *testing.T) {
	eng := New(&fakeMemStore{}, nil)
	_, err := eng.Search(context.Background(), SearchInput{
		Tenant:    "t1",
		Embedding: unitEmbedding(),
		TopK:      0,
	})
	if err == nil {
		t.Fatal("expected top_k validation error")
	}
}
