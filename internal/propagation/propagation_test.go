package propagation

import (
	"context"
	"testing"
	"time"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

type fakeQuota struct {
	allow bool
}

func (f *fakeQuota) Allow(ctx context.Context, tenant string, cost int) (bool, error) {
	return f.allow, nil
}

// fakeStore is a minimal in-memory mesh.GraphStore double sufficient to
// exercise the Controller without a database.
type fakeStore struct {
	mesh.GraphStore // embed nil; only overridden methods are callable

	nutrients    []mesh.Nutrient
	routeRecords []mesh.RouteRecord
	edges        []mesh.Edge
	profiles     []mesh.NeighborProfile
	memories     []mesh.MemorySearchResult
	edgeCount    int
}

func (f *fakeStore) InsertNutrient(ctx context.Context, n mesh.Nutrient) error {
	f.nutrients = append(f.nutrients, n)
	return nil
}

func (f *fakeStore) InsertRouteRecord(ctx context.Context, r mesh.RouteRecord) error {
	f.routeRecords = append(f.routeRecords, r)
	return nil
}

func (f *fakeStore) CountEdges(ctx context.Context, tenant string) (int, error) {
	return f.edgeCount, nil
}

func (f *fakeStore) OutEdges(ctx context.Context, tenant, agentID string, opts ...mesh.EdgeQueryOpt) ([]mesh.Edge, error) {
	return f.edges, nil
}

func (f *fakeStore) AgentProfiles(ctx context.Context, tenant, src string, ids []string) ([]mesh.NeighborProfile, error) {
	return f.profiles, nil
}

func (f *fakeStore) SearchMemories(ctx context.Context, tenant string, embedding []float32, topK int, filter mesh.MemorySearchFilter, now time.Time) ([]mesh.MemorySearchResult, error) {
	if topK < len(f.memories) {
		return f.memories[:topK], nil
	}
	return f.memories, nil
}

func unitEmbedding() []float32 {
	v := make([]float32, mesh.EmbeddingDim)
	v[0] = 1
	return v
}

func TestBroadcastValidation(t *testing.T) {
	store := &fakeStore{}
	ctrl := New(store, &fakeQuota{allow: true})

	_, err := ctrl.Broadcast(context.Background(), BroadcastInput{
		Tenant:     "t1",
		Embedding:  make([]float32, 10),
		TTLSeconds: 60,
		MaxHops:    1,
	})
	if err == nil {
		t.Fatal("expected dimension validation error")
	}
}

func TestBroadcastExpiredImmediately(t *testing.T) {
	store := &fakeStore{}
	ctrl := New(store, &fakeQuota{allow: true})

	_, err := ctrl.Broadcast(context.Background(), BroadcastInput{
		Tenant:     "t1",
		Embedding:  unitEmbedding(),
		TTLSeconds: 0,
		MaxHops:    1,
	})
	if err == nil {
		t.Fatal("expected ttl validation error for ttl=0")
	}
}

func TestBroadcastQuotaExceeded(t *testing.T) {
	store := &fakeStore{}
	ctrl := New(store, &fakeQuota{allow: false})

	_, err := ctrl.Broadcast(context.Background(), BroadcastInput{
		Tenant:     "t1",
		Embedding:  unitEmbedding(),
		TTLSeconds: 60,
		MaxHops:    1,
	})
	if err != ErrQuotaExceeded {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestBroadcastPersistsSelfRouteAndNutrient(t *testing.T) {
	store := &fakeStore{edgeCount: 100}
	ctrl := New(store, &fakeQuota{allow: true})

	result, err := ctrl.Broadcast(context.Background(), BroadcastInput{
		Tenant:        "t1",
		SourceAgentID: "agent-1",
		Embedding:     unitEmbedding(),
		TTLSeconds:    60,
		MaxHops:       1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.nutrients) != 1 {
		t.Fatalf("expected 1 nutrient persisted, got %d", len(store.nutrients))
	}
	if len(store.routeRecords) != 1 {
		t.Fatalf("expected 1 self-route record (no neighbors), got %d", len(store.routeRecords))
	}
	if store.routeRecords[0].Src != "agent-1" || store.routeRecords[0].Dst != "agent-1" || store.routeRecords[0].Hop != 0 {
		t.Errorf("expected self-route at hop 0, got %+v", store.routeRecords[0])
	}
	if result.NutrientID == "" || result.TraceID == "" {
		t.Error("expected nutrient and trace IDs to be assigned")
	}
}

func TestCollectDiversifiesBySourceAgent(t *testing.T) {
	store := &fakeStore{
		memories: []mesh.MemorySearchResult{
			{Memory: mesh.HyphalMemory{ID: "m1", AgentID: "a"}, Similarity: 0.9},
			{Memory: mesh.HyphalMemory{ID: "m2", AgentID: "a"}, Similarity: 0.8},
			{Memory: mesh.HyphalMemory{ID: "m3", AgentID: "b"}, Similarity: 0.7},
		},
	}
	ctrl := New(store, &fakeQuota{allow: true})

	result, err := ctrl.Collect(context.Background(), CollectInput{
		Tenant:          "t1",
		DemandEmbedding: unitEmbedding(),
		TopK:            2,
		Diversify:       true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results := result.Results
	if len(results) != 2 {
		t.Fatalf("expected 2 diversified results, got %d", len(results))
	}
	if results[0].Memory.AgentID == results[1].Memory.AgentID {
		t.Errorf("expected distinct source agents, got %+v", results)
	}
	if !result.Metadata.Diversified || result.Metadata.TopK != 2 {
		t.Errorf("expected metadata to echo request params, got %+v", result.Metadata)
	}
}

func TestCollectWindowMSIsAdvisoryOnly(t *testing.T) {
	store := &fakeStore{
		memories: []mesh.MemorySearchResult{
			{Memory: mesh.HyphalMemory{ID: "m1", AgentID: "a"}, Similarity: 0.9},
		},
	}
	ctrl := New(store, &fakeQuota{allow: true})

	result, err := ctrl.Collect(context.Background(), CollectInput{
		Tenant:           "t1",
		DemandEmbedding:  unitEmbedding(),
		AdvisoryWindowMS: 250,
		TopK:             1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Metadata.AdvisoryWindowMS != 250 {
		t.Errorf("expected advisory window echoed back as 250, got %d", result.Metadata.AdvisoryWindowMS)
	}
	if len(result.Results) != 1 || result.Results[0].Memory.ID != "m1" {
		t.Errorf("window_ms must not filter or reorder results, got %+v", result.Results)
	}

	_, err = ctrl.Collect(context.Background(), CollectInput{
		Tenant:           "t1",
		DemandEmbedding:  unitEmbedding(),
		AdvisoryWindowMS: 1,
		TopK:             1,
	})
	if err == nil {
		t.Fatal("expected validation error for out-of-bounds window_ms")
	}
}

func TestCollectDimensionMismatch(t *testing.T) {
	store := &fakeStore{}
	ctrl := New(store, &fakeQuota{allow: true})

	_, err := ctrl.Collect(context.Background(), CollectInput{
		Tenant:          "t1",
		DemandEmbedding: make([]float32, 4),
		TopK:            1,
	})
	if err == nil {
		t.Fatal("expected dimension validation error")
	}
}
