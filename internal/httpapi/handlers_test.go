package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mycelialmesh/meshcore/internal/auth"
	"github.com/mycelialmesh/meshcore/internal/hyphalmemory"
	"github.com/mycelialmesh/meshcore/internal/propagation"
	"github.com/mycelialmesh/meshcore/internal/ratelimit"
	"github.com/mycelialmesh/meshcore/internal/reinforcement"
	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// memStore is an in-memory mesh.GraphStore double, tenant-scoped the same
// way pkg/mesh/postgres.Store is, sufficient to exercise every handler
// without a database.
type memStore struct {
	mu       sync.Mutex
	agents   map[string]mesh.Agent
	edges    map[string]mesh.Edge
	memories map[string]mesh.HyphalMemory
}

func newMemStore() *memStore {
	return &memStore{
		agents:   map[string]mesh.Agent{},
		edges:    map[string]mesh.Edge{},
		memories: map[string]mesh.HyphalMemory{},
	}
}

func agentKey(tenant, id string) string { return tenant + "/" + id }

func (s *memStore) UpsertAgent(ctx context.Context, a mesh.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agentKey(a.Tenant, a.ID)] = a
	return nil
}

func (s *memStore) GetAgent(ctx context.Context, tenant, agentID string) (*mesh.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentKey(tenant, agentID)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *memStore) ListAgents(ctx context.Context, tenant string, filter mesh.AgentFilter) ([]mesh.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mesh.Agent
	for _, a := range s.agents {
		if a.Tenant == tenant {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) DeleteAgent(ctx context.Context, tenant, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, agentKey(tenant, agentID))
	return nil
}

func (s *memStore) RecordAgentTask(ctx context.Context, tenant, agentID, task string) error { return nil }

func (s *memStore) OutEdges(ctx context.Context, tenant, agentID string, opts ...mesh.EdgeQueryOpt) ([]mesh.Edge, error) {
	return nil, nil
}

func (s *memStore) AgentProfiles(ctx context.Context, tenant, src string, ids []string) ([]mesh.NeighborProfile, error) {
	return nil, nil
}

func (s *memStore) GetEdge(ctx context.Context, tenant, src, dst string) (*mesh.Edge, error) {
	return nil, mesh.ErrNotFound
}

func (s *memStore) UpsertEdge(ctx context.Context, e mesh.Edge) error { return nil }
func (s *memStore) DeleteEdge(ctx context.Context, tenant, src, dst string) error { return nil }

func (s *memStore) WithEdgeTx(ctx context.Context, tenant, src, dst string, fn func(current *mesh.Edge) (mesh.Edge, error)) (mesh.Edge, error) {
	return fn(nil)
}

func (s *memStore) CountEdges(ctx context.Context, tenant string) (int, error) { return len(s.edges), nil }

func (s *memStore) EdgeStats(ctx context.Context, tenant string) (mesh.EdgeStats, error) {
	return mesh.EdgeStats{}, nil
}

func (s *memStore) TopEdges(ctx context.Context, tenant string, limit int, minWeight float64) ([]mesh.Edge, error) {
	return nil, nil
}

func (s *memStore) ScanStaleEdges(ctx context.Context, cutoff time.Time, limit int) ([]mesh.Edge, error) {
	return nil, nil
}

func (s *memStore) PruneEdges(ctx context.Context, tenant string, threshold float64) (int, error) {
	return 0, nil
}

func (s *memStore) InsertNutrient(ctx context.Context, n mesh.Nutrient) error { return nil }

func (s *memStore) InsertRouteRecord(ctx context.Context, r mesh.RouteRecord) error { return nil }

func (s *memStore) RouteRecordsByTrace(ctx context.Context, tenant, traceID string) ([]mesh.RouteRecord, error) {
	return nil, nil
}

func (s *memStore) SetRouteOutcome(ctx context.Context, tenant, traceID, src, dst string, hop int, score float64) error {
	return nil
}

func (s *memStore) InsertMemory(ctx context.Context, m mesh.HyphalMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[agentKey(m.Tenant, m.ID)] = m
	return nil
}

func (s *memStore) GetMemory(ctx context.Context, tenant, id string) (*mesh.HyphalMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[agentKey(tenant, id)]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *memStore) DeleteMemory(ctx context.Context, tenant, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memories, agentKey(tenant, id))
	return nil
}

func (s *memStore) ListMemoriesByAgent(ctx context.Context, tenant, agentID string) ([]mesh.HyphalMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mesh.HyphalMemory
	for _, m := range s.memories {
		if m.Tenant == tenant && m.AgentID == agentID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) SearchMemories(ctx context.Context, tenant string, embedding []float32, topK int, filter mesh.MemorySearchFilter, now time.Time) ([]mesh.MemorySearchResult, error) {
	return nil, nil
}

func (s *memStore) CleanupExpiredMemories(ctx context.Context, tenant string, now time.Time) (int, error) {
	return 0, nil
}

func (s *memStore) Ping(ctx context.Context) error { return nil }

type fakeKeyStore struct {
	records map[string]*auth.KeyRecord
}

func (f *fakeKeyStore) LookupByHash(ctx context.Context, keyHash string) (*auth.KeyRecord, error) {
	r, ok := f.records[keyHash]
	if !ok {
		return nil, auth.ErrInvalidKey
	}
	return r, nil
}

func (f *fakeKeyStore) MarkUsed(ctx context.Context, keyHash string, at time.Time) error { return nil }

const testAPIKey = "test-key"

func newTestEngine(t *testing.T) (*gin.Engine, *memStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	keyStore := &fakeKeyStore{records: map[string]*auth.KeyRecord{
		auth.HashAPIKey(testAPIKey): {
			TenantID:           "tenant-a",
			Scopes:             []string{"*"},
			RateLimitPerMinute: 1000,
			Status:             "active",
		},
	}}

	limiter, err := ratelimit.New("redis://localhost:6399/0", slog.Default())
	if err != nil {
		t.Fatalf("ratelimit.New: %v", err)
	}
	t.Cleanup(func() { limiter.Close() })

	quota := ratelimit.QuotaAdapter{Limiter: limiter, LimitPerMinute: 1000}

	engine := gin.New()
	RegisterRoutes(engine, Deps{
		Store:     store,
		Propagate: propagation.New(store, quota),
		Reinforce: reinforcement.New(store, reinforcement.PlasticityParams{}),
		Memory:    hyphalmemory.New(store, slog.Default()),
		Decay:     reinforcement.NewDecayTask(store, reinforcement.DecayParams{}, slog.Default()),
		Resolver:  auth.NewResolver(keyStore),
		Limiter:   limiter,
		Logger:    slog.Default(),
	})
	return engine, store
}

func doRequest(engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndGetAgent(t *testing.T) {
	engine, _ := newTestEngine(t)

	embedding := make([]float32, mesh.EmbeddingDim)
	embedding[0] = 1

	rec := doRequest(engine, http.MethodPost, "/v1/agents:register", map[string]any{
		"agent_id": "agent-1",
		"name":     "Agent One",
		"profile":  map[string]any{"embedding": embedding},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(engine, http.MethodGet, "/v1/agents/agent-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetAgentNotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	rec := doRequest(engine, http.MethodGet, "/v1/agents/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnauthorizedWithoutAPIKey(t *testing.T) {
	engine, _ := newTestEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/agents/agent-1", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHyphalStoreAndGet(t *testing.T) {
	engine, _ := newTestEngine(t)

	embedding := make([]float32, mesh.EmbeddingDim)
	embedding[1] = 1

	rec := doRequest(engine, http.MethodPost, "/v1/hyphal:store", map[string]any{
		"agent_id":  "agent-1",
		"kind":      "fact",
		"content":   map[string]any{"text": "the sky is blue"},
		"embedding": embedding,
		"quality":   0.8,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("store: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var stored hyphalStoreResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	rec = doRequest(engine, http.MethodGet, "/v1/hyphal/"+stored.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBroadcastInvalidEmbeddingDimension(t *testing.T) {
	engine, _ := newTestEngine(t)

	rec := doRequest(engine, http.MethodPost, "/v1/nutrients:broadcast", map[string]any{
		"source_agent_id": "agent-1",
		"summary":         "hello",
		"embedding":       []float32{1, 2, 3},
		"ttl_seconds":     60,
		"max_hops":        2,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminOnlyEndpointRejectsNonAdmin(t *testing.T) {
	engine, _ := newTestEngine(t)

	rec := doRequest(engine, http.MethodPost, "/v1/hyphal:cleanup", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}
