package mesh

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by single-row lookups when the requested entity
// does not exist within the caller's tenant.
var ErrNotFound = errors.New("mesh: not found")

// ErrDuplicateID is returned when a caller attempts to insert an entity whose
// primary key already exists and the operation is not an upsert.
var ErrDuplicateID = errors.New("mesh: duplicate id")

// AgentFilter narrows an agent listing. All non-zero fields are applied as
// AND conditions.
type AgentFilter struct {
	Status     AgentStatus
	Capability string
}

// EdgeQueryOpt configures [GraphStore.OutEdges].
type EdgeQueryOpt func(*edgeQueryOptions)

type edgeQueryOptions struct {
	orderByWeight bool
	limit         int
	minWeight     float64
}

// WithOrderByWeight sorts returned edges by descending weight.
func WithOrderByWeight() EdgeQueryOpt {
	return func(o *edgeQueryOptions) { o.orderByWeight = true }
}

// WithEdgeLimit caps the number of edges returned. 0 means unbounded.
func WithEdgeLimit(n int) EdgeQueryOpt {
	return func(o *edgeQueryOptions) { o.limit = n }
}

// WithMinWeight filters out edges below the given weight.
func WithMinWeight(w float64) EdgeQueryOpt {
	return func(o *edgeQueryOptions) { o.minWeight = w }
}

// ApplyEdgeQueryOpts resolves a list of [EdgeQueryOpt] into its effective
// settings. Store implementations call this rather than re-implementing
// option application.
func ApplyEdgeQueryOpts(opts []EdgeQueryOpt) (orderByWeight bool, limit int, minWeight float64) {
	var o edgeQueryOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o.orderByWeight, o.limit, o.minWeight
}

// MemorySearchFilter narrows a [HyphalMemoryStore.SearchMemories] call. All
// non-zero fields are applied as AND conditions. It also accepts the SDK
// wire-shaped "filters" map via [FiltersFromMap], normalized to the same
// three predicates.
type MemorySearchFilter struct {
	Kind      string
	AgentID   string
	MinQuality float64
}

// FiltersFromMap normalizes the SDK's free-form filters map
// ({"kind": "...", "agent_id": "...", "min_quality": 0.5}) into a
// [MemorySearchFilter]. Unknown keys are ignored.
func FiltersFromMap(m map[string]any) MemorySearchFilter {
	var f MemorySearchFilter
	if v, ok := m["kind"].(string); ok {
		f.Kind = v
	}
	if v, ok := m["agent_id"].(string); ok {
		f.AgentID = v
	}
	switch v := m["min_quality"].(type) {
	case float64:
		f.MinQuality = v
	case int:
		f.MinQuality = float64(v)
	}
	return f
}

// MemorySearchResult pairs a retrieved [HyphalMemory] with its similarity to
// the query embedding, in the same half-open [0,1] convention the routing
// engine uses: Similarity = 1 - cosine_distance.
type MemorySearchResult struct {
	Memory     HyphalMemory
	Similarity float64
}

// EdgeStats summarizes a tenant's edge population.
type EdgeStats struct {
	TotalEdges int
	MeanWeight float64
	MaxWeight  float64
	MinWeight  float64
}

// NeighborProfile is the projection of an [Agent] the Routing Engine needs,
// bulk-fetched by [GraphStore.AgentProfiles] in a single round-trip so the
// routing inner loop never issues per-neighbor lookups.
type NeighborProfile struct {
	AgentID          string
	ProfileEmbedding []float32
	Capabilities     []string
	RecentTasks      []string
	EdgeWeight       float64
	BaseSimilarity   float64
}

// GraphStore is the only component allowed to mutate persistent graph state
// (spec §4.A). Every method is tenant-scoped: no row ever crosses the tenant
// boundary, and that boundary is enforced in the implementation's query
// layer, not by caller discipline. The one exception is ScanStaleEdges,
// which scans every tenant's edges for the background decay task; each
// returned Edge carries its own Tenant.
//
// Implementations must be safe for concurrent use.
type GraphStore interface {
	// ── Agents ──────────────────────────────────────────────────────────
	UpsertAgent(ctx context.Context, a Agent) error
	GetAgent(ctx context.Context, tenant, agentID string) (*Agent, error)
	ListAgents(ctx context.Context, tenant string, filter AgentFilter) ([]Agent, error)
	DeleteAgent(ctx context.Context, tenant, agentID string) error
	RecordAgentTask(ctx context.Context, tenant, agentID, task string) error

	// ── Edges (hyphae) ──────────────────────────────────────────────────

	// OutEdges returns agentID's outbound edges, subject to opts.
	OutEdges(ctx context.Context, tenant, agentID string, opts ...EdgeQueryOpt) ([]Edge, error)

	// AgentProfiles bulk-fetches the routing-relevant projection of every
	// agent ID in ids, paired with each one's edge weight/similarity from
	// src, in a single round trip.
	AgentProfiles(ctx context.Context, tenant, src string, ids []string) ([]NeighborProfile, error)

	// GetEdge returns the edge (src, dst) or ErrNotFound if it has not been
	// created yet (no credit event has ever touched it).
	GetEdge(ctx context.Context, tenant, src, dst string) (*Edge, error)

	// UpsertEdge creates or replaces the edge in full. Used to lazily create
	// an edge on first credit and to persist a clamped update.
	UpsertEdge(ctx context.Context, e Edge) error

	// DeleteEdge removes an edge. Deleting a non-existent edge is not an
	// error.
	DeleteEdge(ctx context.Context, tenant, src, dst string) error

	// WithEdgeTx runs fn with exclusive access to the edge (tenant,src,dst)
	// row: fn is handed the current edge (nil if it does not yet exist) and
	// must return the edge to persist. The whole read-modify-write happens
	// under one row-level transaction so concurrent credit events serialize
	// correctly (spec §4.A, §5 "Ordering guarantees").
	WithEdgeTx(ctx context.Context, tenant, src, dst string, fn func(current *Edge) (Edge, error)) (Edge, error)

	// CountEdges returns the total number of edges owned by tenant. Callers
	// needing this on a hot path should cache it (spec §4.C dynamic cap).
	CountEdges(ctx context.Context, tenant string) (int, error)

	// EdgeStats summarizes tenant's edge population for the /v1/edges/stats
	// operator endpoint.
	EdgeStats(ctx context.Context, tenant string) (EdgeStats, error)

	// TopEdges returns tenant's highest-weight edges across every source
	// agent, subject to minWeight, for the /v1/edges/top operator endpoint.
	TopEdges(ctx context.Context, tenant string, limit int, minWeight float64) ([]Edge, error)

	// ScanStaleEdges returns edges not updated since cutoff, for the
	// background decay task.
	ScanStaleEdges(ctx context.Context, cutoff time.Time, limit int) ([]Edge, error)

	// PruneEdges deletes every edge of tenant whose weight is below
	// threshold and returns the number removed, for the /v1/edges:prune
	// operator endpoint.
	PruneEdges(ctx context.Context, tenant string, threshold float64) (int, error)

	// ── Nutrients ───────────────────────────────────────────────────────
	InsertNutrient(ctx context.Context, n Nutrient) error

	// ── Route records ───────────────────────────────────────────────────
	InsertRouteRecord(ctx context.Context, r RouteRecord) error
	RouteRecordsByTrace(ctx context.Context, tenant, traceID string) ([]RouteRecord, error)
	SetRouteOutcome(ctx context.Context, tenant, traceID, src, dst string, hop int, score float64) error

	// ── Hyphal memory (shares the same store; see HyphalMemoryStore) ────
	HyphalMemoryStore

	// Ping performs a real round-trip health check against the backing
	// store.
	Ping(ctx context.Context) error
}

// HyphalMemoryStore is the persistence contract for component D. It is
// embedded in [GraphStore] because both layers share one transactional
// backend in this design (spec §6 "Persisted state layout"), but it is
// declared separately so the Hyphal Memory Engine can depend on the narrower
// interface.
type HyphalMemoryStore interface {
	InsertMemory(ctx context.Context, m HyphalMemory) error
	GetMemory(ctx context.Context, tenant, id string) (*HyphalMemory, error)
	DeleteMemory(ctx context.Context, tenant, id string) error
	ListMemoriesByAgent(ctx context.Context, tenant, agentID string) ([]HyphalMemory, error)

	// SearchMemories returns the topK memories (not expired as of now)
	// closest to embedding, subject to filter, ordered by ascending vector
	// distance (descending similarity).
	SearchMemories(ctx context.Context, tenant string, embedding []float32, topK int, filter MemorySearchFilter, now time.Time) ([]MemorySearchResult, error)

	// CleanupExpiredMemories deletes every memory whose ExpiresAt lies in
	// the past and returns the number removed. Admin-only operation.
	CleanupExpiredMemories(ctx context.Context, tenant string, now time.Time) (int, error)
}
