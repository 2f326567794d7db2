// Package propagation implements the Propagation Controller: nutrient
// broadcast validation/persistence/routing and demand-embedding collection.
// It depends only on the [mesh.GraphStore] and [routing] interfaces, never
// on a concrete postgres type, the way the teacher's internal/app depends on
// memory.SessionStore/memory.KnowledgeGraph interfaces rather than
// *postgres.Store directly.
package propagation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mycelialmesh/meshcore/internal/routing"
	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// Validation and precondition errors returned by [Controller.Broadcast] and
// [Controller.Collect]. Callers map these to transport status codes (see
// internal/httpapi/apierr).
var (
	ErrValidation    = errors.New("propagation: validation failed")
	ErrExpired       = errors.New("propagation: nutrient would be born expired")
	ErrQuotaExceeded = errors.New("propagation: quota exceeded")
)

const (
	minTTLSeconds = 1
	maxTTLSeconds = 3600
	minMaxHops    = 1
	maxMaxHops    = 10

	minWindowMS = 100
	maxWindowMS = 5000
	minTopK     = 1
	maxTopK     = 50
	maxSearchTopK = 100

	dynamicCapMin = 20
	dynamicCapMax = 50
	dynamicCapDivisor = 10

	defaultSourceAgentID = "default"
)

// QuotaChecker gates nutrient broadcasts against a per-tenant quota window.
// Implemented by internal/ratelimit; declared here so the Controller depends
// on an interface, not a concrete limiter.
type QuotaChecker interface {
	Allow(ctx context.Context, tenant string, cost int) (bool, error)
}

// Clock is overridable for deterministic tests; defaults to time.Now.
type Clock func() time.Time

// BroadcastInput is the validated payload for [Controller.Broadcast].
type BroadcastInput struct {
	Tenant        string
	SourceAgentID string // optional; falls back to defaultSourceAgentID
	Summary       string
	Embedding     []float32
	Snippets      []string
	ToolHints     []string
	Sensitivity   mesh.Sensitivity
	TTLSeconds    int
	MaxHops       int
	QuotaCost     int
}

// BroadcastResult reports the persisted nutrient and the neighbors it was
// routed to.
type BroadcastResult struct {
	NutrientID string
	TraceID    string
	ExpiresAt  time.Time
	Routed     []routing.Result
}

// CollectInput is the validated payload for [Controller.Collect].
//
// AdvisoryWindowMS mirrors original_source/services/data_plane/router's
// window_ms field: the source validates it against the same [100,5000]ms
// bounds and echoes it back in the response, but never uses it to gate,
// delay, or rank the query — collect reads whatever is already persisted
// in Hyphal Memory, and there is no "late arrival" concept to wait out.
// This package keeps that behavior rather than inventing a wait or a
// recency bias the source never had: it validates the bound and carries
// the value through to [CollectResult.Metadata] unchanged.
type CollectInput struct {
	Tenant           string
	DemandEmbedding  []float32
	AdvisoryWindowMS int
	TopK             int
	Diversify        bool
}

// CollectMetadata echoes the caller's collect parameters back alongside the
// results, the way original_source's router does in its response dict.
type CollectMetadata struct {
	AdvisoryWindowMS int
	TopK             int
	Diversified      bool
}

// CollectResult is the return value of [Controller.Collect].
type CollectResult struct {
	Results  []mesh.MemorySearchResult
	Metadata CollectMetadata
}

// Controller implements component C. It is safe for concurrent use; its only
// mutable shared state is the dynamic-cap cache, which is itself
// concurrency-safe.
type Controller struct {
	store   mesh.GraphStore
	quota   QuotaChecker
	clock   Clock
	capCache *dynamicCapCache
}

// Option configures a [Controller].
type Option func(*Controller)

// WithClock overrides the controller's time source, for deterministic
// tests.
func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// New builds a Controller over store, gating broadcasts through quota.
func New(store mesh.GraphStore, quota QuotaChecker, opts ...Option) *Controller {
	c := &Controller{
		store:    store,
		quota:    quota,
		clock:    time.Now,
		capCache: newDynamicCapCache(5 * time.Minute),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Broadcast validates, persists, and routes one nutrient, per spec §4.C.
func (c *Controller) Broadcast(ctx context.Context, in BroadcastInput) (*BroadcastResult, error) {
	if err := validateBroadcastInput(in); err != nil {
		return nil, err
	}

	now := c.clock()

	sourceAgent := in.SourceAgentID
	if sourceAgent == "" {
		sourceAgent = defaultSourceAgentID
	}

	cost := in.QuotaCost
	if cost <= 0 {
		cost = 1
	}
	allowed, err := c.quota.Allow(ctx, in.Tenant, cost)
	if err != nil {
		return nil, fmt.Errorf("propagation: quota check: %w", err)
	}
	if !allowed {
		return nil, ErrQuotaExceeded
	}

	expiresAt := now.Add(time.Duration(in.TTLSeconds) * time.Second)
	if !now.Before(expiresAt) {
		return nil, ErrExpired
	}

	nutrientID := newID("nut")
	traceID := newID("trace")

	n := mesh.Nutrient{
		ID:          nutrientID,
		Tenant:      in.Tenant,
		TraceID:     traceID,
		SourceAgent: sourceAgent,
		Summary:     in.Summary,
		Embedding:   in.Embedding,
		Snippets:    in.Snippets,
		ToolHints:   in.ToolHints,
		Sensitivity: in.Sensitivity,
		CurrentHop:  0,
		MaxHops:     in.MaxHops,
		TTLSeconds:  in.TTLSeconds,
		QuotaCost:   cost,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	if err := c.store.InsertNutrient(ctx, n); err != nil {
		return nil, fmt.Errorf("propagation: insert nutrient: %w", err)
	}

	// Self-route record at hop 0 so outcome reporting always has something
	// to credit, even for an agent with no neighbors yet.
	if err := c.store.InsertRouteRecord(ctx, mesh.RouteRecord{
		Tenant:       in.Tenant,
		NutrientID:   nutrientID,
		TraceID:      traceID,
		Src:          sourceAgent,
		Dst:          sourceAgent,
		Hop:          0,
		RoutingScore: 1.0,
		RoutedAt:     now,
	}); err != nil {
		return nil, fmt.Errorf("propagation: insert self-route record: %w", err)
	}

	cap, err := c.dynamicCap(ctx, in.Tenant)
	if err != nil {
		return nil, fmt.Errorf("propagation: dynamic cap: %w", err)
	}

	edges, err := c.store.OutEdges(ctx, in.Tenant, sourceAgent, mesh.WithOrderByWeight(), mesh.WithEdgeLimit(cap))
	if err != nil {
		return nil, fmt.Errorf("propagation: out edges: %w", err)
	}

	neighborIDs := make([]string, len(edges))
	for i, e := range edges {
		neighborIDs[i] = e.Dst
	}
	profiles, err := c.store.AgentProfiles(ctx, in.Tenant, sourceAgent, neighborIDs)
	if err != nil {
		return nil, fmt.Errorf("propagation: agent profiles: %w", err)
	}

	routed, err := routing.Route(in.Embedding, in.ToolHints, profiles, routing.Options{
		TopK:      routing.DefaultTopK,
		Diversify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("propagation: route: %w", err)
	}

	for _, r := range routed {
		if err := c.store.InsertRouteRecord(ctx, mesh.RouteRecord{
			Tenant:       in.Tenant,
			NutrientID:   nutrientID,
			TraceID:      traceID,
			Src:          sourceAgent,
			Dst:          r.AgentID,
			Hop:          0,
			RoutingScore: r.Score.Total,
			RoutedAt:     now,
		}); err != nil {
			return nil, fmt.Errorf("propagation: insert route record: %w", err)
		}
	}

	return &BroadcastResult{
		NutrientID: nutrientID,
		TraceID:    traceID,
		ExpiresAt:  expiresAt,
		Routed:     routed,
	}, nil
}

// Collect runs a demand-embedding vector search against Hyphal Memory,
// optionally diversified by source agent, per spec §4.C. AdvisoryWindowMS
// is validated and echoed in the result metadata but does not affect which
// rows are returned or their order; see [CollectInput].
func (c *Controller) Collect(ctx context.Context, in CollectInput) (*CollectResult, error) {
	if err := validateCollectInput(in); err != nil {
		return nil, err
	}

	now := c.clock()

	fetchK := in.TopK
	if in.Diversify {
		fetchK = in.TopK * 2
	}

	results, err := c.store.SearchMemories(ctx, in.Tenant, in.DemandEmbedding, fetchK, mesh.MemorySearchFilter{}, now)
	if err != nil {
		return nil, fmt.Errorf("propagation: search memories: %w", err)
	}

	metadata := CollectMetadata{
		AdvisoryWindowMS: in.AdvisoryWindowMS,
		TopK:             in.TopK,
		Diversified:      in.Diversify,
	}

	if !in.Diversify {
		if len(results) > in.TopK {
			results = results[:in.TopK]
		}
		return &CollectResult{Results: results, Metadata: metadata}, nil
	}

	seen := make(map[string]bool, in.TopK)
	diversified := make([]mesh.MemorySearchResult, 0, in.TopK)
	for _, r := range results {
		if len(diversified) >= in.TopK {
			break
		}
		if seen[r.Memory.AgentID] {
			continue
		}
		seen[r.Memory.AgentID] = true
		diversified = append(diversified, r)
	}
	return &CollectResult{Results: diversified, Metadata: metadata}, nil
}

func validateBroadcastInput(in BroadcastInput) error {
	if len(in.Embedding) != mesh.EmbeddingDim {
		return fmt.Errorf("%w: embedding must be %d-dimensional, got %d", ErrValidation, mesh.EmbeddingDim, len(in.Embedding))
	}
	if in.TTLSeconds < minTTLSeconds || in.TTLSeconds > maxTTLSeconds {
		return fmt.Errorf("%w: ttl_sec must be in [%d,%d]", ErrValidation, minTTLSeconds, maxTTLSeconds)
	}
	if in.MaxHops < minMaxHops || in.MaxHops > maxMaxHops {
		return fmt.Errorf("%w: max_hops must be in [%d,%d]", ErrValidation, minMaxHops, maxMaxHops)
	}
	if in.Sensitivity != "" && !mesh.ValidSensitivity(in.Sensitivity) {
		return fmt.Errorf("%w: unrecognized sensitivity %q", ErrValidation, in.Sensitivity)
	}
	return nil
}

func validateCollectInput(in CollectInput) error {
	if len(in.DemandEmbedding) != mesh.EmbeddingDim {
		return fmt.Errorf("%w: demand_embedding must be %d-dimensional, got %d", ErrValidation, mesh.EmbeddingDim, len(in.DemandEmbedding))
	}
	if in.AdvisoryWindowMS != 0 && (in.AdvisoryWindowMS < minWindowMS || in.AdvisoryWindowMS > maxWindowMS) {
		return fmt.Errorf("%w: window_ms must be in [%d,%d]", ErrValidation, minWindowMS, maxWindowMS)
	}
	if in.TopK < minTopK || in.TopK > maxTopK {
		return fmt.Errorf("%w: top_k must be in [%d,%d]", ErrValidation, minTopK, maxTopK)
	}
	return nil
}

func newID(prefix string) string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return prefix + "_" + hex.EncodeToString(buf[:])
}
