// Package mesh defines the shared data model for the mycelial knowledge
// substrate: agents, weighted edges ("hyphae"), nutrients, route records,
// hyphal memories, and outcomes. It mirrors the three-layer split the rest of
// this module follows — plain value types here, storage interfaces in
// store.go ([GraphStore], [HyphalMemoryStore]), and concrete backends under pkg/mesh/postgres.
//
// Every type in this package is tenant-scoped: a Tenant string travels
// alongside the entity itself (Agent.Tenant, Edge.Tenant, ...) rather than
// being threaded through context, so that store implementations can enforce
// row-level isolation directly in SQL WHERE clauses without relying on
// caller discipline.
//
// All implementations of the interfaces declared in store.go must be safe for
// concurrent use.
package mesh

import "time"

// EmbeddingDim is the fixed dimensionality of every embedding vector handled
// by the mesh. Embeddings arrive pre-computed from an external model; the
// mesh never computes them itself.
const EmbeddingDim = 1536

// AgentStatus classifies the operating state of an [Agent].
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentIdle      AgentStatus = "idle"
	AgentSuspended AgentStatus = "suspended"
)

// Sensitivity classifies how widely a [Nutrient] or [HyphalMemory] may be
// shared. The zero value is not a valid sensitivity — callers must set one
// of the four recognized levels.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "public"
	SensitivityInternal     Sensitivity = "internal"
	SensitivityConfidential Sensitivity = "confidential"
	SensitivitySecret       Sensitivity = "secret"
)

// ValidSensitivity reports whether s is one of the four recognized levels.
func ValidSensitivity(s Sensitivity) bool {
	switch s {
	case SensitivityPublic, SensitivityInternal, SensitivityConfidential, SensitivitySecret:
		return true
	default:
		return false
	}
}

// RecognizedMemoryKinds lists the normalized set of [HyphalMemory] kind tags
// called out in the design. Store.StoreMemory accepts any kind string but
// logs a warning when the kind falls outside this set.
var RecognizedMemoryKinds = map[string]bool{
	"insight":      true,
	"snippet":      true,
	"tool_hint":    true,
	"plan":         true,
	"outcome":      true,
	"result":       true,
	"task":         true,
	"context":      true,
	"memory":       true,
	"agent_result": true,
}

// Agent is a node in the mycelial network: one participant in a tenant's
// fleet, identified by a profile embedding, declared capabilities/tools, and
// a bounded window of recent task tags used as a demand-overlap signal by the
// routing engine.
type Agent struct {
	ID               string
	Tenant           string
	Name             string
	Capabilities     []string
	Tools            []string
	ProfileEmbedding []float32 // len == EmbeddingDim
	RecentTasks      []string  // bounded window, most recent last
	Status           AgentStatus
	Region           string
	Metadata         map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RecentTaskWindow bounds how many recent task tags an Agent retains.
// Older entries are dropped FIFO as new ones are recorded.
const RecentTaskWindow = 32

// MinEdgeWeight and MaxEdgeWeight bound every edge weight at all times.
const (
	MinEdgeWeight = 0.01
	MaxEdgeWeight = 1.5
)

// Edge is a directed, weighted hypha src -> dst within one tenant. Edges are
// created lazily on first routing-decision credit and mutated exclusively
// through the Reinforcement Engine's read-modify-write path.
type Edge struct {
	Tenant     string
	Src        string
	Dst        string
	Weight     float64 // MinEdgeWeight <= Weight <= MaxEdgeWeight
	Similarity float64 // baseline semantic similarity, [0,1]
	RSuccess   float64 // monotone accumulator
	RDecay     float64 // monotone accumulator
	LastUpdate time.Time
}

// Nutrient is an immutable, TTL-bounded knowledge packet broadcast by an
// agent. CurrentHop and MaxHops bound how many more times it may be
// forwarded; ExpiresAt is computed once at creation from TTLSeconds.
type Nutrient struct {
	ID          string
	Tenant      string
	TraceID     string
	SourceAgent string
	Summary     string
	Embedding   []float32
	Snippets    []string
	ToolHints   []string
	Sensitivity Sensitivity
	CurrentHop  int
	MaxHops     int // 1..10
	TTLSeconds  int // 1..3600
	QuotaCost   int
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the nutrient's TTL has elapsed as of now.
func (n Nutrient) Expired(now time.Time) bool {
	return !now.Before(n.ExpiresAt)
}

// CanForward reports whether the nutrient may still be routed onward: its
// hop budget is not exhausted and it has not expired.
func (n Nutrient) CanForward(now time.Time) bool {
	return n.CurrentHop < n.MaxHops && !n.Expired(now)
}

// RouteRecord is one immutable row in the append-only credit-assignment log:
// "the Propagation Controller routed nutrient N to Dst at hop H with this
// routing score, under trace T". Outcome reporting later fills OutcomeScore.
type RouteRecord struct {
	Tenant       string
	NutrientID   string
	TraceID      string
	Src          string
	Dst          string
	Hop          int
	RoutingScore float64
	OutcomeScore *float64
	RoutedAt     time.Time
}

// HyphalMemory is a tenant-scoped, embedding-indexed knowledge row that
// survives past a nutrient's TTL — the long-term memory layer.
type HyphalMemory struct {
	ID          string
	Tenant      string
	AgentID     string
	Kind        string
	Content     map[string]any
	Embedding   []float32
	Quality     float64 // [0,1]
	Sensitivity Sensitivity
	TaskID      string
	TraceID     string
	Metadata    map[string]any
	CreatedAt   time.Time
	ExpiresAt   *time.Time // nil means no expiry
}

// Expired reports whether the memory's TTL (if any) has elapsed as of now.
func (m HyphalMemory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// Outcome is a credit-assignment report keyed by trace ID. At least one of
// Score or HopOutcomes must be set; HopOutcomes, when present, takes
// precedence per-destination-agent, falling back to Score when a destination
// is absent from the map.
type Outcome struct {
	TraceID     string
	Score       *float64
	HopOutcomes map[string]float64 // agent ID -> score, [0,1]
}

// EffectiveScore returns the score credit assignment should apply for a hop
// whose destination agent is dst: the per-hop HopOutcomes value when
// present, else the uniform Score. ok is false when neither is available.
func (o Outcome) EffectiveScore(dst string) (score float64, ok bool) {
	if o.HopOutcomes != nil {
		if s, found := o.HopOutcomes[dst]; found {
			return s, true
		}
	}
	if o.Score != nil {
		return *o.Score, true
	}
	return 0, false
}

// EdgeUpdate describes the result of applying the plasticity rule to one
// traversed edge during credit assignment.
type EdgeUpdate struct {
	Src, Dst    string
	OldWeight   float64
	NewWeight   float64
	Delta       float64
	Hop         int
	HopScore    float64
}

// GossipPublisher is the documented seam for a best-effort, eventually
// consistent regional gossip channel (spec §1, §9). Publishing is fire-and
// forget from the caller's perspective: implementations own their own retry
// and batching policy. No implementation ships in this module, and the
// Propagation Controller does not currently accept one — regional exchange
// is an external collaborator out of scope for this substrate. The
// interface exists only as a documented seam a future relay could be wired
// through.
type GossipPublisher interface {
	PublishNutrient(tenant string, n Nutrient) error
	PublishEdgeUpdate(tenant string, u EdgeUpdate) error
}
