package httpapi

import (
	"time"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// broadcastRequest is the wire shape for POST /v1/nutrients:broadcast.
type broadcastRequest struct {
	SourceAgentID string      `json:"source_agent_id"`
	Summary       string      `json:"summary" binding:"required"`
	Embedding     []float32   `json:"embedding" binding:"required"`
	Snippets      []string    `json:"snippets"`
	ToolHints     []string    `json:"tool_hints"`
	Sensitivity   string      `json:"sensitivity"`
	TTLSeconds    int         `json:"ttl_seconds" binding:"required"`
	MaxHops       int         `json:"max_hops" binding:"required"`
	QuotaCost     int         `json:"quota_cost"`
}

type routedNeighbor struct {
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
}

type broadcastResponse struct {
	NutrientID string           `json:"nutrient_id"`
	TraceID    string           `json:"trace_id"`
	ExpiresAt  string           `json:"expires_at"`
	Routed     []routedNeighbor `json:"routed"`
}

// collectRequest is the wire shape for POST /v1/contexts:collect.
type collectRequest struct {
	DemandEmbedding []float32 `json:"demand_embedding" binding:"required"`
	WindowMS        int       `json:"window_ms"`
	TopK            int       `json:"top_k"`
	Diversify       bool      `json:"diversify"`
}

type memoryResult struct {
	Memory     memoryDTO `json:"memory"`
	Similarity float64   `json:"similarity"`
}

// collectMetadataDTO echoes the caller's collect parameters back, the same
// metadata dict original_source's router returns alongside results.
// window_ms is carried through unchanged here, not honored as a wait or a
// ranking signal — see propagation.CollectInput.
type collectMetadataDTO struct {
	WindowMS    int  `json:"window_ms"`
	TopK        int  `json:"top_k"`
	Diversified bool `json:"diversified"`
}

type collectResponse struct {
	Results  []memoryResult     `json:"results"`
	Metadata collectMetadataDTO `json:"metadata"`
}

// outcomeRequest is the wire shape for POST /v1/outcomes:record.
type outcomeRequest struct {
	TraceID     string             `json:"trace_id" binding:"required"`
	Score       *float64           `json:"score"`
	HopOutcomes map[string]float64 `json:"hop_outcomes"`
}

type edgeUpdateDTO struct {
	Src       string  `json:"src"`
	Dst       string  `json:"dst"`
	OldWeight float64 `json:"old_weight"`
	NewWeight float64 `json:"new_weight"`
	Delta     float64 `json:"delta"`
	Hop       int     `json:"hop"`
	HopScore  float64 `json:"hop_score"`
}

type outcomeResponse struct {
	Updates []edgeUpdateDTO `json:"updates"`
}

// hyphalStoreRequest is the wire shape for POST /v1/hyphal:store.
type hyphalStoreRequest struct {
	AgentID     string         `json:"agent_id" binding:"required"`
	Kind        string         `json:"kind" binding:"required"`
	Content     map[string]any `json:"content"`
	Embedding   []float32      `json:"embedding" binding:"required"`
	Quality     float64        `json:"quality"`
	Sensitivity string         `json:"sensitivity"`
	TTLHours    float64        `json:"ttl_hours"`
	TaskID      string         `json:"task_id"`
	TraceID     string         `json:"trace_id"`
	Metadata    map[string]any `json:"metadata"`
}

type hyphalStoreResponse struct {
	ID string `json:"id"`
}

// hyphalSearchRequest is the wire shape for POST /v1/hyphal:search.
type hyphalSearchRequest struct {
	Embedding  []float32      `json:"embedding" binding:"required"`
	TopK       int            `json:"top_k"`
	MinQuality float64        `json:"min_quality"`
	Filters    map[string]any `json:"filters"`
}

type hyphalSearchResponse struct {
	Results []memoryResult `json:"results"`
}

type memoryDTO struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	Kind        string         `json:"kind"`
	Content     map[string]any `json:"content"`
	Quality     float64        `json:"quality"`
	Sensitivity string         `json:"sensitivity"`
	TaskID      string         `json:"task_id,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at"`
	ExpiresAt   *string        `json:"expires_at,omitempty"`
}

func memoryToDTO(m mesh.HyphalMemory) memoryDTO {
	dto := memoryDTO{
		ID:          m.ID,
		AgentID:     m.AgentID,
		Kind:        m.Kind,
		Content:     m.Content,
		Quality:     m.Quality,
		Sensitivity: string(m.Sensitivity),
		TaskID:      m.TaskID,
		TraceID:     m.TraceID,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt.Format(timeFormat),
	}
	if m.ExpiresAt != nil {
		s := m.ExpiresAt.Format(timeFormat)
		dto.ExpiresAt = &s
	}
	return dto
}

func memoryResultsToDTO(results []mesh.MemorySearchResult) []memoryResult {
	out := make([]memoryResult, len(results))
	for i, r := range results {
		out[i] = memoryResult{Memory: memoryToDTO(r.Memory), Similarity: r.Similarity}
	}
	return out
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}

// agentProfileDTO is the nested "profile" object accepted by
// POST /v1/agents:register.
type agentProfileDTO struct {
	Embedding   []float32 `json:"embedding" binding:"required"`
	Skills      []string  `json:"skills"`
	Description string    `json:"description"`
}

// registerAgentRequest is the wire shape for POST /v1/agents:register.
type registerAgentRequest struct {
	AgentID      string          `json:"agent_id" binding:"required"`
	Name         string          `json:"name"`
	Capabilities []string        `json:"capabilities"`
	Tools        []string        `json:"tools"`
	Profile      agentProfileDTO `json:"profile" binding:"required"`
	Region       string          `json:"region"`
	Metadata     map[string]any  `json:"metadata"`
}

type agentDTO struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Capabilities []string       `json:"capabilities"`
	Tools        []string       `json:"tools"`
	Status       string         `json:"status"`
	Region       string         `json:"region"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

func agentToDTO(a mesh.Agent) agentDTO {
	return agentDTO{
		ID:           a.ID,
		Name:         a.Name,
		Capabilities: a.Capabilities,
		Tools:        a.Tools,
		Status:       string(a.Status),
		Region:       a.Region,
		Metadata:     a.Metadata,
		CreatedAt:    a.CreatedAt.Format(timeFormat),
		UpdatedAt:    a.UpdatedAt.Format(timeFormat),
	}
}

type listAgentsResponse struct {
	Agents []agentDTO `json:"agents"`
}

type edgeDTO struct {
	Src        string  `json:"src"`
	Dst        string  `json:"dst"`
	Weight     float64 `json:"weight"`
	Similarity float64 `json:"similarity"`
	RSuccess   float64 `json:"r_success"`
	RDecay     float64 `json:"r_decay"`
	LastUpdate string  `json:"last_update"`
}

func edgeToDTO(e mesh.Edge) edgeDTO {
	return edgeDTO{
		Src:        e.Src,
		Dst:        e.Dst,
		Weight:     e.Weight,
		Similarity: e.Similarity,
		RSuccess:   e.RSuccess,
		RDecay:     e.RDecay,
		LastUpdate: e.LastUpdate.Format(timeFormat),
	}
}

func edgesToDTO(edges []mesh.Edge) []edgeDTO {
	out := make([]edgeDTO, len(edges))
	for i, e := range edges {
		out[i] = edgeToDTO(e)
	}
	return out
}

type edgeStatsResponse struct {
	TotalEdges int     `json:"total_edges"`
	MeanWeight float64 `json:"mean_weight"`
	MaxWeight  float64 `json:"max_weight"`
	MinWeight  float64 `json:"min_weight"`
}

type edgesListResponse struct {
	Edges []edgeDTO `json:"edges"`
}

type pruneEdgesRequest struct {
	Threshold float64 `json:"threshold" binding:"required"`
}

type pruneEdgesResponse struct {
	Removed int `json:"removed"`
}

type decayEdgesResponse struct {
	RanAt string `json:"ran_at"`
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// nowRFC3339 formats t the way every timestamp field in this package's
// responses is rendered.
func nowRFC3339(t time.Time) string {
	return t.Format(timeFormat)
}

// nowFunc is a package-level indirection over time.Now so handlers that
// stamp a response timestamp stay swappable in tests without threading a
// clock through every constructor.
var nowFunc = time.Now
