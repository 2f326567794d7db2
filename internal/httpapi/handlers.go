package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mycelialmesh/meshcore/internal/hyphalmemory"
	"github.com/mycelialmesh/meshcore/internal/propagation"
	"github.com/mycelialmesh/meshcore/internal/reinforcement"

	"github.com/mycelialmesh/meshcore/internal/httpapi/apierr"
	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// Server wires every handler over the component engines. It holds no
// transport-specific state beyond the gin engine itself; all domain logic
// lives in internal/propagation, internal/reinforcement, internal/hyphalmemory,
// and pkg/mesh/postgres.
type Server struct {
	store     mesh.GraphStore
	propagate *propagation.Controller
	reinforce *reinforcement.Engine
	memory    *hyphalmemory.Engine
	decay     *reinforcement.DecayTask
}

// handleBroadcast implements POST /v1/nutrients:broadcast.
func (s *Server) handleBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.ValidationWrap("INVALID_BODY", err))
		return
	}

	identity := identityFromContext(c)
	result, err := s.propagate.Broadcast(c.Request.Context(), propagation.BroadcastInput{
		Tenant:        identity.TenantID,
		SourceAgentID: req.SourceAgentID,
		Summary:       req.Summary,
		Embedding:     req.Embedding,
		Snippets:      req.Snippets,
		ToolHints:     req.ToolHints,
		Sensitivity:   mesh.Sensitivity(req.Sensitivity),
		TTLSeconds:    req.TTLSeconds,
		MaxHops:       req.MaxHops,
		QuotaCost:     req.QuotaCost,
	})
	if err != nil {
		writeError(c, broadcastError(err))
		return
	}

	routed := make([]routedNeighbor, len(result.Routed))
	for i, r := range result.Routed {
		routed[i] = routedNeighbor{AgentID: r.AgentID, Score: r.Score.Total}
	}
	c.JSON(http.StatusOK, broadcastResponse{
		NutrientID: result.NutrientID,
		TraceID:    result.TraceID,
		ExpiresAt:  nowRFC3339(result.ExpiresAt),
		Routed:     routed,
	})
}

func broadcastError(err error) error {
	switch {
	case errors.Is(err, propagation.ErrValidation):
		return apierr.ValidationWrap("INVALID_NUTRIENT", err)
	case errors.Is(err, propagation.ErrExpired):
		return apierr.Precondition("NUTRIENT_EXPIRED", "nutrient would be born already expired")
	case errors.Is(err, propagation.ErrQuotaExceeded):
		return apierr.RateLimited("QUOTA_EXCEEDED", "broadcast quota exceeded")
	default:
		return storeFailure("BROADCAST_FAILED", "broadcast failed", err)
	}
}

// handleCollect implements POST /v1/contexts:collect.
func (s *Server) handleCollect(c *gin.Context) {
	var req collectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.ValidationWrap("INVALID_BODY", err))
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	identity := identityFromContext(c)
	result, err := withStoreRetry(c.Request.Context(), func() (*propagation.CollectResult, error) {
		return s.propagate.Collect(c.Request.Context(), propagation.CollectInput{
			Tenant:           identity.TenantID,
			DemandEmbedding:  req.DemandEmbedding,
			AdvisoryWindowMS: req.WindowMS,
			TopK:             topK,
			Diversify:        req.Diversify,
		})
	})
	if err != nil {
		if errors.Is(err, propagation.ErrValidation) {
			writeError(c, apierr.ValidationWrap("INVALID_COLLECT_REQUEST", err))
			return
		}
		writeError(c, storeFailure("COLLECT_FAILED", "collect failed", err))
		return
	}
	c.JSON(http.StatusOK, collectResponse{
		Results: memoryResultsToDTO(result.Results),
		Metadata: collectMetadataDTO{
			WindowMS:    result.Metadata.AdvisoryWindowMS,
			TopK:        result.Metadata.TopK,
			Diversified: result.Metadata.Diversified,
		},
	})
}

// handleRecordOutcome implements POST /v1/outcomes:record.
func (s *Server) handleRecordOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.ValidationWrap("INVALID_BODY", err))
		return
	}

	identity := identityFromContext(c)
	updates, err := s.reinforce.Credit(c.Request.Context(), identity.TenantID, mesh.Outcome{
		TraceID:     req.TraceID,
		Score:       req.Score,
		HopOutcomes: req.HopOutcomes,
	})
	if err != nil {
		switch {
		case errors.Is(err, reinforcement.ErrNoRoute):
			writeError(c, apierr.Precondition("UNKNOWN_TRACE", "no route records for trace id"))
		case errors.Is(err, reinforcement.ErrInvalidOutcome):
			writeError(c, apierr.ValidationWrap("INVALID_OUTCOME", err))
		default:
			writeError(c, storeFailure("OUTCOME_RECORD_FAILED", "outcome recording failed", err))
		}
		return
	}

	dtos := make([]edgeUpdateDTO, len(updates))
	for i, u := range updates {
		dtos[i] = edgeUpdateDTO{
			Src: u.Src, Dst: u.Dst,
			OldWeight: u.OldWeight, NewWeight: u.NewWeight,
			Delta: u.Delta, Hop: u.Hop, HopScore: u.HopScore,
		}
	}
	c.JSON(http.StatusOK, outcomeResponse{Updates: dtos})
}

// handleHyphalStore implements POST /v1/hyphal:store.
func (s *Server) handleHyphalStore(c *gin.Context) {
	var req hyphalStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.ValidationWrap("INVALID_BODY", err))
		return
	}

	identity := identityFromContext(c)
	id, err := s.memory.Store(c.Request.Context(), hyphalmemory.StoreInput{
		Tenant:      identity.TenantID,
		AgentID:     req.AgentID,
		Kind:        req.Kind,
		Content:     req.Content,
		Embedding:   req.Embedding,
		Quality:     req.Quality,
		Sensitivity: mesh.Sensitivity(req.Sensitivity),
		TTLHours:    req.TTLHours,
		TaskID:      req.TaskID,
		TraceID:     req.TraceID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		if errors.Is(err, hyphalmemory.ErrValidation) {
			writeError(c, apierr.ValidationWrap("INVALID_MEMORY", err))
			return
		}
		writeError(c, storeFailure("HYPHAL_STORE_FAILED", "hyphal store failed", err))
		return
	}
	c.JSON(http.StatusCreated, hyphalStoreResponse{ID: id})
}

// handleHyphalSearch implements POST /v1/hyphal:search.
func (s *Server) handleHyphalSearch(c *gin.Context) {
	var req hyphalSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.ValidationWrap("INVALID_BODY", err))
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	identity := identityFromContext(c)
	filter := mesh.FiltersFromMap(req.Filters)
	results, err := withStoreRetry(c.Request.Context(), func() ([]mesh.MemorySearchResult, error) {
		return s.memory.Search(c.Request.Context(), hyphalmemory.SearchInput{
			Tenant:     identity.TenantID,
			Embedding:  req.Embedding,
			TopK:       topK,
			MinQuality: req.MinQuality,
			Filter:     filter,
		})
	})
	if err != nil {
		if errors.Is(err, hyphalmemory.ErrValidation) {
			writeError(c, apierr.ValidationWrap("INVALID_SEARCH_REQUEST", err))
			return
		}
		writeError(c, storeFailure("HYPHAL_SEARCH_FAILED", "hyphal search failed", err))
		return
	}
	c.JSON(http.StatusOK, hyphalSearchResponse{Results: memoryResultsToDTO(results)})
}

// handleHyphalGet implements GET /v1/hyphal/:id.
func (s *Server) handleHyphalGet(c *gin.Context) {
	identity := identityFromContext(c)
	m, err := withStoreRetry(c.Request.Context(), func() (*mesh.HyphalMemory, error) {
		return s.memory.Get(c.Request.Context(), identity.TenantID, c.Param("id"))
	})
	if err != nil {
		writeError(c, storeFailure("HYPHAL_GET_FAILED", "hyphal get failed", err))
		return
	}
	if m == nil {
		writeError(c, apierr.NotFound("MEMORY_NOT_FOUND", "memory not found"))
		return
	}
	c.JSON(http.StatusOK, memoryToDTO(*m))
}

// handleHyphalListByAgent implements GET /v1/hyphal/agent/:agent_id.
func (s *Server) handleHyphalListByAgent(c *gin.Context) {
	identity := identityFromContext(c)
	memories, err := withStoreRetry(c.Request.Context(), func() ([]mesh.HyphalMemory, error) {
		return s.memory.ListByAgent(c.Request.Context(), identity.TenantID, c.Param("agent_id"))
	})
	if err != nil {
		writeError(c, storeFailure("HYPHAL_LIST_FAILED", "hyphal list failed", err))
		return
	}
	dtos := make([]memoryDTO, len(memories))
	for i, m := range memories {
		dtos[i] = memoryToDTO(m)
	}
	c.JSON(http.StatusOK, gin.H{"memories": dtos})
}

// handleHyphalDelete implements DELETE /v1/hyphal/:id.
func (s *Server) handleHyphalDelete(c *gin.Context) {
	identity := identityFromContext(c)
	if err := withStoreRetryErr(c.Request.Context(), func() error {
		return s.memory.Delete(c.Request.Context(), identity.TenantID, c.Param("id"))
	}); err != nil {
		writeError(c, storeFailure("HYPHAL_DELETE_FAILED", "hyphal delete failed", err))
		return
	}
	c.Status(http.StatusNoContent)
}

// handleHyphalCleanup implements POST /v1/hyphal:cleanup (admin-only).
func (s *Server) handleHyphalCleanup(c *gin.Context) {
	identity := identityFromContext(c)
	removed, err := withStoreRetry(c.Request.Context(), func() (int, error) {
		return s.memory.Cleanup(c.Request.Context(), identity.TenantID)
	})
	if err != nil {
		writeError(c, storeFailure("HYPHAL_CLEANUP_FAILED", "hyphal cleanup failed", err))
		return
	}
	c.JSON(http.StatusOK, cleanupResponse{Removed: removed})
}

// handleRegisterAgent implements POST /v1/agents:register.
func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.ValidationWrap("INVALID_BODY", err))
		return
	}
	if len(req.Profile.Embedding) != mesh.EmbeddingDim {
		writeError(c, apierr.Validation("INVALID_EMBEDDING", "profile.embedding must be 1536-dimensional"))
		return
	}

	identity := identityFromContext(c)
	now := nowFunc()
	capabilities := req.Capabilities
	if len(req.Profile.Skills) > 0 {
		capabilities = append(append([]string{}, capabilities...), req.Profile.Skills...)
	}

	a := mesh.Agent{
		ID:               req.AgentID,
		Tenant:           identity.TenantID,
		Name:             req.Name,
		Capabilities:     capabilities,
		Tools:            req.Tools,
		ProfileEmbedding: req.Profile.Embedding,
		Status:           mesh.AgentActive,
		Region:           req.Region,
		Metadata:         req.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := withStoreRetryErr(c.Request.Context(), func() error {
		return s.store.UpsertAgent(c.Request.Context(), a)
	}); err != nil {
		writeError(c, storeFailure("AGENT_REGISTER_FAILED", "agent registration failed", err))
		return
	}
	c.JSON(http.StatusOK, agentToDTO(a))
}

// handleGetAgent implements GET /v1/agents/:id.
func (s *Server) handleGetAgent(c *gin.Context) {
	identity := identityFromContext(c)
	a, err := withStoreRetry(c.Request.Context(), func() (*mesh.Agent, error) {
		return s.store.GetAgent(c.Request.Context(), identity.TenantID, c.Param("id"))
	})
	if err != nil {
		writeError(c, storeFailure("AGENT_GET_FAILED", "agent get failed", err))
		return
	}
	if a == nil {
		writeError(c, apierr.NotFound("AGENT_NOT_FOUND", "agent not found"))
		return
	}
	c.JSON(http.StatusOK, agentToDTO(*a))
}

// handleListAgents implements GET /v1/agents.
func (s *Server) handleListAgents(c *gin.Context) {
	identity := identityFromContext(c)
	filter := mesh.AgentFilter{
		Status:     mesh.AgentStatus(c.Query("status_filter")),
		Capability: c.Query("capability"),
	}
	agents, err := withStoreRetry(c.Request.Context(), func() ([]mesh.Agent, error) {
		return s.store.ListAgents(c.Request.Context(), identity.TenantID, filter)
	})
	if err != nil {
		writeError(c, storeFailure("AGENT_LIST_FAILED", "agent list failed", err))
		return
	}
	dtos := make([]agentDTO, len(agents))
	for i, a := range agents {
		dtos[i] = agentToDTO(a)
	}
	c.JSON(http.StatusOK, listAgentsResponse{Agents: dtos})
}

// handleDeleteAgent implements DELETE /v1/agents/:id.
func (s *Server) handleDeleteAgent(c *gin.Context) {
	identity := identityFromContext(c)
	if err := withStoreRetryErr(c.Request.Context(), func() error {
		return s.store.DeleteAgent(c.Request.Context(), identity.TenantID, c.Param("id"))
	}); err != nil {
		writeError(c, storeFailure("AGENT_DELETE_FAILED", "agent delete failed", err))
		return
	}
	c.Status(http.StatusNoContent)
}

// handleEdgeStats implements GET /v1/edges/stats.
func (s *Server) handleEdgeStats(c *gin.Context) {
	identity := identityFromContext(c)
	stats, err := withStoreRetry(c.Request.Context(), func() (mesh.EdgeStats, error) {
		return s.store.EdgeStats(c.Request.Context(), identity.TenantID)
	})
	if err != nil {
		writeError(c, storeFailure("EDGE_STATS_FAILED", "edge stats failed", err))
		return
	}
	c.JSON(http.StatusOK, edgeStatsResponse{
		TotalEdges: stats.TotalEdges,
		MeanWeight: stats.MeanWeight,
		MaxWeight:  stats.MaxWeight,
		MinWeight:  stats.MinWeight,
	})
}

// handleEdgeTop implements GET /v1/edges/top.
func (s *Server) handleEdgeTop(c *gin.Context) {
	identity := identityFromContext(c)
	limit := queryInt(c, "limit", 20)
	minWeight := queryFloat(c, "min_weight", 0)

	edges, err := withStoreRetry(c.Request.Context(), func() ([]mesh.Edge, error) {
		return s.store.TopEdges(c.Request.Context(), identity.TenantID, limit, minWeight)
	})
	if err != nil {
		writeError(c, storeFailure("EDGE_TOP_FAILED", "edge top failed", err))
		return
	}
	c.JSON(http.StatusOK, edgesListResponse{Edges: edgesToDTO(edges)})
}

// handleEdgesByAgent implements GET /v1/edges/:agent_id.
func (s *Server) handleEdgesByAgent(c *gin.Context) {
	identity := identityFromContext(c)
	limit := queryInt(c, "limit", 0)
	minWeight := queryFloat(c, "min_weight", 0)

	opts := []mesh.EdgeQueryOpt{mesh.WithOrderByWeight(), mesh.WithMinWeight(minWeight)}
	if limit > 0 {
		opts = append(opts, mesh.WithEdgeLimit(limit))
	}
	edges, err := withStoreRetry(c.Request.Context(), func() ([]mesh.Edge, error) {
		return s.store.OutEdges(c.Request.Context(), identity.TenantID, c.Param("agent_id"), opts...)
	})
	if err != nil {
		writeError(c, storeFailure("EDGE_LIST_FAILED", "edge list failed", err))
		return
	}
	c.JSON(http.StatusOK, edgesListResponse{Edges: edgesToDTO(edges)})
}

// handlePruneEdges implements POST /v1/edges:prune.
func (s *Server) handlePruneEdges(c *gin.Context) {
	var req pruneEdgesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.ValidationWrap("INVALID_BODY", err))
		return
	}

	identity := identityFromContext(c)
	removed, err := withStoreRetry(c.Request.Context(), func() (int, error) {
		return s.store.PruneEdges(c.Request.Context(), identity.TenantID, req.Threshold)
	})
	if err != nil {
		writeError(c, storeFailure("EDGE_PRUNE_FAILED", "edge prune failed", err))
		return
	}
	c.JSON(http.StatusOK, pruneEdgesResponse{Removed: removed})
}

// handleDecayEdges implements POST /v1/edges:decay. It triggers
// one synchronous decay pass in addition to the background DecayTask's
// ticker, for operators who want decay applied immediately.
func (s *Server) handleDecayEdges(c *gin.Context) {
	now := nowFunc()
	if err := s.decay.RunOnce(c.Request.Context(), now); err != nil {
		writeError(c, storeFailure("EDGE_DECAY_FAILED", "edge decay failed", err))
		return
	}
	c.JSON(http.StatusOK, decayEdgesResponse{RanAt: nowRFC3339(now)})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryFloat(c *gin.Context, key string, def float64) float64 {
	v := c.Query(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
