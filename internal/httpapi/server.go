// Package httpapi is the HTTP/JSON transport over the mesh's four
// components (Propagation Controller, Reinforcement Engine, Hyphal Memory
// Engine, Graph Store), built on gin-gonic/gin the way
// AleutianAI-AleutianFOSS's services/trace package wires a gin route group
// plus a typed Handlers struct — the teacher's own internal/health is too
// thin a model for a 20-endpoint API, so this package is grounded on that
// sibling instead.
package httpapi

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/mycelialmesh/meshcore/internal/auth"
	"github.com/mycelialmesh/meshcore/internal/hyphalmemory"
	"github.com/mycelialmesh/meshcore/internal/propagation"
	"github.com/mycelialmesh/meshcore/internal/ratelimit"
	"github.com/mycelialmesh/meshcore/internal/reinforcement"
	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// Deps bundles every subsystem RegisterRoutes needs. internal/app builds one
// of these from its own subsystem fields.
type Deps struct {
	Store     mesh.GraphStore
	Propagate *propagation.Controller
	Reinforce *reinforcement.Engine
	Memory    *hyphalmemory.Engine
	Decay     *reinforcement.DecayTask
	Resolver  *auth.Resolver
	Limiter   *ratelimit.Limiter
	Logger    *slog.Logger
}

// NewServer builds the handler struct over deps.
func NewServer(deps Deps) *Server {
	return &Server{
		store:     deps.Store,
		propagate: deps.Propagate,
		reinforce: deps.Reinforce,
		memory:    deps.Memory,
		decay:     deps.Decay,
	}
}

// RegisterRoutes wires every mycelial endpoint onto engine, in the order:
// OTel tracing (applied by the caller via internal/observe.Middleware before
// this is called) -> request-ID/logging -> auth -> rate limit -> handler,
// with an extra admin-scope check on the admin-only /v1/hyphal:cleanup route.
//
// Nutrient/context/outcome endpoints:
//
//	POST /v1/nutrients:broadcast
//	POST /v1/contexts:collect
//	POST /v1/outcomes:record
//
// Hyphal memory endpoints:
//
//	POST   /v1/hyphal:store
//	POST   /v1/hyphal:search
//	GET    /v1/hyphal/:id
//	GET    /v1/hyphal/agent/:agent_id
//	DELETE /v1/hyphal/:id
//	POST   /v1/hyphal:cleanup (admin)
//
// Agent endpoints:
//
//	POST   /v1/agents:register
//	GET    /v1/agents
//	GET    /v1/agents/:id
//	DELETE /v1/agents/:id
//
// Edge endpoints:
//
//	GET  /v1/edges/stats
//	GET  /v1/edges/top
//	GET  /v1/edges/:agent_id
//	POST /v1/edges:prune
//	POST /v1/edges:decay
func RegisterRoutes(engine *gin.Engine, deps Deps) {
	srv := NewServer(deps)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	v1 := engine.Group("/v1")
	v1.Use(requestLogMiddleware(logger), authMiddleware(deps.Resolver), rateLimitMiddleware(deps.Limiter))

	v1.POST("/nutrients:broadcast", srv.handleBroadcast)
	v1.POST("/contexts:collect", srv.handleCollect)
	v1.POST("/outcomes:record", srv.handleRecordOutcome)

	v1.POST("/hyphal:store", srv.handleHyphalStore)
	v1.POST("/hyphal:search", srv.handleHyphalSearch)
	v1.GET("/hyphal/agent/:agent_id", srv.handleHyphalListByAgent)
	v1.GET("/hyphal/:id", srv.handleHyphalGet)
	v1.DELETE("/hyphal/:id", srv.handleHyphalDelete)
	v1.POST("/hyphal:cleanup", adminOnlyMiddleware(), srv.handleHyphalCleanup)

	v1.POST("/agents:register", srv.handleRegisterAgent)
	v1.GET("/agents", srv.handleListAgents)
	v1.GET("/agents/:id", srv.handleGetAgent)
	v1.DELETE("/agents/:id", srv.handleDeleteAgent)

	v1.GET("/edges/stats", srv.handleEdgeStats)
	v1.GET("/edges/top", srv.handleEdgeTop)
	v1.GET("/edges/:agent_id", srv.handleEdgesByAgent)
	v1.POST("/edges:prune", srv.handlePruneEdges)
	v1.POST("/edges:decay", srv.handleDecayEdges)
}
