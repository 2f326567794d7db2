// Package postgres provides the PostgreSQL/pgvector-backed implementation of
// [mesh.GraphStore]. All six tables — agents, hyphae_edges, nutrients_active,
// nutrient_routes, hyphal_memory, api_keys — live behind a single [pgxpool.Pool] and are
// created idempotently by [Migrate], mirroring how the teacher's memory store
// colocates its L1/L2/L3 tables in one database.
//
// The pgvector extension must be available in the target database; Migrate
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAgents = `
CREATE TABLE IF NOT EXISTS agents (
    tenant_id     TEXT         NOT NULL,
    id            TEXT         NOT NULL,
    name          TEXT         NOT NULL DEFAULT '',
    capabilities  JSONB        NOT NULL DEFAULT '[]',
    tools         JSONB        NOT NULL DEFAULT '[]',
    profile       vector(%d),
    recent_tasks  JSONB        NOT NULL DEFAULT '[]',
    status        TEXT         NOT NULL DEFAULT 'active',
    region        TEXT         NOT NULL DEFAULT '',
    metadata      JSONB        NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_agents_tenant_status ON agents (tenant_id, status);
`

const ddlEdges = `
CREATE TABLE IF NOT EXISTS hyphae_edges (
    tenant_id    TEXT         NOT NULL,
    src          TEXT         NOT NULL,
    dst          TEXT         NOT NULL,
    weight       DOUBLE PRECISION NOT NULL DEFAULT 0.1,
    similarity   DOUBLE PRECISION NOT NULL DEFAULT 0,
    r_success    DOUBLE PRECISION NOT NULL DEFAULT 0,
    r_decay      DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_update  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, src, dst)
);

CREATE INDEX IF NOT EXISTS idx_edges_tenant_src_weight
    ON hyphae_edges (tenant_id, src, weight DESC);

CREATE INDEX IF NOT EXISTS idx_edges_last_update
    ON hyphae_edges (last_update);
`

const ddlNutrients = `
CREATE TABLE IF NOT EXISTS nutrients_active (
    id            TEXT         PRIMARY KEY,
    tenant_id     TEXT         NOT NULL,
    trace_id      TEXT         NOT NULL,
    source_agent  TEXT         NOT NULL DEFAULT '',
    summary       TEXT         NOT NULL DEFAULT '',
    embedding     vector(%d),
    snippets      JSONB        NOT NULL DEFAULT '[]',
    tool_hints    JSONB        NOT NULL DEFAULT '[]',
    sensitivity   TEXT         NOT NULL DEFAULT 'internal',
    current_hop   INT          NOT NULL DEFAULT 0,
    max_hops      INT          NOT NULL DEFAULT 1,
    ttl_seconds   INT          NOT NULL DEFAULT 180,
    quota_cost    INT          NOT NULL DEFAULT 1,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at    TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nutrients_tenant ON nutrients_active (tenant_id);
CREATE INDEX IF NOT EXISTS idx_nutrients_expires ON nutrients_active (expires_at);
`

const ddlRoutes = `
CREATE TABLE IF NOT EXISTS nutrient_routes (
    tenant_id     TEXT         NOT NULL,
    nutrient_id   TEXT         NOT NULL,
    trace_id      TEXT         NOT NULL,
    src_agent     TEXT         NOT NULL,
    dst_agent     TEXT         NOT NULL,
    hop_number    INT          NOT NULL,
    routing_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    outcome_score DOUBLE PRECISION,
    routed_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, trace_id, src_agent, dst_agent, hop_number)
);

CREATE INDEX IF NOT EXISTS idx_routes_trace
    ON nutrient_routes (tenant_id, trace_id, hop_number);
`

const ddlHyphalMemory = `
CREATE TABLE IF NOT EXISTS hyphal_memory (
    id          TEXT         PRIMARY KEY,
    tenant_id   TEXT         NOT NULL,
    agent_id    TEXT         NOT NULL,
    kind        TEXT         NOT NULL DEFAULT '',
    content     JSONB        NOT NULL DEFAULT '{}',
    embedding   vector(%d),
    quality     DOUBLE PRECISION NOT NULL DEFAULT 0,
    sensitivity TEXT         NOT NULL DEFAULT 'internal',
    task_id     TEXT         NOT NULL DEFAULT '',
    trace_id    TEXT         NOT NULL DEFAULT '',
    metadata    JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_hyphal_tenant_agent ON hyphal_memory (tenant_id, agent_id);
CREATE INDEX IF NOT EXISTS idx_hyphal_expires ON hyphal_memory (expires_at);
CREATE INDEX IF NOT EXISTS idx_hyphal_embedding
    ON hyphal_memory USING hnsw (embedding vector_cosine_ops);
`

const ddlAPIKeys = `
CREATE TABLE IF NOT EXISTS api_keys (
    key_hash       TEXT         PRIMARY KEY,
    tenant_id      TEXT         NOT NULL,
    scopes         JSONB        NOT NULL DEFAULT '[]',
    rate_limit_rpm INT          NOT NULL DEFAULT 1000,
    status         TEXT         NOT NULL DEFAULT 'active',
    expires_at     TIMESTAMPTZ,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_used_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_api_keys_tenant ON api_keys (tenant_id);
`

// Migrate creates or ensures all required tables, indexes, and the pgvector
// extension exist. It is idempotent and safe to call on every process start.
//
// embeddingDimensions must match mesh.EmbeddingDim (1536) for every deployment
// this module currently supports; it is parameterized here the way the
// teacher parameterizes its chunk table so a future embedding model swap only
// requires a schema migration, not a code change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS vector;",
		fmt.Sprintf(ddlAgents, embeddingDimensions),
		ddlEdges,
		fmt.Sprintf(ddlNutrients, embeddingDimensions),
		ddlRoutes,
		fmt.Sprintf(ddlHyphalMemory, embeddingDimensions),
		ddlAPIKeys,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
