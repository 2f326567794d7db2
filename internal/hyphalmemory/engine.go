// Package hyphalmemory implements the Hyphal Memory Engine (component D): a
// thin orchestration layer atop [mesh.HyphalMemoryStore]'s vector search,
// adding input validation, sensitivity normalization, kind-tag warnings, and
// TTL-to-expiry computation. It mirrors the teacher's
// pkg/memory/postgres/semantic_index.go Search wrapper in spirit: the store
// does the heavy lifting, this package adds the domain rules around it.
package hyphalmemory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// ErrValidation is returned for malformed Store/Search inputs.
var ErrValidation = errors.New("hyphalmemory: validation failed")

const (
	minTopK = 1
	maxTopK = 100
)

// Engine implements component D over a [mesh.HyphalMemoryStore].
type Engine struct {
	store  mesh.HyphalMemoryStore
	clock  func() time.Time
	logger *slog.Logger
}

// New builds an Engine over store. logger defaults to slog.Default if nil.
func New(store mesh.HyphalMemoryStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, clock: time.Now, logger: logger}
}

// StoreInput is the validated payload for [Engine.Store].
type StoreInput struct {
	Tenant    string
	AgentID   string
	Kind      string
	Content   map[string]any
	Embedding []float32
	Quality   float64
	Sensitivity mesh.Sensitivity
	TTLHours  float64 // 0 means no expiry
	TaskID    string
	TraceID   string
	Metadata  map[string]any
}

// Store validates in, normalizes sensitivity, computes ExpiresAt from
// TTLHours, persists, and returns the assigned memory ID.
func (e *Engine) Store(ctx context.Context, in StoreInput) (string, error) {
	if len(in.Embedding) != mesh.EmbeddingDim {
		return "", fmt.Errorf("%w: embedding must be %d-dimensional, got %d", ErrValidation, mesh.EmbeddingDim, len(in.Embedding))
	}
	if in.Quality < 0 || in.Quality > 1 {
		return "", fmt.Errorf("%w: quality must be in [0,1], got %v", ErrValidation, in.Quality)
	}
	sensitivity := in.Sensitivity
	if sensitivity == "" {
		sensitivity = mesh.SensitivityInternal
	}
	if !mesh.ValidSensitivity(sensitivity) {
		return "", fmt.Errorf("%w: unrecognized sensitivity %q", ErrValidation, in.Sensitivity)
	}
	if !mesh.RecognizedMemoryKinds[in.Kind] {
		e.logger.Warn("hyphal memory: unrecognized kind tag", "kind", in.Kind, "tenant", in.Tenant)
	}

	now := e.clock()
	var expiresAt *time.Time
	if in.TTLHours > 0 {
		t := now.Add(time.Duration(in.TTLHours * float64(time.Hour)))
		expiresAt = &t
	}

	id := newID("mem")
	m := mesh.HyphalMemory{
		ID:          id,
		Tenant:      in.Tenant,
		AgentID:     in.AgentID,
		Kind:        in.Kind,
		Content:     in.Content,
		Embedding:   in.Embedding,
		Quality:     in.Quality,
		Sensitivity: sensitivity,
		TaskID:      in.TaskID,
		TraceID:     in.TraceID,
		Metadata:    in.Metadata,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	if err := e.store.InsertMemory(ctx, m); err != nil {
		return "", fmt.Errorf("hyphalmemory: store: %w", err)
	}
	return id, nil
}

// SearchInput is the validated payload for [Engine.Search].
type SearchInput struct {
	Tenant     string
	Embedding  []float32
	TopK       int
	MinQuality float64
	Filter     mesh.MemorySearchFilter
}

// Search validates in and runs the underlying vector-similarity query,
// excluding expired rows.
func (e *Engine) Search(ctx context.Context, in SearchInput) ([]mesh.MemorySearchResult, error) {
	if len(in.Embedding) != mesh.EmbeddingDim {
		return nil, fmt.Errorf("%w: embedding must be %d-dimensional, got %d", ErrValidation, mesh.EmbeddingDim, len(in.Embedding))
	}
	if in.TopK < minTopK || in.TopK > maxTopK {
		return nil, fmt.Errorf("%w: top_k must be in [%d,%d]", ErrValidation, minTopK, maxTopK)
	}
	filter := in.Filter
	if in.MinQuality > filter.MinQuality {
		filter.MinQuality = in.MinQuality
	}
	return e.store.SearchMemories(ctx, in.Tenant, in.Embedding, in.TopK, filter, e.clock())
}

// Get implements a straightforward tenant-scoped lookup.
func (e *Engine) Get(ctx context.Context, tenant, id string) (*mesh.HyphalMemory, error) {
	return e.store.GetMemory(ctx, tenant, id)
}

// Delete implements a straightforward tenant-scoped delete.
func (e *Engine) Delete(ctx context.Context, tenant, id string) error {
	return e.store.DeleteMemory(ctx, tenant, id)
}

// ListByAgent implements a straightforward tenant-scoped listing.
func (e *Engine) ListByAgent(ctx context.Context, tenant, agentID string) ([]mesh.HyphalMemory, error) {
	return e.store.ListMemoriesByAgent(ctx, tenant, agentID)
}

// Cleanup removes every expired memory for tenant. Admin-only operation;
// the scope check lives in internal/httpapi, not here.
func (e *Engine) Cleanup(ctx context.Context, tenant string) (int, error) {
	return e.store.CleanupExpiredMemories(ctx, tenant, e.clock())
}

func newID(prefix string) string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return prefix + "_" + hex.EncodeToString(buf[:])
}
