package reinforcement

import (
	"context"
	"testing"
	"time"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

type fakeDecayStore struct {
	mesh.GraphStore

	stale   []mesh.Edge
	deleted []string
	updated []mesh.Edge
}

func (f *fakeDecayStore) ScanStaleEdges(ctx context.Context, cutoff time.Time, limit int) ([]mesh.Edge, error) {
	return f.stale, nil
}

func (f *fakeDecayStore) DeleteEdge(ctx context.Context, tenant, src, dst string) error {
	f.deleted = append(f.deleted, src+"->"+dst)
	return nil
}

func (f *fakeDecayStore) UpsertEdge(ctx context.Context, e mesh.Edge) error {
	f.updated = append(f.updated, e)
	return nil
}

func TestDecayRunOncePrunesStaleEdge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeDecayStore{
		stale: []mesh.Edge{
			{Tenant: "t1", Src: "a", Dst: "b", Weight: 0.015, LastUpdate: now.Add(-40 * 24 * time.Hour)},
		},
	}
	task := NewDecayTask(store, DecayParams{}, nil)

	if err := task.RunOnce(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.deleted) != 1 {
		t.Fatalf("expected 1 deletion, got %d (updated=%v)", len(store.deleted), store.updated)
	}
}

func TestDecayRunOnceUpdatesMildlyStaleEdge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeDecayStore{
		stale: []mesh.Edge{
			{Tenant: "t1", Src: "a", Dst: "b", Weight: 1.0, LastUpdate: now.Add(-5 * 24 * time.Hour)},
		},
	}
	task := NewDecayTask(store, DecayParams{}, nil)

	if err := task.RunOnce(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.updated) != 1 {
		t.Fatalf("expected 1 update, got %d", len(store.updated))
	}
	if store.updated[0].Weight >= 1.0 {
		t.Errorf("expected decayed weight < 1.0, got %v", store.updated[0].Weight)
	}
}

func TestDecayTaskStartStopTerminatesCleanly(t *testing.T) {
	store := &fakeDecayStore{}
	task := NewDecayTask(store, DecayParams{Interval: time.Millisecond}, nil)

	task.Start(context.Background())
	task.Stop()
	// Stop must return only after the goroutine has exited; a second Stop
	// call must not block or panic.
	task.Stop()
}
