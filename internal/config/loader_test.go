package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mycelialmesh/meshcore/internal/config"
)

func TestLoad_ReadsFileFromDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "mesh.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.PostgresDSN == "" {
		t.Error("expected store.postgres_dsn to be populated")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  unknown_field: true
store:
  postgres_dsn: postgres://localhost/mesh
rate_limit:
  redis_url: redis://localhost:6379/0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_AllErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"log_level", "postgres_dsn", "redis_url"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("expected joined error to mention %q, got: %v", want, errStr)
		}
	}
}
