package config_test

import (
	"testing"

	"github.com/mycelialmesh/meshcore/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo},
		Quota:  config.QuotaConfig{DefaultCost: 1},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.QuotaChanged || d.RateLimitChanged {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogLevelDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_QuotaChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Quota: config.QuotaConfig{DefaultCost: 1}}
	new := &config.Config{Quota: config.QuotaConfig{DefaultCost: 3}}

	d := config.Diff(old, new)
	if !d.QuotaChanged {
		t.Error("expected QuotaChanged=true")
	}
	if d.NewDefaultQuota != 3 {
		t.Errorf("expected NewDefaultQuota=3, got %d", d.NewDefaultQuota)
	}
}

func TestDiff_RateLimitChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{RateLimit: config.RateLimitConfig{DefaultLimitPerMinute: 500}}
	new := &config.Config{RateLimit: config.RateLimitConfig{DefaultLimitPerMinute: 1000}}

	d := config.Diff(old, new)
	if !d.RateLimitChanged {
		t.Error("expected RateLimitChanged=true")
	}
	if d.NewDefaultRateLimit != 1000 {
		t.Errorf("expected NewDefaultRateLimit=1000, got %d", d.NewDefaultRateLimit)
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogLevelInfo},
		Quota:     config.QuotaConfig{DefaultCost: 1},
		RateLimit: config.RateLimitConfig{DefaultLimitPerMinute: 500},
	}
	new := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogLevelWarn},
		Quota:     config.QuotaConfig{DefaultCost: 2},
		RateLimit: config.RateLimitConfig{DefaultLimitPerMinute: 500},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.QuotaChanged {
		t.Error("expected QuotaChanged=true")
	}
	if d.RateLimitChanged {
		t.Error("expected RateLimitChanged=false")
	}
}
