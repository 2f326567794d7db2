package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded are tracked: Postgres/Redis endpoints and the
// security secrets require a process restart to take effect cleanly, so
// [Watcher] changing them mid-flight is intentionally not reported here.
// cmd/meshd logs the diff on each reload; it does not apply these settings
// to the running process.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	QuotaChanged        bool
	NewDefaultQuota     int
	RateLimitChanged    bool
	NewDefaultRateLimit int
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Quota.DefaultCost != new.Quota.DefaultCost {
		d.QuotaChanged = true
		d.NewDefaultQuota = new.Quota.DefaultCost
	}

	if old.RateLimit.DefaultLimitPerMinute != new.RateLimit.DefaultLimitPerMinute {
		d.RateLimitChanged = true
		d.NewDefaultRateLimit = new.RateLimit.DefaultLimitPerMinute
	}

	return d
}
