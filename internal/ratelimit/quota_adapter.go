package ratelimit

import "context"

// QuotaAdapter adapts [Limiter] to the narrow interface the Propagation
// Controller depends on (propagation.QuotaChecker), so that package never
// imports Redis directly.
type QuotaAdapter struct {
	Limiter        *Limiter
	LimitPerMinute int
}

// Allow implements propagation.QuotaChecker.
func (a QuotaAdapter) Allow(ctx context.Context, tenant string, cost int) (bool, error) {
	result, err := a.Limiter.Quota(ctx, tenant, cost, a.LimitPerMinute)
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}
