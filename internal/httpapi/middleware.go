package httpapi

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/mycelialmesh/meshcore/internal/auth"
	"github.com/mycelialmesh/meshcore/internal/httpapi/apierr"
	"github.com/mycelialmesh/meshcore/internal/ratelimit"
)

const identityContextKey = "httpapi.identity"
const requestIDHeader = "X-Request-Id"

// requestLogMiddleware assigns a request ID (reusing an inbound one if the
// caller already set it) and logs method/path/status/duration once the
// handler chain completes.
func requestLogMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = newRequestID()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		start := time.Now()
		c.Next()

		span := oteltrace.SpanFromContext(c.Request.Context())
		span.SetAttributes(
			attribute.String("http.request_id", requestID),
			attribute.Int("http.status_code", c.Writer.Status()),
		)

		logger.Info("http request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// authMiddleware resolves the X-API-Key header into an [auth.Identity] and
// stores it on the context for downstream handlers. Missing or invalid
// keys short-circuit the chain with 401.
func authMiddleware(resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := c.GetHeader("X-API-Key")
		identity, err := resolver.Resolve(c.Request.Context(), rawKey)
		if err != nil {
			writeError(c, apierr.Unauthorized("INVALID_API_KEY", "missing or invalid API key"))
			c.Abort()
			return
		}
		c.Set(identityContextKey, identity)
		c.Next()
	}
}

// identityFromContext retrieves the [auth.Identity] authMiddleware stored.
// It panics if called from a route not protected by authMiddleware, which
// would be a routing bug, not a runtime condition to recover from.
func identityFromContext(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityContextKey)
	if !ok {
		panic("httpapi: identityFromContext called without authMiddleware")
	}
	return v.(*auth.Identity)
}

// rateLimitMiddleware enforces the per-tenant request rate independently of
// the Propagation Controller's broadcast quota; it protects every endpoint,
// not just nutrient broadcasts.
func rateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityFromContext(c)
		limit := identity.RateLimitPerMinute
		if limit <= 0 {
			limit = ratelimit.DefaultLimitPerMinute
		}
		result, err := limiter.Allow(c.Request.Context(), identity.TenantID, limit)
		if err != nil {
			// Allow already fails open internally; a returned error here
			// means the limiter itself is misconfigured.
			writeError(c, apierr.Fatal("RATE_LIMITER_ERROR", "rate limiter unavailable", err))
			c.Abort()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			writeError(c, apierr.RateLimited("RATE_LIMIT_EXCEEDED", "too many requests"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// adminOnlyMiddleware rejects requests whose resolved identity is not the
// admin tenant or admin:* scope.
func adminOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityFromContext(c)
		if !identity.IsAdmin {
			writeError(c, apierr.Forbidden("ADMIN_REQUIRED", "this endpoint requires admin scope"))
			c.Abort()
			return
		}
		c.Next()
	}
}
