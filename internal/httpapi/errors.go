package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mycelialmesh/meshcore/internal/httpapi/apierr"
)

// Bounds for the transient-store retry loop below. Kept small and
// hardcoded rather than made configurable — a store outage that outlasts
// half a second of retrying surfaces as 503, it does not block the
// request indefinitely.
const (
	maxStoreRetries = 3
	storeRetryBase  = 50 * time.Millisecond
	storeRetryCap   = 400 * time.Millisecond
)

// errorResponse is the JSON body written for every non-2xx response. Detail
// is the spec-mandated human-readable field; Code and RequestID are
// additional machine-readable context for operators correlating logs.
type errorResponse struct {
	Detail    string `json:"detail"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError maps err to its status code and writes the response body. Any
// error that is not an *apierr.Error is treated as an unexpected internal
// failure and its detail is never leaked to the caller.
func writeError(c *gin.Context, err error) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierr.Fatal("INTERNAL_ERROR", "internal error", err)
	}
	requestID, _ := c.Get("request_id")
	requestIDStr, _ := requestID.(string)

	c.JSON(apiErr.Status(), errorResponse{
		Detail:    apiErr.Message,
		Code:      apiErr.Code,
		RequestID: requestIDStr,
	})
}

// storeFailure classifies a graph-store error as a transient dependency
// outage (503, retryable by the caller) or an unexpected internal failure
// (500). Connection-class Postgres errors (SQLSTATE class 08) and network
// timeouts are transient; anything else is treated as fatal.
func storeFailure(code, message string, err error) *apierr.Error {
	if isTransientStoreErr(err) {
		return apierr.Unavailable(code, message, err)
	}
	return apierr.Fatal(code, message, err)
}

func isTransientStoreErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// withStoreRetry runs op, retrying with doubling backoff (capped at
// storeRetryCap, up to maxStoreRetries retries after the first attempt)
// whenever the failure
// looks transient — the same doubling-backoff shape
// internal/session.Reconnector uses for audio reconnects in the teacher
// repo, applied here to graph-store calls instead of socket reconnects.
// A non-transient error, or the final attempt's error, is returned as-is
// for the caller to classify with storeFailure.
func withStoreRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	backoff := storeRetryBase
	var v T
	var err error
	for attempt := 0; attempt <= maxStoreRetries; attempt++ {
		v, err = op()
		if err == nil {
			return v, nil
		}
		if !isTransientStoreErr(err) || attempt == maxStoreRetries {
			return v, err
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > storeRetryCap {
			backoff = storeRetryCap
		}
	}
	return v, err
}

// withStoreRetryErr is withStoreRetry for operations with no return value
// besides error.
func withStoreRetryErr(ctx context.Context, op func() error) error {
	_, err := withStoreRetry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

func newRequestID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
