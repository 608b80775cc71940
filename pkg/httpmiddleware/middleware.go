// Package httpmiddleware adapts the teacher's net/http rate-limiting
// and circuit-breaking middleware (pkg/httpmiddleware) to gin, which
// this module's HTTP/SSE Surface (internal/api) is built on.
package httpmiddleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DM-llm/deer-flow/pkg/circuitbreaker"
	"github.com/DM-llm/deer-flow/pkg/ratelimiter"
)

// RateLimit rejects a request with 429 when limiter denies it. Applied
// to every route of the surface (spec's Non-goals exclude
// "business logic" rate limiting, not transport-level throttling of
// the HTTP surface itself).
func RateLimit(limiter ratelimiter.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// CircuitBreak counts any handler response >= 500 as a breaker
// failure, and short-circuits with 503 while the breaker is open — guards the
// surface against cascading failure when a backing store is
// struggling (distinct from the Event Log's own TransportError
// fallback, which is about durability, not request admission).
func CircuitBreak(breaker circuitbreaker.CircuitBreaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, err := breaker.Execute(func() (interface{}, error) {
			c.Next()
			if c.Writer.Status() >= http.StatusInternalServerError {
				return nil, fmt.Errorf("server error: status code %d", c.Writer.Status())
			}
			return nil, nil
		})
		if err == circuitbreaker.ErrCircuitOpen {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "circuit breaker is open"})
		}
	}
}
