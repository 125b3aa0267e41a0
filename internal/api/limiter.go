package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of requests hitting upstream services at once.
// Requests wait up to the queue timeout for a slot and are rejected with 503
// after that.
type Limiter struct {
	sem     *semaphore.Weighted
	max     int64
	timeout time.Duration

	active    atomic.Int64
	waiting   atomic.Int64
	processed atomic.Int64
	rejected  atomic.Int64
}

// NewLimiter creates a limiter with max slots. max < 1 means 8; a zero
// timeout rejects immediately when every slot is taken.
func NewLimiter(max int, timeout time.Duration) *Limiter {
	if max < 1 {
		max = 8
	}
	return &Limiter{
		sem:     semaphore.NewWeighted(int64(max)),
		max:     int64(max),
		timeout: timeout,
	}
}

// LimiterStats is a snapshot of limiter counters.
type LimiterStats struct {
	Max       int64 `json:"max_concurrent"`
	Active    int64 `json:"active"`
	Waiting   int64 `json:"waiting"`
	Processed int64 `json:"total_processed"`
	Rejected  int64 `json:"total_rejected"`
}

func (l *Limiter) Stats() LimiterStats {
	return LimiterStats{
		Max:       l.max,
		Active:    l.active.Load(),
		Waiting:   l.waiting.Load(),
		Processed: l.processed.Load(),
		Rejected:  l.rejected.Load(),
	}
}

func (l *Limiter) acquire(ctx context.Context) bool {
	if l.sem.TryAcquire(1) {
		return true
	}
	if l.timeout <= 0 {
		return false
	}

	l.waiting.Add(1)
	defer l.waiting.Add(-1)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.sem.Acquire(ctx, 1) == nil
}

// Middleware enforces the limit
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.acquire(c.Request.Context()) {
			l.rejected.Add(1)
			c.Header("Retry-After", "5")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "too many requests in flight"})
			return
		}
		l.active.Add(1)
		defer func() {
			l.active.Add(-1)
			l.processed.Add(1)
			l.sem.Release(1)
		}()
		c.Next()
	}
}

// StatsHandler returns the limiter counters
func (l *Limiter) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, l.Stats())
	}
}
