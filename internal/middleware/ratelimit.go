package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/thereayou/teleconsult/internal/metrics"
)

// UserRateLimiter token bucket на пользователя
type UserRateLimiter struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*userLimiter
	rps      rate.Limit
	burst    int
	idle     time.Duration
	metrics  *metrics.Collector
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewUserRateLimiter(rps float64, burst int, m *metrics.Collector) *UserRateLimiter {
	return &UserRateLimiter{
		limiters: make(map[uuid.UUID]*userLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		metrics:  m,
	}
}

// Allow расходует токен пользователя
func (l *UserRateLimiter) Allow(userID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	ul, ok := l.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[userID] = ul
	}
	ul.lastSeen = now
	return ul.limiter.AllowN(now, 1)
}

// Cleanup удаляет лимитеры пользователей, не активных дольше idle
func (l *UserRateLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.idle)
	for id, ul := range l.limiters {
		if ul.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
		}
	}
}

// Middleware должен стоять после AuthMiddleware
func (l *UserRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := CurrentUser(c)
		if !l.Allow(userID) {
			l.metrics.RateLimited.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many signals", "code": "RATE_LIMITED"})
			return
		}
		c.Next()
	}
}
