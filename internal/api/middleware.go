package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// limiterSet holds one token bucket per client IP.
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*ipLimiter
	swept    time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterSet(perSecond float64, burst int) *limiterSet {
	return &limiterSet{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*ipLimiter),
		swept:    time.Now(),
	}
}

func (l *limiterSet) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Sub(l.swept) > 5*time.Minute {
		for k, v := range l.limiters {
			if now.Sub(v.lastSeen) > 5*time.Minute {
				delete(l.limiters, k)
			}
		}
		l.swept = now
	}
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware adds unique request ID for tracking
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("RequestID", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RateLimitMiddleware prevents API abuse with per-IP rate limiting
func RateLimitMiddleware(limiters *limiterSet, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiters.get(ip).Allow() {
			log.Warn("rate limit exceeded", zap.String("ip", ip))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":  "RATE_LIMITED",
				"error": "too many requests, please slow down",
			})
			return
		}
		c.Next()
	}
}

// TimeoutMiddleware bounds the request context. Venue calls made by the
// handlers inherit the deadline.
func TimeoutMiddleware(timeout time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		if ctx.Err() == context.DeadlineExceeded && !c.Writer.Written() {
			log.Warn("request timeout", zap.String("method", c.Request.Method), zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{
				"code":  "REQUEST_TIMEOUT",
				"error": "request took too long to process",
			})
		}
	}
}

// RequestLogger logs all API requests with timing and status.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("request_id", c.GetString("RequestID")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if op := CurrentOperator(c); op != "" {
			fields = append(fields, zap.String("operator", op))
		}
		if c.Writer.Status() >= 500 {
			log.Warn("api request", fields...)
			return
		}
		log.Info("api request", fields...)
	}
}
