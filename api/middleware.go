package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linlinbupt123-crypto/vault_service/metrics"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderCaller    = "X-Caller-Address"

	ctxRequestID = "request_id"
	ctxCaller    = "caller"
)

// RequestID keeps an inbound X-Request-ID or assigns a fresh one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("caller", c.GetHeader(HeaderCaller)),
			zap.Duration("latency", time.Since(start)))
	}
}

func Instrument(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.
			WithLabelValues(route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Caller resolves the principal from X-Caller-Address, set by the
// authenticating gateway in front of the daemon, and rate-limits it.
func Caller(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderCaller)
		if !common.IsHexAddress(raw) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + HeaderCaller})
			return
		}
		caller := common.HexToAddress(raw)
		if !limiter.Allow(caller.Hex(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
		c.Set(ctxCaller, caller)
		c.Next()
	}
}

func callerOf(c *gin.Context) common.Address {
	v, _ := c.Get(ctxCaller)
	addr, _ := v.(common.Address)
	return addr
}
