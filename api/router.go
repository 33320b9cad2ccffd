package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/linlinbupt123-crypto/vault_service/metrics"
)

// NewRouter wires middleware, /healthz, /metrics and the /v1 routes.
func NewRouter(h *VaultHandler, m *metrics.Metrics, gatherer prometheus.Gatherer, limiter *RateLimiter, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(log), Instrument(m))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1", Caller(limiter))
	h.Register(v1)
	return r
}
