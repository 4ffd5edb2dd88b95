package web_service

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pzhenzhou/elika-client/pkg/metrics"
	"github.com/pzhenzhou/elika-client/pkg/pool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	PoolStatsPath      = "/pool"
	MetricsSummaryPath = "/summary"
	PrometheusPath     = "/metrics"
)

// StatsSource is the pool being observed.
type StatsSource interface {
	Stats() pool.Stats
}

var _ WebHandler = (*PoolStatsHandler)(nil)

// PoolStatsHandler reports a pool snapshot. Every field is -1 once the pool
// is closed.
type PoolStatsHandler struct {
	Pool StatsSource
}

func (h *PoolStatsHandler) Path() string {
	return PoolStatsPath
}

func (h *PoolStatsHandler) Method() HttpMethod {
	return GET
}

func (h *PoolStatsHandler) Handler(ctx *gin.Context) {
	stats := h.Pool.Stats()
	ctx.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data: gin.H{
			"active":              stats.NumActive,
			"idle":                stats.NumIdle,
			"waiters":             stats.NumWaiters,
			"created":             stats.Created,
			"destroyed":           stats.Destroyed,
			"timeouts":            stats.Timeouts,
			"mean_borrow_wait_us": waitMicros(stats.MeanBorrowWait),
			"max_borrow_wait_us":  waitMicros(stats.MaxBorrowWait),
		},
	})
}

func waitMicros(d time.Duration) int64 {
	if d < 0 {
		return pool.Unavailable
	}
	return d.Microseconds()
}

var _ WebHandler = (*SummaryHandler)(nil)

// SummaryHandler dumps the in-memory metrics aggregate.
type SummaryHandler struct {
	Collector metrics.ClientMetricsCollector
}

func (h *SummaryHandler) Path() string {
	return MetricsSummaryPath
}

func (h *SummaryHandler) Method() HttpMethod {
	return GET
}

func (h *SummaryHandler) Handler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data:    h.Collector.Summary(),
	})
}

var _ WebHandler = (*PrometheusHandler)(nil)

// PrometheusHandler serves the collector's registry in the text exposition
// format. It answers 404 when the collector has no prometheus sink.
type PrometheusHandler struct {
	Collector metrics.ClientMetricsCollector
}

func (h *PrometheusHandler) Path() string {
	return PrometheusPath
}

func (h *PrometheusHandler) Method() HttpMethod {
	return GET
}

func (h *PrometheusHandler) Handler(ctx *gin.Context) {
	gatherer := h.Collector.Gatherer()
	if gatherer == nil {
		ctx.JSON(http.StatusNotFound, ApiResponse{
			Code:    http.StatusNotFound,
			Message: "prometheus sink is not enabled",
		})
		return
	}
	promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP(ctx.Writer, ctx.Request)
}
