// Package health serves the admin/diagnostic HTTP surface: liveness,
// pool statistics, and Prometheus metrics, on a listener separate from
// the forward-proxy listener (spec.md §6).
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gwlog "github.com/nghyane/tokenproxy/internal/logging"
	"github.com/nghyane/tokenproxy/internal/tokenpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the admin/health HTTP surface. It never touches the token
// pool's slots directly — only the read-only counters and per-slot
// diagnostics pool.Pool already exposes.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	startedAt  time.Time
}

// New builds the health/admin engine bound to addr, registering
// pool-derived gauges against a Prometheus registry private to this
// Server (not the default global registry).
func New(addr string, pool *tokenpool.Pool) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gwlog.GinRecovery(), gwlog.GinLogger())

	s := &Server{
		engine:    engine,
		startedAt: time.Now(),
	}

	registry := prometheus.NewRegistry()
	registerPoolGauges(registry, pool)

	engine.GET("/health", s.handleHealth)
	engine.GET("/stats", func(c *gin.Context) { handleStats(c, pool) })
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: engine,
	}
	return s
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

func handleStats(c *gin.Context, pool *tokenpool.Pool) {
	needsRefresh := make(map[int]bool)
	for _, id := range pool.GetTokensNeedingRefresh() {
		needsRefresh[id] = true
	}

	total := pool.Total()
	slots := make([]gin.H, 0, total)
	for id := 0; id < total; id++ {
		useCount, errorCount, lastUsedUnix, ok := pool.SlotStats(id)
		if !ok {
			continue
		}
		slots = append(slots, gin.H{
			"id":            id,
			"use_count":     useCount,
			"error_count":   errorCount,
			"last_used_at":  lastUsedUnix,
			"needs_refresh": needsRefresh[id],
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"in_use":    pool.InUse(),
		"available": pool.Available(),
		"waiting":   pool.Waiting(),
		"slots":     slots,
	})
}

// registerPoolGauges wires the pool's counters into registry via
// GaugeFunc, so /metrics always reflects live state without a separate
// background updater (spec.md §6 "no push interface").
func registerPoolGauges(registry *prometheus.Registry, pool *tokenpool.Pool) {
	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tokenproxy",
			Subsystem: "pool",
			Name:      "total",
			Help:      "Total number of slots in the token pool.",
		}, func() float64 { return float64(pool.Total()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tokenproxy",
			Subsystem: "pool",
			Name:      "in_use",
			Help:      "Number of slots currently checked out.",
		}, func() float64 { return float64(pool.InUse()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tokenproxy",
			Subsystem: "pool",
			Name:      "available",
			Help:      "Number of slots currently available for acquisition.",
		}, func() float64 { return float64(pool.Available()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tokenproxy",
			Subsystem: "pool",
			Name:      "waiting",
			Help:      "Number of callers currently blocked waiting on Acquire.",
		}, func() float64 { return float64(pool.Waiting()) }),
	)
}

// Run starts the listener and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	gwlog.Infof("health: listening on %s", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
