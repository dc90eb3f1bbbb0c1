package service

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/middleware"
)

// Routes builds the service handler.
//
// Route table:
//
//	POST   /api/v1/match             → match one transaction
//	GET    /api/v1/index/stats       → forest shape
//	GET    /api/v1/cache/stats       → cache hit/miss counters
//	POST   /api/v1/cache/invalidate  → drop cached matches
//	GET    /health/live, /health/ready
//	GET    /metrics                  → only when m is non-nil
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → RateLimit → Timeout → mux
//
// m and limiter may be nil.
func Routes(h *Handler, checker *health.Checker, m *metrics.Metrics, limiter *middleware.Limiter, timeout time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/match", h.Match)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mws := []func(http.Handler) http.Handler{middleware.RequestID}
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
		mws = append(mws, middleware.Metrics(m))
	}
	if limiter != nil {
		mws = append(mws, middleware.RateLimit(limiter))
	}
	if timeout > 0 {
		mws = append(mws, middleware.Timeout(timeout))
	}
	return middleware.Chain(mux, mws...)
}
