package health

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachai/coach-backend/internal/coach"
	"github.com/labstack/echo/v4"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const checkTimeout = 5 * time.Second

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines         int    `json:"goroutines"`
	MemoryAllocMB      uint64 `json:"memory_alloc_mb"`
	MemoryTotalAllocMB uint64 `json:"memory_total_alloc_mb"`
	MemorySysMB        uint64 `json:"memory_sys_mb"`
	NumGC              uint32 `json:"num_gc"`
}

type SessionStats struct {
	CoachingSessions int `json:"coaching_sessions"`
	PeerConnections  int `json:"peer_connections"`
}

type RequestStats struct {
	TotalRequests     uint64 `json:"total_requests"`
	ActiveConnections int64  `json:"active_connections"`
}

type Stats struct {
	Sessions SessionStats `json:"sessions"`
	Requests RequestStats `json:"requests"`
	Runtime  RuntimeStats `json:"runtime"`
}

type HealthResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Stats         Stats                      `json:"stats"`
	Components    map[string]ComponentStatus `json:"components"`
}

type SessionsResponse struct {
	Total    int                 `json:"total"`
	Sessions []coach.SessionInfo `json:"sessions"`
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type CoachSessions interface {
	SessionCount() int
	ListSessions() []coach.SessionInfo
}

type Counter interface {
	SessionCount() int
}

type HandlerConfig struct {
	Database Pinger
	Redis    Pinger
	// LiveConfig reports whether the live model credentials are usable.
	LiveConfig func() error
	Coach      CoachSessions
	Peers      Counter
	Version    string
}

type Handler struct {
	cfg       HandlerConfig
	startTime time.Time

	totalRequests     uint64
	activeConnections int64
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg, startTime: time.Now()}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
	e.GET("/health/sessions", h.Sessions)
}

func (h *Handler) IncrementRequests() {
	atomic.AddUint64(&h.totalRequests, 1)
}

func (h *Handler) IncrementConnections() {
	atomic.AddInt64(&h.activeConnections, 1)
}

func (h *Handler) DecrementConnections() {
	atomic.AddInt64(&h.activeConnections, -1)
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), checkTimeout)
	defer cancel()

	checks := map[string]func(context.Context) ComponentStatus{
		"database": pingCheck(h.cfg.Database, "database"),
		"redis":    pingCheck(h.cfg.Redis, "redis"),
		"live":     h.checkLive,
	}

	components := make(map[string]ComponentStatus, len(checks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn func(context.Context) ComponentStatus) {
			defer wg.Done()
			status := fn(ctx)
			mu.Lock()
			components[name] = status
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	overall := computeOverallStatus(components)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := HealthResponse{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Stats: Stats{
			Sessions: h.sessionStats(),
			Requests: RequestStats{
				TotalRequests:     atomic.LoadUint64(&h.totalRequests),
				ActiveConnections: atomic.LoadInt64(&h.activeConnections),
			},
			Runtime: RuntimeStats{
				Goroutines:         runtime.NumGoroutine(),
				MemoryAllocMB:      memStats.Alloc / 1024 / 1024,
				MemoryTotalAllocMB: memStats.TotalAlloc / 1024 / 1024,
				MemorySysMB:        memStats.Sys / 1024 / 1024,
				NumGC:              memStats.NumGC,
			},
		},
		Components: components,
	}

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (h *Handler) sessionStats() SessionStats {
	var s SessionStats
	if h.cfg.Coach != nil {
		s.CoachingSessions = h.cfg.Coach.SessionCount()
	}
	if h.cfg.Peers != nil {
		s.PeerConnections = h.cfg.Peers.SessionCount()
	}
	return s
}

func (h *Handler) Sessions(c echo.Context) error {
	sessions := []coach.SessionInfo{}
	if h.cfg.Coach != nil {
		sessions = h.cfg.Coach.ListSessions()
	}
	return c.JSON(http.StatusOK, SessionsResponse{
		Total:    len(sessions),
		Sessions: sessions,
	})
}

func pingCheck(p Pinger, name string) func(context.Context) ComponentStatus {
	return func(ctx context.Context) ComponentStatus {
		start := time.Now()
		if p == nil {
			return ComponentStatus{
				Status: StatusUnhealthy,
				Error:  name + " not configured",
			}
		}
		if err := p.Ping(ctx); err != nil {
			return ComponentStatus{
				Status:    StatusUnhealthy,
				LatencyMs: time.Since(start).Milliseconds(),
				Error:     "ping failed",
			}
		}
		return ComponentStatus{
			Status:    StatusHealthy,
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
}

func (h *Handler) checkLive(context.Context) ComponentStatus {
	if h.cfg.LiveConfig == nil {
		return ComponentStatus{Status: StatusUnhealthy, Error: "live model not configured"}
	}
	if err := h.cfg.LiveConfig(); err != nil {
		return ComponentStatus{Status: StatusUnhealthy, Error: err.Error()}
	}
	return ComponentStatus{Status: StatusHealthy}
}

// computeOverallStatus is unhealthy when a critical store is down and
// degraded when any other component is.
func computeOverallStatus(components map[string]ComponentStatus) Status {
	for _, name := range []string{"database", "redis"} {
		if status, ok := components[name]; ok && status.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
	}

	for _, status := range components {
		if status.Status != StatusHealthy {
			return StatusDegraded
		}
	}
	return StatusHealthy
}
