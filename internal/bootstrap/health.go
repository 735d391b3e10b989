package bootstrap

import (
	"github.com/coachai/coach-backend/internal/coach"
	"github.com/coachai/coach-backend/internal/health"
	"github.com/coachai/coach-backend/internal/live"
	"github.com/coachai/coach-backend/internal/realtime"
	"github.com/coachai/coach-backend/internal/session"
	"github.com/coachai/coach-backend/internal/transcript"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

const version = "1.0.0"

func ProvideHealthHandler(
	transcripts *transcript.Store,
	sessions *session.Store,
	liveCfg live.Config,
	coachMgr *coach.Manager,
	rtcMgr *realtime.Manager,
) *health.Handler {
	return health.NewHandler(health.HandlerConfig{
		Database:   transcripts,
		Redis:      sessions,
		LiveConfig: liveCfg.Validate,
		Coach:      coachMgr,
		Peers:      rtcMgr,
		Version:    version,
	})
}

func metricsMiddleware(h *health.Handler) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h.IncrementRequests()
			h.IncrementConnections()
			defer h.DecrementConnections()
			return next(c)
		}
	}
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	e.Use(metricsMiddleware(h))
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
