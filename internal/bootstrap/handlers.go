package bootstrap

import (
	"log/slog"

	"github.com/coachai/coach-backend/internal/auth"
	"github.com/coachai/coach-backend/internal/persona"
	"github.com/coachai/coach-backend/internal/session"
	"github.com/coachai/coach-backend/internal/transcript"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

type HandlerParams struct {
	fx.In

	PersonaHandler    *persona.Handler
	StatsHandler      *session.Handler
	TranscriptHandler *transcript.Handler
	JWTMiddleware     *auth.Middleware
	Config            *Config
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	api := e.Group("/api/v1")

	params.PersonaHandler.RegisterRoutes(api.Group(""))

	transcripts := api.Group("/transcripts")
	transcripts.Use(params.JWTMiddleware.Authenticate)
	params.TranscriptHandler.RegisterRoutes(transcripts)

	stats := api.Group("/admin/stats")
	stats.Use(params.JWTMiddleware.Authenticate, params.JWTMiddleware.RequireRole(params.Config.AdminRole))
	params.StatsHandler.RegisterRoutes(stats)
}

func ProvideJWTValidator(cfg *Config) *auth.JWTValidator {
	return auth.NewJWTValidator(cfg.JWTSecret)
}

func ProvideJWTMiddleware(validator *auth.JWTValidator) *auth.Middleware {
	return auth.NewMiddleware(validator)
}

func ProvidePersonaHandler(catalog *persona.Catalog) *persona.Handler {
	return persona.NewHandler(catalog)
}

func ProvideStatsHandler(store *session.Store, logger *slog.Logger) *session.Handler {
	return session.NewHandler(store, logger.With("handler", "stats"))
}

func ProvideTranscriptHandler(store *transcript.Store, logger *slog.Logger) *transcript.Handler {
	return transcript.NewHandler(store, logger.With("handler", "transcript"))
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideJWTValidator,
		ProvideJWTMiddleware,
		ProvidePersonaHandler,
		ProvideStatsHandler,
		ProvideTranscriptHandler,
	),
	fx.Invoke(RegisterRoutes),
)
