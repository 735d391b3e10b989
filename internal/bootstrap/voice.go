package bootstrap

import (
	"context"
	"log/slog"

	"github.com/coachai/coach-backend/internal/auth"
	"github.com/coachai/coach-backend/internal/coach"
	"github.com/coachai/coach-backend/internal/live"
	"github.com/coachai/coach-backend/internal/persona"
	"github.com/coachai/coach-backend/internal/realtime"
	"github.com/coachai/coach-backend/internal/session"
	"github.com/coachai/coach-backend/internal/transcript"
	"github.com/coachai/coach-backend/internal/transport"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

func ProvideRTCConfig(cfg *Config) realtime.Config {
	iceServers := make([]realtime.ICEServerConfig, 0, len(cfg.RTCICEServers))
	for _, s := range cfg.RTCICEServers {
		iceServers = append(iceServers, realtime.ICEServerConfig{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	return realtime.Config{
		ICEServers: iceServers,
		PortRange: realtime.PortRange{
			Min: cfg.RTCPortMin,
			Max: cfg.RTCPortMax,
		},
		MaxSDPSize: cfg.RTCMaxSDPSize,
	}
}

func ProvideLiveConfig(cfg *Config) live.Config {
	return live.Config{
		APIKey:          cfg.GeminiAPIKey,
		Model:           cfg.GeminiModel,
		UseVertex:       cfg.GeminiUseVertex,
		Project:         cfg.GoogleCloudProject,
		Location:        cfg.GoogleCloudLocation,
		ConnectAttempts: cfg.LiveConnectAttempts,
		ConnectBackoff:  cfg.LiveConnectBackoff,
	}.WithDefaults()
}

func ProvideRTCManager(lc fx.Lifecycle, cfg realtime.Config, logger *slog.Logger) (*realtime.Manager, error) {
	mgr, err := realtime.NewManager(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			mgr.Close()
			return nil
		},
	})
	return mgr, nil
}

func ProvideLiveDialer(cfg live.Config, logger *slog.Logger) live.Dialer {
	return live.NewGenAIDialer(cfg, logger)
}

func ProvideCoachManager(
	lc fx.Lifecycle,
	cfg *Config,
	liveCfg live.Config,
	dialer live.Dialer,
	sessions *session.Store,
	transcripts *transcript.Store,
	logger *slog.Logger,
) *coach.Manager {
	mgr := coach.NewManager(coach.ManagerConfig{
		Config: coach.Config{
			ConnectAttempts:    liveCfg.ConnectAttempts,
			ConnectBackoff:     liveCfg.ConnectBackoff,
			MaxDuration:        cfg.LiveMaxSession,
			MaxSessionsPerUser: cfg.MaxSessionsPerUser,
		},
		Dialer:      dialer,
		Recorder:    sessions,
		Transcripts: transcripts,
		Log:         logger,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return mgr.Close()
		},
	})
	return mgr
}

func ProvideSessionStarter(mgr *coach.Manager, catalog *persona.Catalog, logger *slog.Logger) transport.SessionStarter {
	return coach.NewStarter(mgr, catalog, logger)
}

func ProvideCallLimiter(lc fx.Lifecycle, cfg *Config) *auth.RateLimiter {
	rl := auth.NewRateLimiter(auth.RateLimiterConfig{
		PerMinute: cfg.CallRatePerMinute,
		Burst:     cfg.CallRateBurst,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			rl.Stop()
			return nil
		},
	})
	return rl
}

func ProvideAuthFunc(validator *auth.JWTValidator) transport.AuthFunc {
	return auth.AuthFunc(validator)
}

func ProvideRTCHandler(
	mgr *realtime.Manager,
	starter transport.SessionStarter,
	authFn transport.AuthFunc,
	limiter *auth.RateLimiter,
	logger *slog.Logger,
) *realtime.Handler {
	return realtime.NewHandler(realtime.HandlerConfig{
		Manager: mgr,
		Starter: starter,
		Auth:    authFn,
		Limiter: limiter,
		Log:     logger,
	})
}

func RegisterVoiceRoutes(e *echo.Echo, handler *realtime.Handler) {
	handler.RegisterRoutes(e.Group("/api/v1/voice"))
}

var VoiceModule = fx.Options(
	fx.Provide(
		ProvideRTCConfig,
		ProvideLiveConfig,
		ProvideRTCManager,
		ProvideLiveDialer,
		ProvideCoachManager,
		ProvideSessionStarter,
		ProvideCallLimiter,
		ProvideAuthFunc,
		ProvideRTCHandler,
	),
	fx.Invoke(RegisterVoiceRoutes),
)
