package session

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coachai/coach-backend/internal/shared"
	"github.com/labstack/echo/v4"
)

const (
	defaultStatsHours = 24
	maxStatsHours     = 168
)

// Handler serves aggregate call statistics. Routes are expected to sit
// behind an admin role check.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

type StatsResponse struct {
	ScenarioID string         `json:"scenario_id"`
	Hours      int            `json:"hours"`
	Stats      []*HourlyStats `json:"stats"`
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/scenarios/:id", h.GetStats)
	g.GET("/scenarios/:id/summary", h.GetSummary)
}

func parseHours(c echo.Context) int {
	hours := defaultStatsHours
	if v := c.QueryParam("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			hours = min(max(n, 1), maxStatsHours)
		}
	}
	return hours
}

func (h *Handler) GetStats(c echo.Context) error {
	scenarioID := c.Param("id")
	if scenarioID == "" {
		return shared.BadRequest("missing_scenario", "scenario id is required")
	}
	hours := parseHours(c)

	stats, err := h.store.Stats(c.Request().Context(), scenarioID, hours)
	if err != nil {
		h.logger.Error("failed to get stats", "error", err, "scenario_id", scenarioID)
		return shared.InternalError("get_stats_failed", "failed to get stats")
	}
	if stats == nil {
		stats = []*HourlyStats{}
	}

	return c.JSON(http.StatusOK, StatsResponse{
		ScenarioID: scenarioID,
		Hours:      hours,
		Stats:      stats,
	})
}

func (h *Handler) GetSummary(c echo.Context) error {
	scenarioID := c.Param("id")
	if scenarioID == "" {
		return shared.BadRequest("missing_scenario", "scenario id is required")
	}

	summary, err := h.store.Summary(c.Request().Context(), scenarioID, parseHours(c))
	if err != nil {
		h.logger.Error("failed to get stats summary", "error", err, "scenario_id", scenarioID)
		return shared.InternalError("get_stats_failed", "failed to get stats")
	}
	return c.JSON(http.StatusOK, summary)
}
