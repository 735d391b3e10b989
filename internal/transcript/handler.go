package transcript

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coachai/coach-backend/internal/auth"
	"github.com/coachai/coach-backend/internal/shared"
	"github.com/labstack/echo/v4"
)

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

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:session_id", h.Get)
}

type ListResponse struct {
	Transcripts []Summary `json:"transcripts"`
}

func (h *Handler) List(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return shared.BadRequest("invalid_limit", "limit must be a positive integer")
		}
		limit = n
	}

	items, err := h.store.ListByUser(c.Request().Context(), userID, limit)
	if err != nil {
		h.logger.Error("list transcripts failed", "user_id", userID, "error", err)
		return shared.InternalError("transcripts_failed", "failed to list transcripts")
	}

	out := make([]Summary, 0, len(items))
	for _, t := range items {
		out = append(out, t.Summary())
	}
	return c.JSON(http.StatusOK, ListResponse{Transcripts: out})
}

func (h *Handler) Get(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	t, err := h.store.GetBySessionID(c.Request().Context(), c.Param("session_id"))
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NotFound("transcript_not_found", "transcript not found")
	}
	if err != nil {
		h.logger.Error("get transcript failed", "session_id", c.Param("session_id"), "error", err)
		return shared.InternalError("transcript_failed", "failed to load transcript")
	}
	// Other users' transcripts are reported as missing.
	if t.UserID != userID {
		return shared.NotFound("transcript_not_found", "transcript not found")
	}
	return c.JSON(http.StatusOK, t)
}
