package persona

import (
	"net/http"

	"github.com/coachai/coach-backend/internal/shared"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	catalog *Catalog
}

func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

type ScenarioList struct {
	Default   string     `json:"default"`
	Scenarios []Scenario `json:"scenarios"`
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/scenarios", h.List)
	g.GET("/scenarios/:id", h.Get)
}

func (h *Handler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, ScenarioList{
		Default:   h.catalog.Default().ID,
		Scenarios: h.catalog.List(),
	})
}

func (h *Handler) Get(c echo.Context) error {
	s, err := h.catalog.Get(c.Param("id"))
	if err != nil {
		return shared.NotFound("scenario_not_found", "scenario not found")
	}
	return c.JSON(http.StatusOK, s)
}
