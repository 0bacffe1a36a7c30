package api

import (
	"github.com/labstack/echo/v4"

	"PredPulse/internal/domain/models"
	domrepo "PredPulse/internal/domain/repository"
	"PredPulse/internal/registry"
	xhttp "PredPulse/pkg/http"
)

// StatusHandler reports serving health and connection counts.
type StatusHandler struct {
	gate     domrepo.HealthGate
	registry *registry.Registry
}

func NewStatusHandler(gate domrepo.HealthGate, r *registry.Registry) *StatusHandler {
	return &StatusHandler{gate: gate, registry: r}
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/status", h.Status)
}

type statusResponse struct {
	Health    models.HealthSnapshot `json:"health"`
	Connected int                   `json:"connected_clients"`
}

func (h *StatusHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, statusResponse{
		Health:    h.gate.Snapshot(),
		Connected: h.registry.Count(),
	})
}
