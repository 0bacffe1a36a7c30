package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"PredPulse/internal/domain/models"
	"PredPulse/internal/pipeline"
	xhttp "PredPulse/pkg/http"
	xlogger "PredPulse/pkg/logger"
	"PredPulse/pkg/util"
)

// EventsHandler exposes the HTTP ingest path. It feeds the same pipeline
// as the Kafka consumer, so both entry points share cache, admission and
// broadcast behavior.
type EventsHandler struct {
	logger   *xlogger.Logger
	pipeline *pipeline.Pipeline
}

func NewEventsHandler(logger *xlogger.Logger, p *pipeline.Pipeline) *EventsHandler {
	return &EventsHandler{logger: logger, pipeline: p}
}

func (h *EventsHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/events", h.Ingest)
}

// Ingest runs one market event through the pipeline and returns the
// prediction synchronously.
func (h *EventsHandler) Ingest(c echo.Context) error {
	req := &models.IngestEventRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	event := &models.MarketEvent{
		Symbol:    req.Symbol,
		Timestamp: util.ParseTimeDefault(req.Timestamp, time.Now()).Unix(),
		Price:     req.Price,
		Volume:    req.Volume,
		ChangePct: req.ChangePct,
		Session:   req.Session,
	}

	res, err := h.pipeline.Process(c.Request().Context(), event)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *EventsHandler) errorResponse(c echo.Context, err error) error {
	switch models.CodeOf(err) {
	case models.CodeInvalidInput:
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	case models.CodeServiceDegraded:
		return xhttp.AppErrorResponse(c,
			xhttp.NewAppError("ERR_SERVICE_DEGRADED", "", err.Error(), http.StatusServiceUnavailable))
	case models.CodeUpstreamUnavailable:
		return xhttp.AppErrorResponse(c,
			xhttp.NewAppError("ERR_UPSTREAM_UNAVAILABLE", "", err.Error(), http.StatusBadGateway))
	default:
		h.logger.Error("ingest pipeline error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
}
