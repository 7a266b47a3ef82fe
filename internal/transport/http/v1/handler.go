// Package v1 provides the REST handlers of the control plane.
package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
	"github.com/xiaot623/gogo/controlplane/internal/service"
)

// ConnectionCounter reports the number of open push connections.
type ConnectionCounter interface {
	ConnectionCount() int
}

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	conns   ConnectionCounter
}

// NewHandler creates a new handler. conns may be nil.
func NewHandler(service *service.Service, conns ConnectionCounter) *Handler {
	return &Handler{
		service: service,
		conns:   conns,
	}
}

// RegisterRoutes registers the REST routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Queries
	e.GET("/v1/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)

	// Agent mutations
	e.POST("/v1/runs", h.RegisterRun)
	e.POST("/v1/events", h.ReportEvents)
	e.POST("/v1/runs/:run_id/complete", h.CompleteRun)
	e.POST("/v1/runs/:run_id/cancel", h.CancelRun)

	// Operator commands
	e.POST("/v1/runs/:run_id/stop", h.StopRun)
	e.POST("/v1/runs/:run_id/pause", h.PauseRun)
	e.POST("/v1/runs/:run_id/resume", h.ResumeRun)

	e.GET("/health", h.Health)
}

// Health returns health status.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	health := h.service.Health(c.Request().Context())
	resp := map[string]interface{}{
		"health":      health.Health,
		"cacheLoaded": health.CacheLoaded,
		"cachedRuns":  health.CachedRuns,
		"bus":         health.Bus,
	}
	if h.conns != nil {
		resp["connections"] = h.conns.ConnectionCount()
	}
	return c.JSON(http.StatusOK, resp)
}

// HTTPStatus maps a service error onto a response status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCommandDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func errorJSON(c echo.Context, err error) error {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	}
	return c.JSON(status, map[string]string{
		"error": err.Error(),
		"code":  domain.ErrorCode(err),
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error": msg,
		"code":  domain.ErrorCode(domain.ErrInvalidArgument),
	})
}
