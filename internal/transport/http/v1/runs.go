package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/controlplane/internal/domain"
)

// ListRuns lists recent runs, or the runs named by ids.
// GET /v1/runs?limit=20&offset=0
// GET /v1/runs?ids=a,b,c
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	if raw := c.QueryParam("ids"); raw != "" {
		var ids []string
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		runs, err := h.service.RunsByID(ctx, ids)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
	}

	limit, err := intParam(c, "limit", 0)
	if err != nil {
		return badRequest(c, "limit must be a non-negative integer")
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		return badRequest(c, "offset must be a non-negative integer")
	}

	runs, err := h.service.Runs(ctx, limit, offset)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetRun returns one run, or null when it does not exist.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.Run(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"run": run})
}

// GetRunEvents returns the in-memory event log of a run.
// GET /v1/runs/:run_id/events
func (h *Handler) GetRunEvents(c echo.Context) error {
	events, err := h.service.RunEvents(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runEvents": events})
}

// RegisterRun registers a new run.
// POST /v1/runs
func (h *Handler) RegisterRun(c echo.Context) error {
	var req domain.RegisterRunRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.RunID == "" {
		return badRequest(c, "runId is required")
	}

	run, err := h.service.RegisterRun(c.Request().Context(), req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"registerRun": run})
}

// ReportEvents ingests a batch of events.
// POST /v1/events
func (h *Handler) ReportEvents(c echo.Context) error {
	var req domain.ReportEventsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	n, err := h.service.AddEvents(c.Request().Context(), req.Events)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"reportEvents": n})
}

// CompleteRun marks a run as finished.
// POST /v1/runs/:run_id/complete
func (h *Handler) CompleteRun(c echo.Context) error {
	var req domain.CompleteRunRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.RunID = c.Param("run_id")

	ok, err := h.service.CompleteRun(c.Request().Context(), req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"completeRun": ok})
}

// CancelRun cancels a run.
// POST /v1/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	ok, err := h.service.CancelRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"cancelRun": ok})
}

// StopRun asks the run's agent to stop.
// POST /v1/runs/:run_id/stop
func (h *Handler) StopRun(c echo.Context) error {
	ok, err := h.service.StopRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"stopRun": ok})
}

// PauseRun pauses a running run.
// POST /v1/runs/:run_id/pause
func (h *Handler) PauseRun(c echo.Context) error {
	ok, err := h.service.PauseRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"pauseRun": ok})
}

// ResumeRun resumes a paused run.
// POST /v1/runs/:run_id/resume
func (h *Handler) ResumeRun(c echo.Context) error {
	ok, err := h.service.ResumeRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"resumeRun": ok})
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
