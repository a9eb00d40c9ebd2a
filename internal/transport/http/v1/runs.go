package v1

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xhe623/planrun/internal/coordinator"
)

// StartRunRequest is the request to start a new run.
type StartRunRequest struct {
	Goal string `json:"goal"`
}

// StartRun creates a run for a goal and starts its engine. The run
// executes in the background; the response carries the stream URL to
// attach to.
// POST /v1/runs
func (h *Handler) StartRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	req.Goal = strings.TrimSpace(req.Goal)
	if req.Goal == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "goal is required"})
	}

	st, err := h.coord.Start(ctx, req.Goal)
	if err != nil {
		log.Printf("ERROR: failed to start run: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"run_id":     st.RunID,
		"phase":      st.Phase,
		"stream_url": fmt.Sprintf("/v1/runs/%s/stream", st.RunID),
	})
}

// ListRuns lists all known runs, newest first.
// GET /v1/runs
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	runs, err := h.coord.List(ctx)
	if err != nil {
		log.Printf("ERROR: failed to list runs: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

// GetRun returns a run's full state from its most recent checkpoint.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	st, err := h.coord.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		}
		log.Printf("ERROR: failed to get run %s: %v", runID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"run":       st,
		"progress":  st.Progress(),
		"active":    h.coord.Active(runID),
		"resumable": st.Resumable(),
	})
}

// PauseRun requests a pause of an active run. The pause is cooperative:
// it takes effect at the next transition boundary, so the response is an
// acknowledgement, not a completion.
// POST /v1/runs/:run_id/pause
func (h *Handler) PauseRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	err := h.coord.Pause(ctx, runID)
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, map[string]interface{}{"ok": true})
	case errors.Is(err, coordinator.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	case errors.Is(err, coordinator.ErrNotActive):
		return c.JSON(http.StatusConflict, map[string]string{"error": "run is not active"})
	default:
		log.Printf("ERROR: failed to pause run %s: %v", runID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
