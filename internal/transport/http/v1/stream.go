package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xhe623/planrun/internal/bus"
	"github.com/xhe623/planrun/internal/coordinator"
	"github.com/xhe623/planrun/internal/domain"
)

// attach subscribes to a run's event feed and, when the run is inactive
// with actionable work, triggers its resume. The subscription is taken
// before the resume so the new engine's first events are not missed.
// Reports whether this attach triggered a resume.
func (h *Handler) attach(ctx context.Context, runID, userInput string) (*bus.Subscriber, *domain.RunState, bool, error) {
	st, err := h.coord.Get(ctx, runID)
	if err != nil {
		return nil, nil, false, err
	}

	sub := h.coord.Subscribe(runID)

	resuming := false
	if !h.coord.Active(runID) && !st.Phase.Terminal() {
		resumed, rerr := h.coord.Resume(ctx, runID, userInput)
		switch {
		case rerr == nil:
			st = resumed
			resuming = true
		case errors.Is(rerr, coordinator.ErrConflict):
			// Another attach resumed it first; we are subscribed already.
		case errors.Is(rerr, coordinator.ErrNotResumable):
			// The run may have finished between the snapshot read and the
			// resume attempt. Re-read before rejecting so an attach that
			// lost that race still replays the outcome.
			fresh, ferr := h.coord.Get(ctx, runID)
			if ferr != nil || !fresh.Phase.Terminal() {
				h.coord.Unsubscribe(sub)
				return nil, nil, false, coordinator.ErrNotResumable
			}
			st = fresh
		default:
			h.coord.Unsubscribe(sub)
			return nil, nil, false, rerr
		}
	}

	return sub, st, resuming, nil
}

// terminalEvent rebuilds the final event for a run that already ended,
// so a late attach still observes the outcome.
func terminalEvent(st *domain.RunState) (domain.StreamEvent, bool) {
	switch st.Phase {
	case domain.PhaseCompleted:
		return domain.NewStreamEvent(st.RunID, domain.EventTypeComplete, nil), true
	case domain.PhaseError:
		return domain.NewStreamEvent(st.RunID, domain.EventTypeError, domain.ErrorPayload{Reason: st.LastError}), true
	}
	return domain.StreamEvent{}, false
}

// StreamRun streams a run's events via SSE until the run reaches a
// terminal phase or the client disconnects. Attaching to an interrupted
// run resumes it; the optional user_input query parameter is handed to
// the next task execution.
// GET /v1/runs/:run_id/stream
func (h *Handler) StreamRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	sub, st, resuming, err := h.attach(ctx, runID, c.QueryParam("user_input"))
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		case errors.Is(err, coordinator.ErrNotResumable):
			return c.JSON(http.StatusConflict, map[string]string{"error": "run is not resumable"})
		default:
			log.Printf("ERROR: stream attach failed for run %s: %v", runID, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}
	defer h.coord.Unsubscribe(sub)

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	connected := domain.NewStreamEvent(runID, domain.EventTypeConnected, domain.ConnectedPayload{RunID: runID, Resuming: resuming})
	if err := h.sendSSEEvent(c, connected); err != nil {
		return nil
	}

	// A run that already ended gets its outcome replayed and the stream
	// closed; there is nothing live to follow.
	if !h.coord.Active(runID) && st.Phase.Terminal() {
		if final, ok := terminalEvent(st); ok {
			_ = h.sendSSEEvent(c, final)
		}
		return nil
	}

	ticker := newKeepAliveTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client disconnected; the engine keeps running.
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := h.sendSSEEvent(c, ev); err != nil {
				log.Printf("ERROR: failed to send SSE event for run %s: %v", runID, err)
				return nil
			}
			if ev.Type == domain.EventTypeComplete || ev.Type == domain.EventTypeError {
				return nil
			}

		case <-ticker.C:
			ping := domain.NewStreamEvent(runID, domain.EventTypePing, nil)
			if err := h.sendSSEEvent(c, ping); err != nil {
				return nil
			}
		}
	}
}

func newKeepAliveTicker(d time.Duration) *time.Ticker {
	if d <= 0 {
		d = 30 * time.Second
	}
	return time.NewTicker(d)
}

// sendSSEEvent sends a single event in SSE format.
func (h *Handler) sendSSEEvent(c echo.Context, event domain.StreamEvent) error {
	// Format: event: <event_type>\ndata: <json>\n\n
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(c.Response().Writer, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
		return err
	}

	// Flush immediately
	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	return nil
}
