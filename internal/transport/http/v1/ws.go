package v1

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xhe623/planrun/internal/coordinator"
	"github.com/xhe623/planrun/internal/domain"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for MVP
		return true
	},
}

// StreamRunWS serves the same live event feed as StreamRun over a
// WebSocket. Events are sent as one JSON object per text message; the
// read side only consumes control frames.
// GET /v1/runs/:run_id/ws
func (h *Handler) StreamRunWS(c echo.Context) error {
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
			log.Printf("ERROR: ws attach failed for run %s: %v", runID, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}
	defer h.coord.Unsubscribe(sub)

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ERROR: failed to upgrade WebSocket for run %s: %v", runID, err)
		return err
	}
	defer ws.Close()
	ws.SetReadLimit(wsReadLimit)

	// Reader goroutine: the feed is one-way, so reads only service
	// control frames and detect the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("WARN: WebSocket read error for run %s: %v", runID, err)
				}
				return
			}
		}
	}()

	writeEvent := func(ev domain.StreamEvent) error {
		ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return ws.WriteJSON(ev)
	}
	closeNormal := func() {
		ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}

	connected := domain.NewStreamEvent(runID, domain.EventTypeConnected, domain.ConnectedPayload{RunID: runID, Resuming: resuming})
	if err := writeEvent(connected); err != nil {
		return nil
	}

	if !h.coord.Active(runID) && st.Phase.Terminal() {
		if final, ok := terminalEvent(st); ok {
			_ = writeEvent(final)
		}
		closeNormal()
		return nil
	}

	ticker := newKeepAliveTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				closeNormal()
				return nil
			}
			if err := writeEvent(ev); err != nil {
				log.Printf("ERROR: failed to write WebSocket event for run %s: %v", runID, err)
				return nil
			}
			if ev.Type == domain.EventTypeComplete || ev.Type == domain.EventTypeError {
				closeNormal()
				return nil
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}
