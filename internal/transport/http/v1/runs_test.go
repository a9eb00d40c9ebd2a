package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/xhe623/planrun/internal/bus"
	"github.com/xhe623/planrun/internal/checkpoint"
	"github.com/xhe623/planrun/internal/coordinator"
	"github.com/xhe623/planrun/internal/domain"
	"github.com/xhe623/planrun/internal/generator"
	"github.com/xhe623/planrun/internal/policy"
)

func newTestHandler(t *testing.T) (*Handler, *coordinator.Coordinator, checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h, coord := newTestHandlerWithStore(t, store)
	return h, coord, store
}

func newTestHandlerWithStore(t *testing.T, store checkpoint.Store) (*Handler, *coordinator.Coordinator) {
	t.Helper()
	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	coord := coordinator.New(store, bus.New(64), generator.NewMock(), policyEngine, time.Second)
	return NewHandler(coord, time.Second), coord
}

// waitInactive polls until the run's engine has exited.
func waitInactive(t *testing.T, coord *coordinator.Coordinator, runID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !coord.Active(runID) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s still active", runID)
}

func postJSON(e *echo.Echo, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	assert.NoError(t, h.Health(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestStartRunValidation(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)

	c, rec := postJSON(e, "/v1/runs", `{"goal":"   "}`)
	assert.NoError(t, h.StartRun(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = postJSON(e, "/v1/runs", `not json`)
	assert.NoError(t, h.StartRun(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartRunAccepted(t *testing.T) {
	e := echo.New()
	h, coord, _ := newTestHandler(t)

	c, rec := postJSON(e, "/v1/runs", `{"goal":"Build a landing page"}`)
	assert.NoError(t, h.StartRun(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["run_id"])
	assert.Equal(t, "/v1/runs/"+resp["run_id"]+"/stream", resp["stream_url"])

	waitInactive(t, coord, resp["run_id"])
}

func TestGetRunNotFound(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/run_missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/runs/:run_id")
	c.SetParamNames("run_id")
	c.SetParamValues("run_missing")

	assert.NoError(t, h.GetRun(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunAfterCompletion(t *testing.T) {
	e := echo.New()
	h, coord, _ := newTestHandler(t)

	st, err := coord.Start(context.Background(), "Write a haiku")
	assert.NoError(t, err)
	waitInactive(t, coord, st.RunID)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+st.RunID, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/runs/:run_id")
	c.SetParamNames("run_id")
	c.SetParamValues(st.RunID)

	assert.NoError(t, h.GetRun(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Run       domain.RunState `json:"run"`
		Active    bool            `json:"active"`
		Resumable bool            `json:"resumable"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.PhaseCompleted, resp.Run.Phase)
	assert.False(t, resp.Active)
	assert.False(t, resp.Resumable)
	assert.Len(t, resp.Run.Tasks, 3)
}

func TestListRuns(t *testing.T) {
	e := echo.New()
	h, coord, _ := newTestHandler(t)

	st, err := coord.Start(context.Background(), "Goal one")
	assert.NoError(t, err)
	waitInactive(t, coord, st.RunID)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	assert.NoError(t, h.ListRuns(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []domain.RunSummary `json:"runs"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Runs, 1)
	assert.Equal(t, st.RunID, resp.Runs[0].RunID)
}

func TestPauseRunStatuses(t *testing.T) {
	e := echo.New()
	h, coord, _ := newTestHandler(t)

	// Unknown run
	req := httptest.NewRequest(http.MethodPost, "/v1/runs/run_missing/pause", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues("run_missing")
	assert.NoError(t, h.PauseRun(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Finished run is known but not active
	st, err := coord.Start(context.Background(), "Quick goal")
	assert.NoError(t, err)
	waitInactive(t, coord, st.RunID)

	req = httptest.NewRequest(http.MethodPost, "/v1/runs/"+st.RunID+"/pause", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues(st.RunID)
	assert.NoError(t, h.PauseRun(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
