package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/xhe623/planrun/internal/bus"
	"github.com/xhe623/planrun/internal/checkpoint"
	"github.com/xhe623/planrun/internal/domain"
	"github.com/xhe623/planrun/internal/generator"
	"github.com/xhe623/planrun/internal/policy"
)

// gatedGenerator blocks every task execution until the gate is closed,
// keeping the run active for as long as the test needs.
type gatedGenerator struct {
	*generator.Mock
	gate    chan struct{}
	started chan struct{}
}

func newGatedGenerator() *gatedGenerator {
	return &gatedGenerator{
		Mock:    generator.NewMock(),
		gate:    make(chan struct{}),
		started: make(chan struct{}, 16),
	}
}

func (g *gatedGenerator) ExecuteTask(ctx context.Context, goal string, task domain.Task, userInput string) (string, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	<-g.gate
	return g.Mock.ExecuteTask(ctx, goal, task, userInput)
}

func newTestCoordinator(t *testing.T, gen generator.Generator) (*Coordinator, checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pol, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("policy.NewEngine failed: %v", err)
	}
	return New(store, bus.New(64), gen, pol, time.Second), store
}

// waitInactive polls until the run's engine has exited and returns the
// final snapshot.
func waitInactive(t *testing.T, coord *Coordinator, runID string) *domain.RunState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !coord.Active(runID) {
			st, err := coord.Get(context.Background(), runID)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s still active", runID)
	return nil
}

func waitStarted(t *testing.T, gen *gatedGenerator) {
	t.Helper()
	select {
	case <-gen.started:
	case <-time.After(5 * time.Second):
		t.Fatal("run never reached task execution")
	}
}

func TestStartRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	coord, _ := newTestCoordinator(t, generator.NewMock())

	st, err := coord.Start(ctx, "Build a landing page")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if st.RunID == "" || st.Phase != domain.PhaseAnalyzing {
		t.Fatalf("unexpected initial state: %+v", st)
	}

	final := waitInactive(t, coord, st.RunID)
	if final.Phase != domain.PhaseCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.Phase, final.LastError)
	}

	runs, err := coord.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != st.RunID {
		t.Fatalf("unexpected listing: %+v", runs)
	}
	if runs[0].CompletedCount != runs[0].TaskCount || runs[0].TaskCount == 0 {
		t.Fatalf("unexpected summary counts: %+v", runs[0])
	}
}

func TestGetAndPauseUnknownRun(t *testing.T) {
	ctx := context.Background()
	coord, _ := newTestCoordinator(t, generator.NewMock())

	if _, err := coord.Get(ctx, "run_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := coord.Pause(ctx, "run_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := coord.Resume(ctx, "run_missing", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResumeConflictsWithActiveRun(t *testing.T) {
	ctx := context.Background()
	gen := newGatedGenerator()
	coord, _ := newTestCoordinator(t, gen)

	st, err := coord.Start(ctx, "Long running goal")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStarted(t, gen)

	if !coord.Active(st.RunID) {
		t.Fatal("run should be active")
	}
	if _, err := coord.Resume(ctx, st.RunID, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	close(gen.gate)
	final := waitInactive(t, coord, st.RunID)
	if final.Phase != domain.PhaseCompleted {
		t.Fatalf("expected completed, got %s", final.Phase)
	}

	// A finished run has nothing to resume.
	if _, err := coord.Resume(ctx, st.RunID, ""); !errors.Is(err, ErrNotResumable) {
		t.Fatalf("expected ErrNotResumable, got %v", err)
	}
}

func TestPauseThenResumeCompletes(t *testing.T) {
	ctx := context.Background()
	gen := newGatedGenerator()
	coord, _ := newTestCoordinator(t, gen)

	st, err := coord.Start(ctx, "Pause me")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStarted(t, gen)

	if err := coord.Pause(ctx, st.RunID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	close(gen.gate) // let the in-flight execution finish

	paused := waitInactive(t, coord, st.RunID)
	if !paused.Paused || paused.Phase.Terminal() {
		t.Fatalf("expected paused snapshot, got %+v", paused)
	}
	if err := coord.Pause(ctx, st.RunID); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive for paused run, got %v", err)
	}

	resumed, err := coord.Resume(ctx, st.RunID, "")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.Paused {
		t.Fatal("resume must clear the paused flag")
	}

	final := waitInactive(t, coord, st.RunID)
	if final.Phase != domain.PhaseCompleted {
		t.Fatalf("expected completed after resume, got %s", final.Phase)
	}
}

func TestResumeNormalizesInterruptedLedger(t *testing.T) {
	ctx := context.Background()
	gen := newGatedGenerator()
	coord, store := newTestCoordinator(t, gen)

	// Simulate a crash: an in_progress task in the checkpoint with no
	// engine attached.
	now := time.Now().UTC()
	st := domain.NewRunState("Interrupted goal")
	st.Phase = domain.PhaseExecuting
	st.Tasks = []domain.Task{
		{ID: "task_a", Title: "Done", Status: domain.TaskStatusCompleted, Result: "ok", StartedAt: &now, CompletedAt: &now},
		{ID: "task_b", Title: "Cut off", Status: domain.TaskStatusInProgress, StartedAt: &now},
		{ID: "task_c", Title: "Waiting", Status: domain.TaskStatusPending},
	}
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	resumed, err := coord.Resume(ctx, st.RunID, "")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.Phase != domain.PhaseSelecting {
		t.Fatalf("expected re-entry at selecting, got %s", resumed.Phase)
	}
	if resumed.Tasks[1].Status != domain.TaskStatusPending {
		t.Fatalf("interrupted task not reverted: %+v", resumed.Tasks[1])
	}
	if resumed.Tasks[0].Status != domain.TaskStatusCompleted {
		t.Fatalf("completed task must survive resume: %+v", resumed.Tasks[0])
	}

	close(gen.gate)
	final := waitInactive(t, coord, st.RunID)
	if final.Phase != domain.PhaseCompleted {
		t.Fatalf("expected completed, got %s", final.Phase)
	}
	for _, task := range final.Tasks {
		if task.Status != domain.TaskStatusCompleted {
			t.Fatalf("task %q not completed: %s", task.Title, task.Status)
		}
	}
}

func TestResumeFreshRunReentersAnalyzing(t *testing.T) {
	ctx := context.Background()
	coord, store := newTestCoordinator(t, generator.NewMock())

	st := domain.NewRunState("Never planned")
	st.Paused = true
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	resumed, err := coord.Resume(ctx, st.RunID, "")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.Phase != domain.PhaseAnalyzing {
		t.Fatalf("expected analyzing, got %s", resumed.Phase)
	}

	final := waitInactive(t, coord, st.RunID)
	if final.Phase != domain.PhaseCompleted {
		t.Fatalf("expected completed, got %s", final.Phase)
	}
}

func TestGetDuringActiveRunServesCheckpoints(t *testing.T) {
	ctx := context.Background()
	gen := newGatedGenerator()
	coord, _ := newTestCoordinator(t, gen)

	st, err := coord.Start(ctx, "Inspect while running")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStarted(t, gen)

	// Reads of an active run come from the checkpoint store, never from
	// engine-owned memory, so they are safe against concurrent
	// transitions and each snapshot is independent.
	stop := make(chan struct{})
	var readerErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			got, err := coord.Get(ctx, st.RunID)
			if err != nil {
				readerErr = err
				return
			}
			if got.RunID != st.RunID || got.Goal != st.Goal {
				readerErr = fmt.Errorf("inconsistent snapshot: %+v", got)
				return
			}
			// Mutating the snapshot must not leak into the run.
			got.Tasks = append(got.Tasks, domain.Task{ID: "task_injected"})
		}
	}()

	close(gen.gate)
	final := waitInactive(t, coord, st.RunID)
	close(stop)
	wg.Wait()

	if readerErr != nil {
		t.Fatalf("concurrent Get failed: %v", readerErr)
	}
	if final.Phase != domain.PhaseCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.Phase, final.LastError)
	}
	for _, task := range final.Tasks {
		if task.ID == "task_injected" {
			t.Fatal("snapshot mutation leaked into the run")
		}
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	goal := strings.Repeat("計", 40)
	got := truncate(goal, 80)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if short := truncate("short goal", 80); short != "short goal" {
		t.Fatalf("short input must pass through, got %q", short)
	}
}

func TestShutdownLeavesResumableCheckpoint(t *testing.T) {
	ctx := context.Background()
	gen := newGatedGenerator()
	coord, _ := newTestCoordinator(t, gen)

	st, err := coord.Start(ctx, "Survive restarts")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStarted(t, gen)

	// Shutdown requests the pause; the in-flight execution must be
	// released for the engine to reach the boundary.
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(gen.gate)
	}()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	final, err := coord.Get(ctx, st.RunID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !final.Paused || final.Phase.Terminal() {
		t.Fatalf("expected paused snapshot after shutdown, got %+v", final)
	}
	if !final.Resumable() {
		t.Fatal("interrupted run must be resumable")
	}
}
