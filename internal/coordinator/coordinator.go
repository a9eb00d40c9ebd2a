// Package coordinator owns run lifecycles: it enforces the one-active-
// engine-per-run invariant, launches engines, and routes pause and
// resume requests to them.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/xhe623/planrun/internal/bus"
	"github.com/xhe623/planrun/internal/checkpoint"
	"github.com/xhe623/planrun/internal/domain"
	"github.com/xhe623/planrun/internal/engine"
	"github.com/xhe623/planrun/internal/generator"
	"github.com/xhe623/planrun/internal/ledger"
	"github.com/xhe623/planrun/internal/policy"
)

var (
	// ErrNotFound means no checkpoint exists for the run id.
	ErrNotFound = errors.New("run not found")
	// ErrConflict means an engine is already active for the run.
	ErrConflict = errors.New("run is already active")
	// ErrNotActive means the operation needs a running engine.
	ErrNotActive = errors.New("run is not active")
	// ErrNotResumable means the run has no actionable work left.
	ErrNotResumable = errors.New("run is not resumable")
)

// Coordinator supervises all active engines in the process.
type Coordinator struct {
	store      checkpoint.Store
	bus        *bus.Bus
	gen        generator.Generator
	policy     *policy.Engine
	genTimeout time.Duration

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

type activeRun struct {
	eng  *engine.Engine
	done chan struct{}
}

// New creates a coordinator with no active runs.
func New(store checkpoint.Store, b *bus.Bus, gen generator.Generator, pol *policy.Engine, genTimeout time.Duration) *Coordinator {
	return &Coordinator{
		store:      store,
		bus:        b,
		gen:        gen,
		policy:     pol,
		genTimeout: genTimeout,
		active:     make(map[string]*activeRun),
	}
}

// Start creates a new run for the goal, checkpoints its initial state,
// and launches its engine. The returned snapshot reflects the state
// before the first transition.
func (c *Coordinator) Start(ctx context.Context, goal string) (*domain.RunState, error) {
	st := domain.NewRunState(goal)
	if err := c.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("persist new run: %w", err)
	}

	c.mu.Lock()
	c.launch(st, "")
	c.mu.Unlock()

	log.Printf("INFO: run %s started for goal %q", st.RunID, truncate(goal, 80))
	return st.Clone(), nil
}

// Resume reloads an interrupted run from its checkpoint, normalizes the
// ledger, and launches a fresh engine at the re-entry phase. userInput,
// if non-empty, is handed to the next task execution as extra context.
func (c *Coordinator) Resume(ctx context.Context, runID, userInput string) (*domain.RunState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[runID]; ok {
		return nil, ErrConflict
	}

	st, err := c.store.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if st == nil {
		return nil, ErrNotFound
	}
	if !st.Resumable() {
		return nil, ErrNotResumable
	}

	st.Tasks = ledger.Normalize(st.Tasks)
	st.Paused = false
	st.LastError = ""
	if len(st.Tasks) == 0 {
		st.Phase = domain.PhaseAnalyzing
	} else {
		st.Phase = domain.PhaseSelecting
	}

	if err := c.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("persist resumed run: %w", err)
	}

	c.launch(st, userInput)
	log.Printf("INFO: run %s resumed at phase %s", st.RunID, st.Phase)
	return st.Clone(), nil
}

// launch starts the engine goroutine. Caller holds c.mu. The engine
// gets its own copy of the state; nothing else touches it afterwards.
func (c *Coordinator) launch(st *domain.RunState, userInput string) {
	eng := engine.New(st.Clone(), engine.Deps{
		Generator:  c.gen,
		Store:      c.store,
		Bus:        c.bus,
		Policy:     c.policy,
		GenTimeout: c.genTimeout,
		UserInput:  userInput,
	})
	ar := &activeRun{eng: eng, done: make(chan struct{})}
	c.active[st.RunID] = ar

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(ar.done)
		eng.Run(context.Background())
		c.release(st.RunID)
	}()
}

func (c *Coordinator) release(runID string) {
	c.mu.Lock()
	delete(c.active, runID)
	c.mu.Unlock()
	c.bus.CloseRun(runID)
}

// Pause asks the active engine to stop at its next transition boundary.
// It returns immediately; the pause checkpoint follows asynchronously.
func (c *Coordinator) Pause(ctx context.Context, runID string) error {
	c.mu.Lock()
	ar, ok := c.active[runID]
	c.mu.Unlock()
	if ok {
		ar.eng.RequestPause()
		return nil
	}

	st, err := c.store.Load(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if st == nil {
		return ErrNotFound
	}
	return ErrNotActive
}

// Get returns the run's most recent checkpoint. Engine-owned state is
// never read across goroutines; the engine checkpoints every transition,
// so an active run's snapshot is at most one transition behind.
func (c *Coordinator) Get(ctx context.Context, runID string) (*domain.RunState, error) {
	st, err := c.store.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if st == nil {
		return nil, ErrNotFound
	}
	return st, nil
}

// List returns summaries of every known run, newest first.
func (c *Coordinator) List(ctx context.Context) ([]domain.RunSummary, error) {
	return c.store.List(ctx)
}

// Subscribe attaches a consumer to a run's event stream.
func (c *Coordinator) Subscribe(runID string) *bus.Subscriber {
	return c.bus.Subscribe(runID)
}

// Unsubscribe detaches a consumer.
func (c *Coordinator) Unsubscribe(sub *bus.Subscriber) {
	c.bus.Unsubscribe(sub)
}

// Active reports whether an engine is currently running for the run.
func (c *Coordinator) Active(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[runID]
	return ok
}

// Wait blocks until the run's active engine exits. It returns false if
// the run is not active.
func (c *Coordinator) Wait(runID string) bool {
	c.mu.Lock()
	ar, ok := c.active[runID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	<-ar.done
	return true
}

// Shutdown pauses every active run and waits for their checkpoints,
// bounded by the context deadline. Every interrupted run is resumable.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	n := len(c.active)
	for _, ar := range c.active {
		ar.eng.RequestPause()
	}
	c.mu.Unlock()

	if n > 0 {
		log.Printf("INFO: shutdown: pausing %d active run(s)", n)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
