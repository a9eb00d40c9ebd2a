// Package engine drives one run through its state machine: analyzing →
// planning → selecting → executing → reflecting → (selecting…) →
// completing → completed, with error reachable from any state and pause
// honored at transition boundaries.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/xhe623/planrun/internal/bus"
	"github.com/xhe623/planrun/internal/checkpoint"
	"github.com/xhe623/planrun/internal/domain"
	"github.com/xhe623/planrun/internal/generator"
	"github.com/xhe623/planrun/internal/policy"
)

// Deps are the engine's collaborators.
type Deps struct {
	Generator  generator.Generator
	Store      checkpoint.Store
	Bus        *bus.Bus
	Policy     *policy.Engine
	GenTimeout time.Duration // per generator call; 0 disables the timeout
	UserInput  string        // resume context for the next execute call
}

// Engine owns one run's state for the lifetime of the attempt. No other
// component mutates the state; external reads go through checkpoint
// snapshots or bus events.
type Engine struct {
	st   *domain.RunState
	deps Deps

	curTaskID string
	userInput string
	paused    atomic.Bool

	// Events queued during the current transition, flushed to the bus
	// only after the checkpoint write succeeds.
	pending []domain.StreamEvent
}

// New creates an engine positioned at the state's stored phase.
func New(state *domain.RunState, deps Deps) *Engine {
	return &Engine{
		st:        state,
		deps:      deps,
		userInput: deps.UserInput,
	}
}

// RequestPause asks the engine to stop after its in-flight transition.
func (e *Engine) RequestPause() {
	e.paused.Store(true)
}

// State returns a snapshot copy of the run state. The engine owns its
// state exclusively while Run executes; callers may use State only
// before Run starts or after it returns. Concurrent observers read the
// checkpoint store instead.
func (e *Engine) State() *domain.RunState {
	return e.st.Clone()
}

// Run executes transitions until the run reaches a terminal phase or a
// pause takes effect. Transitions of one run are strictly sequential.
func (e *Engine) Run(ctx context.Context) {
	log.Printf("INFO: run %s entering phase %s", e.st.RunID, e.st.Phase)

	for {
		if e.st.Phase.Terminal() {
			e.finish()
			return
		}
		if e.paused.Load() || ctx.Err() != nil {
			e.persistPause(ctx)
			return
		}

		var next domain.Phase
		var err error
		switch e.st.Phase {
		case domain.PhaseAnalyzing:
			next, err = e.stepAnalyze(ctx)
		case domain.PhasePlanning:
			next, err = e.stepPlan(ctx)
		case domain.PhaseSelecting:
			next, err = e.stepSelect(ctx)
		case domain.PhaseExecuting:
			next, err = e.stepExecute(ctx)
		case domain.PhaseReflecting:
			next, err = e.stepReflect(ctx)
		case domain.PhaseCompleting:
			next, err = e.stepComplete(ctx)
		default:
			err = fmt.Errorf("run is in unknown phase %q", e.st.Phase)
		}

		if err != nil {
			e.fail(ctx, err)
			continue
		}
		if !e.commit(ctx, next) {
			return
		}
	}
}

// commit advances the phase, checkpoints the full state, and only then
// releases the transition's events to the bus. A failed checkpoint write
// breaks the resume guarantee, so it ends the run.
func (e *Engine) commit(ctx context.Context, next domain.Phase) bool {
	e.st.Phase = next
	e.st.UpdatedAt = time.Now().UTC()

	if err := e.deps.Store.Save(ctx, e.st); err != nil {
		log.Printf("ERROR: run %s: checkpoint write failed: %v", e.st.RunID, err)
		e.st.Phase = domain.PhaseError
		e.st.LastError = "checkpoint write failed: " + err.Error()
		e.flush()
		e.publish(domain.EventTypeError, domain.ErrorPayload{Reason: e.st.LastError})
		return false
	}

	e.flush()
	return true
}

// fail moves the run to the error phase. Task-local execution failures
// never come through here; this is for run-fatal errors only.
func (e *Engine) fail(ctx context.Context, stepErr error) {
	log.Printf("ERROR: run %s failed in phase %s: %v", e.st.RunID, e.st.Phase, stepErr)

	e.trace(string(e.st.Phase), "error", "", stepErr.Error())
	e.st.LastError = stepErr.Error()
	e.phaseEvent(domain.PhaseError)
	e.st.Phase = domain.PhaseError
	e.st.UpdatedAt = time.Now().UTC()

	if err := e.deps.Store.Save(ctx, e.st); err != nil {
		log.Printf("ERROR: run %s: checkpoint write failed after error: %v", e.st.RunID, err)
	}
	e.flush()
}

// finish publishes the terminal event for the stored phase.
func (e *Engine) finish() {
	switch e.st.Phase {
	case domain.PhaseCompleted:
		e.publish(domain.EventTypeComplete, nil)
	case domain.PhaseError:
		e.publish(domain.EventTypeError, domain.ErrorPayload{Reason: e.st.LastError})
	}
	log.Printf("INFO: run %s finished in phase %s", e.st.RunID, e.st.Phase)
}

// persistPause checkpoints the paused run. The stored phase is the one
// the run will re-enter; paused only shows up as a flag and on the
// event stream.
func (e *Engine) persistPause(ctx context.Context) {
	e.st.Paused = true
	e.trace(string(e.st.Phase), "paused", "", "Execution paused; resume to continue")
	e.st.UpdatedAt = time.Now().UTC()

	if err := e.deps.Store.Save(ctx, e.st); err != nil {
		log.Printf("ERROR: run %s: checkpoint write failed on pause: %v", e.st.RunID, err)
	}
	e.flush()
	e.publish(domain.EventTypePhaseChange, domain.PhaseChangePayload{Phase: domain.PhasePaused})
	log.Printf("INFO: run %s paused at phase %s", e.st.RunID, e.st.Phase)
}

func (e *Engine) genCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.deps.GenTimeout > 0 {
		return context.WithTimeout(ctx, e.deps.GenTimeout)
	}
	return context.WithCancel(ctx)
}

// event queueing

func (e *Engine) trace(state, action, taskID, msg string) {
	entry := domain.TraceEntry{
		Ts:      time.Now().UTC(),
		State:   state,
		Action:  action,
		TaskID:  taskID,
		Message: msg,
	}
	e.st.Traces = append(e.st.Traces, entry)
	e.pending = append(e.pending, domain.NewStreamEvent(e.st.RunID, domain.EventTypeTrace, domain.TracePayload{Trace: entry}))
}

func (e *Engine) messageEvent(role, content string) {
	e.pending = append(e.pending, domain.NewStreamEvent(e.st.RunID, domain.EventTypeMessage, domain.MessagePayload{Role: role, Content: content}))
}

func (e *Engine) phaseEvent(p domain.Phase) {
	e.pending = append(e.pending, domain.NewStreamEvent(e.st.RunID, domain.EventTypePhaseChange, domain.PhaseChangePayload{Phase: p}))
}

func (e *Engine) tasksEvent() {
	e.pending = append(e.pending, domain.NewStreamEvent(e.st.RunID, domain.EventTypeTasksUpdate, domain.TasksUpdatePayload{Tasks: e.st.Tasks}))
}

func (e *Engine) flush() {
	for _, ev := range e.pending {
		e.deps.Bus.Publish(e.st.RunID, ev)
	}
	e.pending = e.pending[:0]
}

func (e *Engine) publish(eventType domain.EventType, payload interface{}) {
	e.deps.Bus.Publish(e.st.RunID, domain.NewStreamEvent(e.st.RunID, eventType, payload))
}
