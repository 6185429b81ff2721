package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/biowallet/backend/internal/core"
	"github.com/biowallet/backend/internal/events"
)

// State is the explicit episode lifecycle. The step log shown to the
// user is derived from state transitions rather than being the state
// itself.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateCallingAgent
	StateAwaitingFunctionResult
	StateAwaitingUserConfirmation
	StateExecuting
	StateDone
	StateFailed
)

// String returns the wire representation of a state, as served by the
// episode endpoint and carried in episode events.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateScanning:
		return "Scanning"
	case StateCallingAgent:
		return "CallingAgent"
	case StateAwaitingFunctionResult:
		return "AwaitingFunctionResult"
	case StateAwaitingUserConfirmation:
		return "AwaitingUserConfirmation"
	case StateExecuting:
		return "Executing"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsTerminal returns true if the state ends the episode.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// validTransitions is the allowed state graph for one episode.
var validTransitions = map[State][]State{
	StateIdle:                     {StateScanning},
	StateScanning:                 {StateCallingAgent, StateFailed},
	StateCallingAgent:             {StateAwaitingFunctionResult, StateFailed},
	StateAwaitingFunctionResult:   {StateExecuting, StateAwaitingUserConfirmation, StateDone, StateFailed},
	StateAwaitingUserConfirmation: {StateExecuting, StateDone, StateFailed},
	StateExecuting:                {StateDone, StateFailed},
}

// Transition records one state change for inspection and debugging.
type Transition struct {
	From      State
	To        State
	Timestamp time.Time
}

// TransferIntent is the transfer-widget mount: the dispatcher prepares
// it, the wallet layer executes it.
type TransferIntent struct {
	Recipient        string `json:"recipient"`
	InitialUsdAmount string `json:"initialUsdAmount"`
}

// Episode is one full cycle from trigger detection to completion. It
// owns the in-flight step log, the matched profile, and the per-episode
// bridge confirmation channel (an explicit slot, never process-global).
type Episode struct {
	ID         string
	Transcript string
	StartedAt  time.Time

	mu       sync.Mutex
	state    State
	steps    []core.AgentStep
	history  []Transition
	profile  *core.Profile
	face     *core.DetectedFace
	transfer *TransferIntent
	failure  string

	confirm chan bool

	ctx     context.Context
	cancel  context.CancelFunc
	emitter events.Emitter
}

// NewEpisode creates an episode in StateIdle.
func NewEpisode(parent context.Context, transcript string, emitter events.Emitter) *Episode {
	ctx, cancel := context.WithCancel(parent)
	ep := &Episode{
		ID:         uuid.NewString(),
		Transcript: transcript,
		StartedAt:  time.Now(),
		state:      StateIdle,
		confirm:    make(chan bool, 1),
		ctx:        ctx,
		cancel:     cancel,
		emitter:    emitter,
	}
	if emitter != nil {
		emitter.Emit(events.TypeEpisodeStarted, "dispatcher", ep.ID, map[string]interface{}{
			"transcript": transcript,
		})
	}
	return ep
}

// Context is cancelled when the episode closes; background work such as
// bridge status polling hangs off it.
func (e *Episode) Context() context.Context { return e.ctx }

// State returns the current state.
func (e *Episode) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Transition moves the episode to a new state, validating against the
// transition table.
func (e *Episode) Transition(to State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	allowed := false
	for _, s := range validTransitions[e.state] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("invalid episode transition: %s -> %s", e.state, to)
	}

	e.history = append(e.history, Transition{From: e.state, To: to, Timestamp: time.Now()})
	e.state = to

	if e.emitter != nil {
		e.emitter.Emit(events.TypeEpisodeState, "dispatcher", e.ID, map[string]interface{}{
			"state": to.String(),
		})
	}
	return nil
}

// Fail transitions to StateFailed with a reason, from any live state.
func (e *Episode) Fail(reason string) {
	e.mu.Lock()
	if !e.state.IsTerminal() {
		e.history = append(e.history, Transition{From: e.state, To: StateFailed, Timestamp: time.Now()})
		e.state = StateFailed
		e.failure = reason
	}
	e.mu.Unlock()

	if e.emitter != nil {
		e.emitter.Emit(events.TypeEpisodeState, "dispatcher", e.ID, map[string]interface{}{
			"state":  StateFailed.String(),
			"reason": reason,
		})
	}
}

// FailureReason returns why the episode failed, if it did.
func (e *Episode) FailureReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure
}

// PushStep applies the append-or-replace-last rule: a still-loading last
// step is replaced by the update, a settled one gets the update appended
// after it.
func (e *Episode) PushStep(step core.AgentStep) {
	e.mu.Lock()
	if n := len(e.steps); n > 0 && e.steps[n-1].IsLoading {
		e.steps[n-1] = step
	} else {
		e.steps = append(e.steps, step)
	}
	e.mu.Unlock()

	e.emitStep(step)
}

// AppendStep always appends, regardless of the last step's loading flag.
// Used when a settled step should stay visible above the new one.
func (e *Episode) AppendStep(step core.AgentStep) {
	e.mu.Lock()
	e.steps = append(e.steps, step)
	e.mu.Unlock()

	e.emitStep(step)
}

// ResetSteps replaces the whole log, for terminal error banners that
// supersede everything shown so far.
func (e *Episode) ResetSteps(steps ...core.AgentStep) {
	e.mu.Lock()
	e.steps = steps
	e.mu.Unlock()

	for _, s := range steps {
		e.emitStep(s)
	}
}

func (e *Episode) emitStep(step core.AgentStep) {
	if e.emitter != nil {
		e.emitter.Emit(events.TypeEpisodeStep, "dispatcher", e.ID, map[string]interface{}{
			"label":     step.Label,
			"isLoading": step.IsLoading,
			"type":      string(step.Type),
		})
	}
}

// Steps returns a copy of the current step log.
func (e *Episode) Steps() []core.AgentStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.AgentStep, len(e.steps))
	copy(out, e.steps)
	return out
}

// InProgress reports whether the last step is still loading, the log's
// own notion of "busy".
func (e *Episode) InProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.steps)
	return n > 0 && e.steps[n-1].IsLoading
}

// SetMatch records the resolved face and profile for this episode.
func (e *Episode) SetMatch(face *core.DetectedFace, profile *core.Profile) {
	e.mu.Lock()
	e.face = face
	e.profile = profile
	e.mu.Unlock()
}

// Profile returns the matched profile, nil before matching completes.
func (e *Episode) Profile() *core.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile
}

// SetTransfer records the mounted transfer intent.
func (e *Episode) SetTransfer(t *TransferIntent) {
	e.mu.Lock()
	e.transfer = t
	e.mu.Unlock()
}

// Transfer returns the mounted transfer intent, if any.
func (e *Episode) Transfer() *TransferIntent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transfer
}

// Confirm delivers the user's bridge confirmation decision.
func (e *Episode) Confirm(approved bool) {
	select {
	case e.confirm <- approved:
	default:
		// No confirmation pending; drop.
	}
}

// AwaitConfirmation blocks until the user decides or the episode closes.
func (e *Episode) AwaitConfirmation(ctx context.Context) (bool, error) {
	select {
	case approved := <-e.confirm:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-e.ctx.Done():
		return false, e.ctx.Err()
	}
}

// Close tears the episode down: background pollers stop, rendering state
// is discarded by consumers of the closed event. In-flight network calls
// that don't hang off the episode context keep running, matching the
// documented cancellation gap.
func (e *Episode) Close() {
	e.cancel()
	if e.emitter != nil {
		e.emitter.Emit(events.TypeEpisodeClosed, "dispatcher", e.ID, map[string]interface{}{
			"state": e.State().String(),
		})
	}
}

// History returns a copy of the transition history.
func (e *Episode) History() []Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Transition, len(e.history))
	copy(out, e.history)
	return out
}
