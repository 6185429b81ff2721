// Package circuitbreaker guards outbound HTTP dependencies (the agent
// endpoint, the bridge API) so a dead upstream fails fast instead of
// stalling every episode on a 60s client timeout.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker rejects a call without running it.
var ErrOpen = errors.New("circuit breaker open")

// Config tunes a Breaker. Zero values pick the defaults documented on
// each field.
type Config struct {
	// Name appears in state-change log lines.
	Name string

	// Probes is how many trial calls the half-open state admits before
	// deciding. Default 1.
	Probes uint32

	// Window is how long closed-state counts accumulate before being
	// reset. Default 60s.
	Window time.Duration

	// Cooldown is how long the breaker stays open before admitting
	// probes. Default 30s.
	Cooldown time.Duration

	// ShouldTrip decides, after a closed-state failure, whether to open
	// the circuit. Default trips on 5 consecutive failures.
	ShouldTrip func(c Counts) bool
}

// Counts tracks outcomes within the current generation.
type Counts struct {
	Calls                uint32
	Failures             uint32
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

func (c *Counts) reset() { *c = Counts{} }

// Breaker is a mutex-guarded three-state circuit breaker.
type Breaker struct {
	cfg Config

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// New creates a Breaker, filling Config defaults.
func New(cfg Config) *Breaker {
	if cfg.Probes == 0 {
		cfg.Probes = 1
	}
	if cfg.Window == 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 5 }
	}
	b := &Breaker{cfg: cfg, state: StateClosed}
	b.newGeneration(time.Now())
	return b
}

// Do runs fn if the circuit allows it and records the outcome. When the
// circuit is open, fn is not called and ErrOpen is returned.
func (b *Breaker) Do(fn func() error) error {
	gen, err := b.before()
	if err != nil {
		return err
	}
	err = fn()
	b.after(gen, err == nil)
	return err
}

// State reports the current state, advancing open→half-open if the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, _ := b.currentState(time.Now())
	return s
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, gen := b.currentState(now)
	if state == StateOpen {
		return gen, ErrOpen
	}
	if state == StateHalfOpen && b.counts.Calls >= b.cfg.Probes {
		return gen, ErrOpen
	}
	b.counts.Calls++
	return gen, nil
}

func (b *Breaker) after(gen uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, cur := b.currentState(now)
	if gen != cur {
		// Result from a previous generation; the circuit already moved on.
		return
	}

	if ok {
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.cfg.Probes {
			b.setState(StateClosed, now)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch state {
	case StateClosed:
		if b.cfg.ShouldTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.newGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	from := b.state
	b.state = state
	b.newGeneration(now)
	slog.Info("[CircuitBreaker] state change",
		"name", b.cfg.Name, "from", from.String(), "to", state.String())
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.counts.reset()
	switch b.state {
	case StateClosed:
		b.expiry = now.Add(b.cfg.Window)
	case StateOpen:
		b.expiry = now.Add(b.cfg.Cooldown)
	default:
		b.expiry = time.Time{}
	}
}
