// Package speech wraps the external speech-to-text capability and raises
// trigger events when the spoken trigger phrase is heard. Transcription
// itself stays behind the Transcriber port; this package owns only the
// debounce-and-inspect discipline.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Trigger marker substrings. A trigger fires only when both occur in the
// case-folded transcript.
const (
	markerBio    = "bio"
	markerWallet = "wallet"
)

// DefaultDebounce is how long the transcript must stay unchanged before
// it is inspected for the trigger phrase.
const DefaultDebounce = 3 * time.Second

// ErrUnsupported is returned by a Transcriber whose environment has no
// speech capability. The listener degrades to a static status banner.
var ErrUnsupported = errors.New("speech recognition not supported")

// Transcriber is the external speech-to-text boundary. Updates carries
// the accumulated transcript, re-sent whenever new speech arrives.
type Transcriber interface {
	Start(ctx context.Context) error
	Stop() error
	Updates() <-chan string
}

// TriggerEvent is emitted when the trigger phrase is detected after a
// pause in speech.
type TriggerEvent struct {
	Transcript string
}

// Listener debounces transcript updates and emits at most one trigger per
// pause. While suspended (an episode is in flight) the debounce timer is
// disabled entirely, so no trigger can fire mid-episode.
type Listener struct {
	transcriber Transcriber
	debounce    time.Duration
	triggers    chan TriggerEvent

	mu        sync.Mutex
	status    string
	suspended bool

	suspendCh chan bool
}

// NewListener creates a trigger listener. A zero debounce selects
// DefaultDebounce.
func NewListener(transcriber Transcriber, debounce time.Duration) *Listener {
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	return &Listener{
		transcriber: transcriber,
		debounce:    debounce,
		triggers:    make(chan TriggerEvent, 1),
		suspendCh:   make(chan bool, 1),
		status:      "Initializing microphone...",
	}
}

// Triggers is the channel trigger events arrive on.
func (l *Listener) Triggers() <-chan TriggerEvent { return l.triggers }

// Status reports the capability banner shown to the user.
func (l *Listener) Status() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Listener) setStatus(s string) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
}

// signalSuspend delivers the latest suspend state without blocking: a
// stale unread value is replaced, so callers never hang even when the Run
// loop is parked in its degraded mode.
func (l *Listener) signalSuspend(v bool) {
	for {
		select {
		case l.suspendCh <- v:
			return
		default:
			select {
			case <-l.suspendCh:
			default:
			}
		}
	}
}

// Suspend disables the debounce timer and pauses the underlying
// transcriber. Called when an episode opens.
func (l *Listener) Suspend() {
	l.signalSuspend(true)
	if err := l.transcriber.Stop(); err != nil {
		slog.Warn("[Speech] Failed to pause transcriber", "error", err)
	}
	l.setStatus("Microphone paused")
}

// Resume re-enables the debounce timer and restarts the transcriber.
// Called when an episode closes.
func (l *Listener) Resume(ctx context.Context) {
	l.signalSuspend(false)
	if err := l.transcriber.Start(ctx); err != nil {
		slog.Warn("[Speech] Failed to resume transcriber", "error", err)
		l.setStatus("Error initializing microphone")
		return
	}
	l.setStatus("Microphone active")
}

// Run starts the transcriber and processes updates until ctx is done.
// An unsupported capability is reported, not fatal: the listener stays
// alive with a static status and never triggers.
func (l *Listener) Run(ctx context.Context) {
	if err := l.transcriber.Start(ctx); err != nil {
		if errors.Is(err, ErrUnsupported) {
			l.setStatus("Speech recognition not supported")
		} else {
			slog.Warn("[Speech] Transcriber start failed", "error", err)
			l.setStatus("Error initializing microphone")
		}
		// Keep consuming suspend signals so episode open/close never
		// stalls on a listener that cannot hear anyway.
		for {
			select {
			case <-ctx.Done():
				return
			case suspended := <-l.suspendCh:
				l.mu.Lock()
				l.suspended = suspended
				l.mu.Unlock()
			}
		}
	}
	l.setStatus("Microphone active")
	defer l.transcriber.Stop()

	var (
		transcript string
		timer      *time.Timer
		timerC     <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			return

		case suspended := <-l.suspendCh:
			l.mu.Lock()
			l.suspended = suspended
			l.mu.Unlock()
			if suspended {
				stopTimer()
			} else if transcript != "" {
				stopTimer()
				timer = time.NewTimer(l.debounce)
				timerC = timer.C
			}

		case update, ok := <-l.transcriber.Updates():
			if !ok {
				stopTimer()
				return
			}
			transcript = update
			l.mu.Lock()
			suspended := l.suspended
			l.mu.Unlock()
			if suspended {
				continue
			}
			stopTimer()
			timer = time.NewTimer(l.debounce)
			timerC = timer.C

		case <-timerC:
			timer, timerC = nil, nil
			l.inspect(transcript)
			transcript = ""
		}
	}
}

// inspect fires a trigger when both markers co-occur; otherwise the
// transcript is discarded silently.
func (l *Listener) inspect(transcript string) {
	if transcript == "" {
		return
	}
	lower := strings.ToLower(transcript)
	if !strings.Contains(lower, markerBio) || !strings.Contains(lower, markerWallet) {
		slog.Debug("[Speech] No trigger words, clearing transcript")
		return
	}

	slog.Info("[Speech] Trigger phrase detected")
	select {
	case l.triggers <- TriggerEvent{Transcript: transcript}:
	default:
		// An unconsumed trigger is already pending; drop this one.
	}
}
