// Package edge holds the browser-facing ingestion adapters: the frontend
// pushes camera frames and live transcripts over HTTP, and the pipeline
// consumes them through the FrameSource and Transcriber ports.
package edge

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoFrame is returned when no sufficiently recent frame is cached.
var ErrNoFrame = errors.New("no recent camera frame available")

// DefaultFrameMaxAge bounds how stale a cached frame may be before a
// scan refuses to use it.
const DefaultFrameMaxAge = 10 * time.Second

// FrameCache keeps the most recent camera frame pushed by the frontend.
// Capture returns it as long as it is fresh enough.
type FrameCache struct {
	maxAge time.Duration

	mu       sync.Mutex
	frame    []byte
	pushedAt time.Time
}

// NewFrameCache creates a cache. A zero maxAge selects DefaultFrameMaxAge.
func NewFrameCache(maxAge time.Duration) *FrameCache {
	if maxAge == 0 {
		maxAge = DefaultFrameMaxAge
	}
	return &FrameCache{maxAge: maxAge}
}

// Put stores a frame, replacing any previous one.
func (fc *FrameCache) Put(frame []byte) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.frame = frame
	fc.pushedAt = time.Now()
}

// Capture returns the latest frame, or ErrNoFrame when none has arrived
// within the freshness window.
func (fc *FrameCache) Capture(_ context.Context) ([]byte, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.frame == nil || time.Since(fc.pushedAt) > fc.maxAge {
		return nil, ErrNoFrame
	}
	return fc.frame, nil
}

// PushTranscriber adapts frontend-pushed transcript updates to the
// speech Transcriber port. Speech-to-text itself runs in the browser.
type PushTranscriber struct {
	mu      sync.Mutex
	updates chan string
	started bool
}

// NewPushTranscriber creates a transcriber fed by Push.
func NewPushTranscriber() *PushTranscriber {
	return &PushTranscriber{updates: make(chan string, 16)}
}

// Start marks the transcriber live. Updates pushed before Start are
// not replayed.
func (t *PushTranscriber) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	return nil
}

// Stop marks the transcriber stopped; subsequent pushes are dropped.
func (t *PushTranscriber) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
	return nil
}

// Updates is the channel accumulated transcripts arrive on.
func (t *PushTranscriber) Updates() <-chan string {
	return t.updates
}

// Push feeds one transcript update. Drops rather than blocks when the
// listener is behind.
func (t *PushTranscriber) Push(transcript string) {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return
	}
	select {
	case t.updates <- transcript:
	default:
	}
}
