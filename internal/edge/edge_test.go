package edge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCache_EmptyCache(t *testing.T) {
	fc := NewFrameCache(0)
	_, err := fc.Capture(context.Background())
	require.ErrorIs(t, err, ErrNoFrame)
}

func TestFrameCache_ReturnsLatestFrame(t *testing.T) {
	fc := NewFrameCache(time.Second)
	fc.Put([]byte("first"))
	fc.Put([]byte("second"))

	frame, err := fc.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), frame)
}

func TestFrameCache_StaleFrameRejected(t *testing.T) {
	fc := NewFrameCache(10 * time.Millisecond)
	fc.Put([]byte("frame"))
	time.Sleep(30 * time.Millisecond)

	_, err := fc.Capture(context.Background())
	require.ErrorIs(t, err, ErrNoFrame)
}

func TestPushTranscriber_DropsBeforeStart(t *testing.T) {
	tr := NewPushTranscriber()
	tr.Push("too early")

	select {
	case got := <-tr.Updates():
		t.Fatalf("unexpected update %q before Start", got)
	default:
	}
}

func TestPushTranscriber_DeliversAfterStart(t *testing.T) {
	tr := NewPushTranscriber()
	require.NoError(t, tr.Start(context.Background()))

	tr.Push("bio wallet hello")
	select {
	case got := <-tr.Updates():
		assert.Equal(t, "bio wallet hello", got)
	case <-time.After(time.Second):
		t.Fatal("update not delivered")
	}

	require.NoError(t, tr.Stop())
	tr.Push("after stop")
	select {
	case got := <-tr.Updates():
		t.Fatalf("unexpected update %q after Stop", got)
	default:
	}
}

func TestPushTranscriber_DropsWhenFull(t *testing.T) {
	tr := NewPushTranscriber()
	require.NoError(t, tr.Start(context.Background()))

	// Channel capacity is 16; the overflow push must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 40; i++ {
			tr.Push("update")
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked on a full channel")
	}
}
