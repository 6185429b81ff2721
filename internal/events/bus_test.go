package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch chan *CloudEvent) *CloudEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected an event")
		return nil
	}
}

func TestBus_TypedSubscription(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(TypeEpisodeStep)
	defer bus.Unsubscribe(sub)

	bus.Emit(TypeEpisodeStep, "dispatcher", "ep-1", map[string]interface{}{"label": "Scanning"})
	bus.Emit(TypeFaceRegistered, "api", "Alice", nil)

	ev := receive(t, sub)
	assert.Equal(t, TypeEpisodeStep, ev.Type)
	assert.Equal(t, "ep-1", ev.Subject)
	assert.Equal(t, "Scanning", ev.Data["label"])
	assert.Equal(t, "1.0", ev.SpecVersion)
	assert.NotEmpty(t, ev.ID)

	select {
	case unexpected := <-sub:
		t.Fatalf("typed subscriber received %s", unexpected.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_WildcardSubscription(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	bus.Emit(TypeEpisodeStarted, "dispatcher", "ep-1", nil)
	bus.Emit(TypeLinkOpen, "dispatcher", "ep-1", map[string]interface{}{"url": "https://t.me/bob"})

	first := receive(t, sub)
	second := receive(t, sub)
	assert.Equal(t, TypeEpisodeStarted, first.Type)
	assert.Equal(t, TypeLinkOpen, second.Type)
}

func TestBus_UnsubscribeCloses(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(TypeEpisodeClosed)
	bus.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open, "unsubscribed channel is closed")
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestCloudEvent_JSONRoundTrip(t *testing.T) {
	ev := NewCloudEvent(TypeBridgeStatus, "dispatcher", "ep-9", map[string]interface{}{
		"orderId": "order-1",
		"status":  "Fulfilled",
	})
	raw, err := ev.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"specversion":"1.0"`)
	assert.Contains(t, string(raw), `"orderId":"order-1"`)
}
