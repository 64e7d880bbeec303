package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/posterforge/posterforge/pkg/events"
)

func TestPublishInvokesMatchingHandlers(t *testing.T) {
	bus := events.NewBus(zap.NewNop())

	var got []events.Event
	bus.Subscribe(events.TypeJobCompleted, func(evt events.Event) {
		got = append(got, evt)
	})

	bus.Publish(events.TypeJobCompleted, "payload")
	bus.Publish(events.TypeJobFailed, "other")

	require.Len(t, got, 1)
	assert.Equal(t, events.TypeJobCompleted, got[0].Type)
	assert.Equal(t, "payload", got[0].Data)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestStreamReceivesAllTypes(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	stream := bus.Stream()
	defer bus.Unsubscribe(stream)

	bus.Publish(events.TypeJobAdded, nil)
	bus.Publish(events.TypeJobProgress, nil)

	for _, want := range []events.Type{events.TypeJobAdded, events.TypeJobProgress} {
		select {
		case evt := <-stream:
			assert.Equal(t, want, evt.Type)
		case <-time.After(time.Second):
			t.Fatalf("no %s event on stream", want)
		}
	}
}

func TestSlowStreamSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	stream := bus.Stream()
	defer bus.Unsubscribe(stream)

	done := make(chan struct{})
	go func() {
		// Overflow the stream buffer without draining it.
		for i := 0; i < 100; i++ {
			bus.Publish(events.TypeJobProgress, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesStream(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	stream := bus.Stream()
	bus.Unsubscribe(stream)

	_, open := <-stream
	assert.False(t, open)

	// Unsubscribing twice is harmless.
	bus.Unsubscribe(stream)
}
