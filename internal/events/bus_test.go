package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	bus := New()
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Event{Type: ServiceStateChanged, ServiceID: "nginx", Payload: "running"})

	got := receive(t, ch)
	assert.Equal(t, ServiceStateChanged, got.Type)
	assert.Equal(t, "nginx", got.ServiceID)
}

func TestEverySubscriberSeesEveryEvent(t *testing.T) {
	bus := New()
	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	bus.Publish(Event{Type: SyncCaughtUp, ServiceID: "kaspa-node"})

	assert.Equal(t, SyncCaughtUp, receive(t, ch1).Type)
	assert.Equal(t, SyncCaughtUp, receive(t, ch2).Type)
}

func TestCancelClosesChannelAndIsIdempotent(t *testing.T) {
	bus := New()
	ch, cancel := bus.Subscribe()

	cancel()
	bus.Publish(Event{Type: TaskStateChanged})

	_, open := <-ch
	assert.False(t, open, "channel should be closed after cancel")
	assert.Zero(t, bus.SubscriberCount())

	cancel() // second cancel must not panic
}

func TestFullSubscriberNeverBlocksPublisher(t *testing.T) {
	bus := New()
	ch, cancel := bus.Subscribe()
	defer cancel()

	// Fill the subscriber's buffer without draining it, then publish once
	// more; the overflow event is dropped rather than blocking.
	for i := 0; i <= subscriberBufferSize; i++ {
		done := make(chan struct{})
		go func() {
			bus.Publish(Event{Type: ResourceSample})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Publish blocked on a full subscriber buffer")
		}
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			require.Equal(t, subscriberBufferSize, drained)
			return
		}
	}
}

func TestConcurrentPublishersDeliverAtMostPublished(t *testing.T) {
	bus := New()
	ch, cancel := bus.Subscribe()
	defer cancel()

	const publishers, each = 10, 100
	var wg sync.WaitGroup
	wg.Add(publishers)
	for g := 0; g < publishers; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				bus.Publish(Event{Type: ResourceSample})
			}
		}()
	}
	wg.Wait()

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			assert.Positive(t, count, "expected at least one event delivered")
			assert.LessOrEqual(t, count, publishers*each)
			return
		}
	}
}
