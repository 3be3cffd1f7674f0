package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher_DeliversToTaskAndGlobalSubscribers(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	taskCh := p.Subscribe(42)
	globalCh := p.Subscribe(GlobalTaskID)

	p.Publish(NewEvent(42, CategoryAssistant, "hello"))

	select {
	case ev := <-taskCh:
		assert.Equal(t, int64(42), ev.TaskID)
	case <-time.After(time.Second):
		t.Fatal("task subscriber did not receive event")
	}

	select {
	case ev := <-globalCh:
		assert.Equal(t, int64(42), ev.TaskID)
	case <-time.After(time.Second):
		t.Fatal("global subscriber did not receive event")
	}
}

func TestMemoryPublisher_DoesNotCrossDeliverBetweenTasks(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	chA := p.Subscribe(1)
	chB := p.Subscribe(2)

	p.Publish(NewEvent(1, CategorySystem, nil))

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("subscriber for task 1 did not receive its event")
	}

	select {
	case <-chB:
		t.Fatal("subscriber for task 2 should not receive task 1's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryPublisher_EvictsDeadSubscriberWithoutAffectingOthers(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	dead := p.Subscribe(7)
	alive := p.Subscribe(7)

	require.Equal(t, 2, p.SubscriberCount(7))

	p.Unsubscribe(7, dead)
	require.Equal(t, 1, p.SubscriberCount(7))

	p.Publish(NewEvent(7, CategoryResult, "done"))

	select {
	case ev := <-alive:
		assert.Equal(t, CategoryResult, ev.Category)
	case <-time.After(time.Second):
		t.Fatal("surviving subscriber did not receive event after eviction of the other")
	}
}

func TestMemoryPublisher_PublishNeverBlocksOnFullBuffer(t *testing.T) {
	p := NewMemoryPublisher(WithBufferSize(1))
	defer p.Close()

	ch := p.Subscribe(3)
	p.Publish(NewEvent(3, CategorySystem, "first"))

	done := make(chan struct{})
	go func() {
		p.Publish(NewEvent(3, CategorySystem, "second")) // buffer full, must not block
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	// Only the first event should have been delivered; the second was dropped.
	ev := <-ch
	assert.Equal(t, "first", ev.Payload)
}

func TestMemoryPublisher_CloseClosesAllChannels(t *testing.T) {
	p := NewMemoryPublisher()
	ch := p.Subscribe(9)
	p.Close()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	// Publishing after close is a no-op, not a panic.
	p.Publish(NewEvent(9, CategorySystem, nil))
}

func TestNopPublisher_ReturnsClosedChannel(t *testing.T) {
	p := NewNopPublisher()
	ch := p.Subscribe(1)
	_, ok := <-ch
	assert.False(t, ok)
}
