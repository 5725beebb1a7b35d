package event

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for len(out) < n {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed after %d of %d events", len(out), n)
			}
			out = append(out, e)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestEmitReachesAllSubscribersInOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	subs := []*Subscription{bus.Subscribe(), bus.Subscribe(), bus.Subscribe()}

	var emitted []string
	for i := 0; i < 5; i++ {
		e := New(CategoryApplication, ConfigChangedData{Key: fmt.Sprintf("key-%d", i)})
		emitted = append(emitted, e.ID)
		bus.Emit(e)
	}

	for i, sub := range subs {
		got := collect(t, sub, 5)
		for j, e := range got {
			assert.Equal(t, emitted[j], e.ID, "subscriber %d event %d out of order", i, j)
		}
	}
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Emit(New(CategorySession, SessionDeletedData{SessionID: "early"}))

	sub := bus.Subscribe()
	bus.Emit(New(CategorySession, SessionDeletedData{SessionID: "late"}))

	got := collect(t, sub, 1)
	data, ok := got[0].Data.(SessionDeletedData)
	require.True(t, ok)
	assert.Equal(t, "late", data.SessionID)

	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected extra event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCategorySubscription(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	connSub := bus.SubscribeCategory(CategoryConnection)
	errSub := bus.SubscribeCategory(CategoryError)

	bus.Emit(New(CategoryConnection, ConnectionConnectedData{ServerURL: "http://127.0.0.1:4096"}))
	bus.Emit(New(CategoryError, ErrorData{Error: "boom"}))
	bus.Emit(New(CategoryConnection, ConnectionDisconnectedData{}))

	conn := collect(t, connSub, 2)
	assert.Equal(t, CategoryConnection, conn[0].Category)
	assert.Equal(t, CategoryConnection, conn[1].Category)

	errs := collect(t, errSub, 1)
	assert.Equal(t, CategoryError, errs[0].Category)

	select {
	case e := <-errSub.Events():
		t.Fatalf("error subscriber saw foreign event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	slow := bus.Subscribe()

	// Overflow the subscriber without reading from it. The emitter must
	// never block.
	total := SubscriberBuffer + 10
	for i := 0; i < total; i++ {
		bus.Emit(New(CategoryApplication, ConfigChangedData{Key: fmt.Sprintf("k%d", i)}))
	}

	assert.LessOrEqual(t, len(slow.Events()), SubscriberBuffer)

	// The slow subscriber lost the oldest events, not the newest.
	drained := collect(t, slow, SubscriberBuffer)
	last := drained[len(drained)-1].Data.(ConfigChangedData)
	assert.Equal(t, fmt.Sprintf("k%d", total-1), last.Key)
}

func TestCleanupSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	keep := bus.Subscribe()
	gone := bus.SubscribeCategory(CategoryStream)
	assert.Equal(t, 2, bus.SubscriberCount())

	gone.Close()
	removed := bus.CleanupSubscribers()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, bus.SubscriberCount())

	// The surviving subscription still receives events.
	bus.Emit(New(CategoryStream, StreamStartedData{StreamID: "s1"}))
	collect(t, keep, 1)
}

func TestEmitAfterSubscriptionCloseDoesNotPanic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Close()

	// Closed but not yet cleaned up: emission must be a no-op for it.
	bus.Emit(New(CategoryApplication, ProcessStoppedData{}))
}

func TestSinkReceivesSerializedEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Sink(ctx)
	require.NoError(t, err)

	emitted := New(CategoryMessage, MessageChunkData{SessionID: "s1", Chunk: "hi"})
	bus.Emit(emitted)

	select {
	case msg := <-msgs:
		msg.Ack()
		assert.Equal(t, string(CategoryMessage), msg.Metadata.Get(MetaCategory))

		var decoded Event
		require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
		assert.Equal(t, emitted.ID, decoded.ID)
		assert.Equal(t, CategoryMessage, decoded.Category)
	case <-time.After(time.Second):
		t.Fatal("sink message not delivered")
	}
}

func TestEventIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		e := New(CategoryError, ErrorData{Error: "x"})
		assert.False(t, seen[e.ID], "duplicate event id %s", e.ID)
		seen[e.ID] = true
	}
}
