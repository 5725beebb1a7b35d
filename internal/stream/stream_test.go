package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-nexus/nexus/internal/config"
	"github.com/opencode-nexus/nexus/internal/event"
	"github.com/opencode-nexus/nexus/internal/gateway"
	"github.com/opencode-nexus/nexus/internal/storage"
	"github.com/opencode-nexus/nexus/pkg/types"
)

// newStreamFixture wires a client to a fake server whose /event endpoint
// sends the given raw SSE lines and then holds the connection open.
func newStreamFixture(t *testing.T, frames []string) (*Client, *event.Bus) {
	t.Helper()

	var connects atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app":
			w.Write([]byte(`{"name":"opencode","version":"test"}`))
		case "/event":
			connects.Add(1)
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			for _, frame := range frames {
				fmt.Fprintf(w, "data: %s\n\n", frame)
			}
			flusher.Flush()
			<-r.Context().Done()
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	gw := gateway.New(config.AuthConfig{}, bus, storage.New(t.TempDir()))
	t.Cleanup(gw.Close)
	require.NoError(t, gw.Connect(context.Background(), srv.URL))

	client := New(gw, bus)
	t.Cleanup(client.Stop)
	return client, bus
}

// waitForData reads events from sub until one matching want arrives.
func waitForData[T any](t *testing.T, sub *event.Subscription) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-sub.Events():
			if data, ok := e.Data.(T); ok {
				return data
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestChunkFrameBecomesStreamEvent(t *testing.T) {
	client, bus := newStreamFixture(t, []string{
		`{"id":"msg_1","content":"hel","role":"assistant","session_id":"ses_1","is_chunk":true}`,
	})

	streamSub := bus.SubscribeCategory(event.CategoryStream)
	defer streamSub.Close()
	msgSub := bus.SubscribeCategory(event.CategoryMessage)
	defer msgSub.Close()

	require.NoError(t, client.Start())

	chunk := waitForData[event.MessageChunkData](t, streamSub)
	assert.Equal(t, "ses_1", chunk.SessionID)
	assert.Equal(t, "msg_1", chunk.MessageID)
	assert.Equal(t, "hel", chunk.Chunk)

	// A chunk must not produce a full message event.
	select {
	case e := <-msgSub.Events():
		if _, ok := e.Data.(event.MessageReceivedData); ok {
			t.Fatal("chunk frame produced a message event")
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFullMessageBecomesMessageEvent(t *testing.T) {
	client, bus := newStreamFixture(t, []string{
		`{"id":"msg_2","content":"hello there","role":"assistant","session_id":"ses_1"}`,
	})

	msgSub := bus.SubscribeCategory(event.CategoryMessage)
	defer msgSub.Close()

	require.NoError(t, client.Start())

	received := waitForData[event.MessageReceivedData](t, msgSub)
	assert.Equal(t, "ses_1", received.SessionID)
	assert.Equal(t, "msg_2", received.Message.ID)
	assert.Equal(t, types.RoleAssistant, received.Message.Role)
	assert.Equal(t, "hello there", received.Message.Content)
	assert.NotEmpty(t, received.Message.Timestamp)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	client, bus := newStreamFixture(t, []string{
		`{not json`,
		`{"id":"msg_x","content":"?","role":"system","session_id":"ses_1"}`,
		`{"id":"msg_3","content":"kept","role":"user","session_id":"ses_1"}`,
	})

	msgSub := bus.SubscribeCategory(event.CategoryMessage)
	defer msgSub.Close()

	require.NoError(t, client.Start())

	received := waitForData[event.MessageReceivedData](t, msgSub)
	assert.Equal(t, "msg_3", received.Message.ID)

	select {
	case e := <-msgSub.Events():
		t.Fatalf("unexpected extra event: %#v", e.Data)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStartWhileRunning(t *testing.T) {
	client, _ := newStreamFixture(t, nil)

	require.NoError(t, client.Start())
	assert.True(t, client.IsStreaming())
	assert.ErrorIs(t, client.Start(), ErrAlreadyStreaming)
}

func TestStopLifecycleEvents(t *testing.T) {
	client, bus := newStreamFixture(t, nil)

	sub := bus.SubscribeCategory(event.CategoryStream)
	defer sub.Close()

	require.NoError(t, client.Start())
	started := waitForData[event.StreamStartedData](t, sub)
	assert.NotEmpty(t, started.StreamID)

	client.Stop()
	assert.False(t, client.IsStreaming())

	stopped := waitForData[event.StreamStoppedData](t, sub)
	assert.Equal(t, started.StreamID, stopped.StreamID)

	// Stopping again is a no-op.
	client.Stop()
}

func TestReconnectAfterStreamEnds(t *testing.T) {
	var connects atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app":
			w.Write([]byte(`{"version":"test"}`))
		case "/event":
			// Close immediately so the client has to reconnect.
			connects.Add(1)
			w.Header().Set("Content-Type", "text/event-stream")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	bus := event.NewBus()
	defer bus.Close()
	gw := gateway.New(config.AuthConfig{}, bus, storage.New(t.TempDir()))
	defer gw.Close()
	require.NoError(t, gw.Connect(context.Background(), srv.URL))

	client := New(gw, bus)
	defer client.Stop()
	require.NoError(t, client.Start())

	require.Eventually(t, func() bool {
		return connects.Load() >= 2
	}, 5*time.Second, 50*time.Millisecond)
}
