package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-nexus/nexus/internal/apperr"
	"github.com/opencode-nexus/nexus/internal/event"
	"github.com/opencode-nexus/nexus/internal/gateway"
	"github.com/opencode-nexus/nexus/internal/logging"
	"github.com/opencode-nexus/nexus/pkg/types"
)

const (
	// eventPath is the server's SSE endpoint.
	eventPath = "/event"

	// reconnectDelay is applied after a stream ends cleanly.
	reconnectDelay = 1 * time.Second

	// errorReconnectDelay is applied after a connection or read failure.
	errorReconnectDelay = 5 * time.Second

	// maxLineSize bounds a single SSE line.
	maxLineSize = 1 << 20
)

// ErrAlreadyStreaming is returned by Start when a stream loop is active.
var ErrAlreadyStreaming = errors.New("event stream is already running")

// Client maintains a single long-lived subscription to the server's event
// stream. At most one stream loop runs at a time.
type Client struct {
	gw  *gateway.Gateway
	bus *event.Bus
	log zerolog.Logger

	mu       sync.Mutex
	running  bool
	streamID string
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a stopped stream client.
func New(gw *gateway.Gateway, bus *event.Bus) *Client {
	return &Client{
		gw:  gw,
		bus: bus,
		log: logging.With("stream"),
	}
}

// IsStreaming reports whether the stream loop is running.
func (c *Client) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start launches the stream loop. It fails with ErrAlreadyStreaming when a
// loop is already active.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyStreaming
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	streamID := event.NewID()
	c.running = true
	c.streamID = streamID
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.bus.Emit(event.New(event.CategoryStream, event.StreamStartedData{StreamID: streamID}))
	go c.run(ctx, streamID, done)
	return nil
}

// Stop cancels the stream loop and waits for it to exit. Stopping a stopped
// client is a no-op.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	streamID := c.streamID
	c.running = false
	c.cancel = nil
	c.done = nil
	c.streamID = ""
	c.mu.Unlock()

	cancel()
	<-done

	c.bus.Emit(event.New(event.CategoryStream, event.StreamStoppedData{StreamID: streamID}))
	c.log.Info().Msg("event stream stopped")
}

// run connects, consumes and reconnects until the context is cancelled.
func (c *Client) run(ctx context.Context, streamID string, done chan<- struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		body, err := c.gw.OpenStream(ctx, eventPath)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("event stream connect failed")
			c.bus.Emit(event.New(event.CategoryError, event.ErrorData{
				Error:     err.Error(),
				Component: "stream",
				Retryable: true,
			}))
			if !sleep(ctx, errorReconnectDelay) {
				return
			}
			continue
		}

		readErr := c.consume(ctx, body)
		body.Close()
		if ctx.Err() != nil {
			return
		}

		delay := reconnectDelay
		if readErr != nil {
			delay = errorReconnectDelay
			c.log.Warn().Err(readErr).Msg("event stream read failed")
			c.bus.Emit(event.New(event.CategoryError, event.ErrorData{
				Error:     apperr.FromTransport(readErr).Error(),
				Component: "stream",
				Retryable: true,
			}))
		} else {
			c.log.Debug().Str("stream_id", streamID).Msg("event stream ended, reconnecting")
		}
		if !sleep(ctx, delay) {
			return
		}
	}
}

// consume reads data frames from one stream connection until it ends. A nil
// return means the server closed the stream cleanly.
func (c *Client) consume(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		c.handleFrame(payload)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// handleFrame decodes a single data payload and republishes it. Frames that
// fail to decode or carry an unknown role are dropped.
func (c *Client) handleFrame(payload string) {
	var frame types.StreamFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		c.log.Debug().Err(err).Msg("dropping malformed stream frame")
		return
	}

	role, ok := types.ParseRole(frame.Role)
	if !ok {
		c.log.Debug().Str("role", frame.Role).Msg("dropping frame with unknown role")
		return
	}

	if frame.Chunk() {
		c.bus.Emit(event.New(event.CategoryStream, event.MessageChunkData{
			SessionID: frame.SessionID,
			MessageID: frame.ID,
			Chunk:     frame.Content,
		}))
		return
	}

	c.bus.Emit(event.New(event.CategoryMessage, event.MessageReceivedData{
		SessionID: frame.SessionID,
		Message: types.ChatMessage{
			ID:        frame.ID,
			Role:      role,
			Content:   frame.Content,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}))
}

// sleep waits for d unless the context is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
