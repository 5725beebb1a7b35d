package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-nexus/nexus/internal/apperr"
	"github.com/opencode-nexus/nexus/internal/config"
	"github.com/opencode-nexus/nexus/internal/event"
	"github.com/opencode-nexus/nexus/internal/logging"
	"github.com/opencode-nexus/nexus/internal/storage"
	"github.com/opencode-nexus/nexus/pkg/types"
)

const (
	// requestTimeout bounds every request made through the gateway.
	requestTimeout = 30 * time.Second

	// healthInterval is how often the health monitor probes a connected
	// server.
	healthInterval = 30 * time.Second
)

// Status is the connection phase of the gateway.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ConnectionState is a snapshot of the gateway's connection. Callers receive
// a copy.
type ConnectionState struct {
	Status        Status     `json:"status"`
	ServerURL     string     `json:"server_url,omitempty"`
	ServerVersion string     `json:"server_version,omitempty"`
	ConnectedAt   *time.Time `json:"connected_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Gateway is the single owner of the HTTP client used to talk to the
// opencode server. All methods are safe for concurrent use and the mutex is
// never held across network waits.
type Gateway struct {
	client *client
	bus    *event.Bus
	store  *storage.Store
	log    zerolog.Logger
	retry  apperr.RetryConfig

	mu    sync.RWMutex
	state ConnectionState

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// New creates a disconnected gateway. The auth configuration determines
// which credentials are attached to outgoing requests.
func New(auth config.AuthConfig, bus *event.Bus, store *storage.Store) *Gateway {
	return &Gateway{
		client: newClient(auth, requestTimeout),
		bus:    bus,
		store:  store,
		log:    logging.With("gateway"),
		retry:  apperr.DefaultRetry(),
		state:  ConnectionState{Status: StatusDisconnected},
	}
}

// State returns a snapshot of the connection state.
func (g *Gateway) State() ConnectionState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	state := g.state
	if state.ConnectedAt != nil {
		t := *state.ConnectedAt
		state.ConnectedAt = &t
	}
	return state
}

// IsConnected reports whether the gateway currently has an established
// connection.
func (g *Gateway) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Status == StatusConnected
}

// BaseURL returns the URL of the connected server, or empty when
// disconnected.
func (g *Gateway) BaseURL() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state.Status != StatusConnected {
		return ""
	}
	return g.state.ServerURL
}

// TestConnection probes a server without changing the gateway's connection
// state. It retries transient failures per the default retry policy and
// returns the server's identity on success.
func (g *Gateway) TestConnection(ctx context.Context, serverURL string) (types.AppInfo, error) {
	normalized, err := normalizeURL(serverURL)
	if err != nil {
		return types.AppInfo{}, err
	}
	return apperr.Retry(ctx, g.retry, func(ctx context.Context) (types.AppInfo, error) {
		return g.probe(ctx, normalized)
	})
}

// Connect establishes a connection to the server. The probe is retried per
// the default policy; on success the connection is recorded in the saved
// connection registry and the health monitor starts.
func (g *Gateway) Connect(ctx context.Context, serverURL string) error {
	normalized, err := normalizeURL(serverURL)
	if err != nil {
		return err
	}

	g.mu.Lock()
	if g.state.Status == StatusConnecting {
		g.mu.Unlock()
		return apperr.Connection("connection attempt already in progress")
	}
	g.state = ConnectionState{Status: StatusConnecting, ServerURL: normalized}
	g.mu.Unlock()

	g.bus.Emit(event.New(event.CategoryConnection, event.ConnectionConnectingData{ServerURL: normalized}))

	info, err := apperr.Retry(ctx, g.retry, func(ctx context.Context) (types.AppInfo, error) {
		return g.probe(ctx, normalized)
	})
	if err != nil {
		g.mu.Lock()
		g.state = ConnectionState{Status: StatusError, ServerURL: normalized, LastError: err.Error()}
		g.mu.Unlock()
		g.bus.Emit(event.New(event.CategoryConnection, event.ConnectionErrorData{
			Error:     err.Error(),
			ServerURL: normalized,
			Retryable: apperr.IsRetryable(err),
		}))
		return err
	}

	now := time.Now()
	monitorCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	g.mu.Lock()
	// A concurrent Disconnect may have raced the probe.
	if g.state.Status != StatusConnecting || g.state.ServerURL != normalized {
		g.mu.Unlock()
		cancel()
		return apperr.Connection("connection attempt was cancelled")
	}
	g.stopHealthLocked()
	g.state = ConnectionState{
		Status:        StatusConnected,
		ServerURL:     normalized,
		ServerVersion: info.Version,
		ConnectedAt:   &now,
	}
	g.healthCancel = cancel
	g.healthDone = done
	g.mu.Unlock()

	g.log.Info().Str("server", normalized).Str("version", info.Version).Msg("connected to server")
	g.bus.Emit(event.New(event.CategoryConnection, event.ConnectionConnectedData{
		ServerURL: normalized,
		Version:   info.Version,
	}))

	if err := g.rememberConnection(ctx, normalized, now); err != nil {
		g.log.Warn().Err(err).Msg("failed to persist connection")
	}

	go g.monitorHealth(monitorCtx, normalized, done)
	return nil
}

// Disconnect tears down the connection and stops the health monitor. It is
// a no-op when already disconnected.
func (g *Gateway) Disconnect(reason string) {
	g.mu.Lock()
	if g.state.Status == StatusDisconnected {
		g.mu.Unlock()
		return
	}
	g.stopHealthLocked()
	done := g.healthDone
	g.healthDone = nil
	g.state = ConnectionState{Status: StatusDisconnected}
	g.mu.Unlock()

	if done != nil {
		<-done
	}

	if reason == "" {
		reason = "disconnected"
	}
	g.log.Info().Str("reason", reason).Msg("disconnected from server")
	g.bus.Emit(event.New(event.CategoryConnection, event.ConnectionDisconnectedData{Reason: reason}))
}

// Close disconnects and releases the gateway.
func (g *Gateway) Close() {
	g.Disconnect("shutting down")
}

// probe fetches the server identity from its /app endpoint.
func (g *Gateway) probe(ctx context.Context, baseURL string) (types.AppInfo, error) {
	start := time.Now()
	var info types.AppInfo
	if err := g.client.getInto(ctx, baseURL, "/app", &info); err != nil {
		return types.AppInfo{}, err
	}
	g.log.Debug().Str("server", baseURL).Dur("latency", time.Since(start)).Msg("server probe ok")
	return info, nil
}

// monitorHealth probes the server periodically while connected. A failed
// probe flips the state to error; a later success restores it.
func (g *Gateway) monitorHealth(ctx context.Context, baseURL string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		_, err := g.probe(ctx, baseURL)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.log.Warn().Err(err).Str("server", baseURL).Msg("health check failed")
			g.mu.Lock()
			if g.state.Status == StatusConnected && g.state.ServerURL == baseURL {
				g.state.Status = StatusError
				g.state.LastError = err.Error()
			}
			g.mu.Unlock()
			g.bus.Emit(event.New(event.CategoryConnection, event.ConnectionHealthData{
				Status:    "unhealthy",
				LatencyMs: latency,
			}))
			continue
		}

		g.mu.Lock()
		if g.state.ServerURL == baseURL && g.state.Status == StatusError {
			g.state.Status = StatusConnected
			g.state.LastError = ""
		}
		g.mu.Unlock()
		g.bus.Emit(event.New(event.CategoryConnection, event.ConnectionHealthData{
			Status:    "healthy",
			LatencyMs: latency,
		}))
	}
}

// stopHealthLocked cancels the health monitor. Callers must hold g.mu.
func (g *Gateway) stopHealthLocked() {
	if g.healthCancel != nil {
		g.healthCancel()
		g.healthCancel = nil
	}
}

// normalizeURL validates a server URL and strips any trailing slash.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return "", apperr.Validation("server_url", "must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", apperr.Validation("server_url", fmt.Sprintf("invalid server URL: %s", raw))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperr.Validation("server_url", "URL scheme must be http or https")
	}
	return u.Scheme + "://" + u.Host, nil
}
