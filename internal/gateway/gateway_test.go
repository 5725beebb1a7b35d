package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-nexus/nexus/internal/apperr"
	"github.com/opencode-nexus/nexus/internal/config"
	"github.com/opencode-nexus/nexus/internal/event"
	"github.com/opencode-nexus/nexus/internal/storage"
	"github.com/opencode-nexus/nexus/pkg/types"
)

func newTestGateway(t *testing.T, auth config.AuthConfig) (*Gateway, *event.Bus, *storage.Store) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	store := storage.New(t.TempDir())
	g := New(auth, bus, store)
	g.retry = apperr.RetryConfig{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
	t.Cleanup(g.Close)
	return g, bus, store
}

func appServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func okAppHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/app" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"name":"opencode","version":"0.4.2"}`))
}

func TestConnectSuccess(t *testing.T) {
	srv := appServer(t, okAppHandler)
	g, bus, _ := newTestGateway(t, config.AuthConfig{})

	sub := bus.SubscribeCategory(event.CategoryConnection)
	defer sub.Close()

	require.NoError(t, g.Connect(context.Background(), srv.URL))

	state := g.State()
	assert.Equal(t, StatusConnected, state.Status)
	assert.Equal(t, srv.URL, state.ServerURL)
	assert.Equal(t, "0.4.2", state.ServerVersion)
	assert.NotNil(t, state.ConnectedAt)
	assert.True(t, g.IsConnected())

	first := <-sub.Events()
	_, ok := first.Data.(event.ConnectionConnectingData)
	assert.True(t, ok, "expected connecting event first, got %T", first.Data)

	second := <-sub.Events()
	connected, ok := second.Data.(event.ConnectionConnectedData)
	require.True(t, ok, "expected connected event, got %T", second.Data)
	assert.Equal(t, "0.4.2", connected.Version)
}

func TestConnectRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := appServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		okAppHandler(w, r)
	})
	g, _, _ := newTestGateway(t, config.AuthConfig{})

	require.NoError(t, g.Connect(context.Background(), srv.URL))
	assert.Equal(t, int32(2), calls.Load())
}

func TestConnectNonRetryableFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := appServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	})
	g, _, _ := newTestGateway(t, config.AuthConfig{})

	err := g.Connect(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	state := g.State()
	assert.Equal(t, StatusError, state.Status)
	assert.NotEmpty(t, state.LastError)
}

func TestRequestErrorCarriesStatusAndBody(t *testing.T) {
	srv := appServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/app" {
			okAppHandler(w, r)
			return
		}
		http.Error(w, "session vanished", http.StatusNotFound)
	})
	g, _, _ := newTestGateway(t, config.AuthConfig{})
	require.NoError(t, g.Connect(context.Background(), srv.URL))

	_, err := Get[types.ChatSession](context.Background(), g, "/session/ses_gone")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindServer, appErr.Kind)
	assert.Equal(t, http.StatusNotFound, appErr.Status)
	assert.False(t, appErr.IsRetryable())
	assert.Contains(t, appErr.TechnicalDetails(), "session vanished")
}

func TestTestConnectionDoesNotMutateState(t *testing.T) {
	srv := appServer(t, okAppHandler)
	g, _, _ := newTestGateway(t, config.AuthConfig{})

	info, err := g.TestConnection(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "0.4.2", info.Version)
	assert.Equal(t, StatusDisconnected, g.State().Status)
}

func TestDisconnect(t *testing.T) {
	srv := appServer(t, okAppHandler)
	g, bus, _ := newTestGateway(t, config.AuthConfig{})

	require.NoError(t, g.Connect(context.Background(), srv.URL))

	sub := bus.SubscribeCategory(event.CategoryConnection)
	defer sub.Close()

	g.Disconnect("test over")
	assert.Equal(t, StatusDisconnected, g.State().Status)

	e := <-sub.Events()
	data, ok := e.Data.(event.ConnectionDisconnectedData)
	require.True(t, ok)
	assert.Equal(t, "test over", data.Reason)

	// Repeated disconnects are no-ops.
	g.Disconnect("again")

	_, err := Get[types.AppInfo](context.Background(), g, "/app")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindNotConnected, appErr.Kind)
}

func TestAuthHeaders(t *testing.T) {
	tests := []struct {
		name   string
		auth   config.AuthConfig
		header string
		want   string
	}{
		{
			name: "cloudflare access",
			auth: config.AuthConfig{
				Scheme:       config.AuthCloudflareAccess,
				ClientID:     "client-id",
				ClientSecret: "client-secret",
			},
			header: "CF-Access-Client-Id",
			want:   "client-id",
		},
		{
			name:   "api key",
			auth:   config.AuthConfig{Scheme: config.AuthAPIKey, APIKey: "sk-test"},
			header: "Authorization",
			want:   "Bearer sk-test",
		},
		{
			name: "custom header",
			auth: config.AuthConfig{
				Scheme:      config.AuthCustomHeader,
				HeaderName:  "X-Auth-Token",
				HeaderValue: "tok",
			},
			header: "X-Auth-Token",
			want:   "tok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			srv := appServer(t, func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get(tt.header)
				okAppHandler(w, r)
			})
			g, _, _ := newTestGateway(t, tt.auth)

			_, err := g.TestConnection(context.Background(), srv.URL)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTypedRequests(t *testing.T) {
	srv := appServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/app":
			okAppHandler(w, r)
		case r.URL.Path == "/session" && r.Method == http.MethodGet:
			w.Write([]byte(`[{"id":"ses_1","title":"hello"}]`))
		case r.URL.Path == "/session" && r.Method == http.MethodPost:
			w.Write([]byte(`{"id":"ses_2","title":"created"}`))
		case r.URL.Path == "/session/ses_1" && r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	})
	g, _, _ := newTestGateway(t, config.AuthConfig{})
	require.NoError(t, g.Connect(context.Background(), srv.URL))

	sessions, err := Get[[]types.ChatSession](context.Background(), g, "/session")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "ses_1", sessions[0].ID)

	created, err := Post[types.ChatSession](context.Background(), g, "/session", map[string]string{"title": "created"})
	require.NoError(t, err)
	assert.Equal(t, "ses_2", created.ID)

	require.NoError(t, Delete(context.Background(), g, "/session/ses_1"))
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://127.0.0.1:4096", want: "http://127.0.0.1:4096"},
		{in: "http://127.0.0.1:4096/", want: "http://127.0.0.1:4096"},
		{in: "https://opencode.example.com", want: "https://opencode.example.com"},
		{in: "  http://localhost:4096  ", want: "http://localhost:4096"},
		{in: "", wantErr: true},
		{in: "localhost:4096", wantErr: true},
		{in: "ftp://example.com", wantErr: true},
	}

	for _, tt := range tests {
		got, err := normalizeURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestConnectPersistsConnection(t *testing.T) {
	srv := appServer(t, okAppHandler)
	g, _, _ := newTestGateway(t, config.AuthConfig{})

	require.NoError(t, g.Connect(context.Background(), srv.URL))

	conns, err := g.ListConnections(context.Background())
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, srv.URL, conns[0].URL())
	assert.NotEmpty(t, conns[0].LastConnected)
}

func TestRestorePicksMostRecent(t *testing.T) {
	srv := appServer(t, okAppHandler)
	g, _, _ := newTestGateway(t, config.AuthConfig{})

	// A stale saved connection to a dead server should lose to the fresh one.
	require.NoError(t, g.SaveConnection(context.Background(), types.ServerConnection{
		Name:          "stale",
		Hostname:      "127.0.0.1",
		Port:          1,
		LastConnected: time.Now().Add(-24 * time.Hour).Format(time.RFC3339),
	}))

	u, err := normalizeURL(srv.URL)
	require.NoError(t, err)
	require.NoError(t, g.rememberConnection(context.Background(), u, time.Now()))

	require.NoError(t, g.Restore(context.Background()))
	assert.Equal(t, StatusConnected, g.State().Status)
	assert.Equal(t, u, g.State().ServerURL)
}

func TestRestoreEmptyRegistry(t *testing.T) {
	g, _, _ := newTestGateway(t, config.AuthConfig{})
	require.NoError(t, g.Restore(context.Background()))
	assert.Equal(t, StatusDisconnected, g.State().Status)
}

func TestDeleteConnection(t *testing.T) {
	g, _, _ := newTestGateway(t, config.AuthConfig{})

	require.NoError(t, g.SaveConnection(context.Background(), types.ServerConnection{
		Name:     "one",
		Hostname: "localhost",
		Port:     4096,
	}))
	require.NoError(t, g.DeleteConnection(context.Background(), "one"))
	require.NoError(t, g.DeleteConnection(context.Background(), "one"))

	conns, err := g.ListConnections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, conns)
}
