package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-nexus/nexus/internal/apperr"
	"github.com/opencode-nexus/nexus/internal/config"
	"github.com/opencode-nexus/nexus/internal/event"
	"github.com/opencode-nexus/nexus/internal/gateway"
	"github.com/opencode-nexus/nexus/internal/storage"
	"github.com/opencode-nexus/nexus/pkg/types"
)

// fakeServer is a minimal in-memory opencode session API.
type fakeServer struct {
	mu       sync.Mutex
	sessions []types.ChatSession
	nextID   int
}

func (f *fakeServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.URL.Path == "/app":
			w.Write([]byte(`{"version":"test"}`))
		case r.URL.Path == "/session" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(f.sessions)
		case r.URL.Path == "/session" && r.Method == http.MethodPost:
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			f.nextID++
			s := types.ChatSession{
				ID:        fmt.Sprintf("ses_%03d", f.nextID),
				Title:     body["title"],
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
				UpdatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			f.sessions = append(f.sessions, s)
			json.NewEncoder(w).Encode(s)
		case strings.HasSuffix(r.URL.Path, "/message") && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(types.ChatMessage{
				ID:        "msg_1",
				Role:      types.RoleUser,
				Content:   "hello",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		case strings.HasSuffix(r.URL.Path, "/message") && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]types.ChatMessage{})
		case r.Method == http.MethodDelete:
			id := strings.TrimPrefix(r.URL.Path, "/session/")
			kept := f.sessions[:0]
			for _, s := range f.sessions {
				if s.ID != id {
					kept = append(kept, s)
				}
			}
			f.sessions = kept
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}
}

func newDirectoryFixture(t *testing.T) (*Directory, *event.Bus, *storage.Store) {
	t.Helper()
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	store := storage.New(t.TempDir())

	gw := gateway.New(config.AuthConfig{}, bus, store)
	t.Cleanup(gw.Close)
	require.NoError(t, gw.Connect(context.Background(), srv.URL))

	return New(gw, bus, store), bus, store
}

func TestCreateAddsSession(t *testing.T) {
	dir, bus, _ := newDirectoryFixture(t)

	sub := bus.SubscribeCategory(event.CategorySession)
	defer sub.Close()

	created, err := dir.Create(context.Background(), "my session")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "my session", created.Title)

	got, ok := dir.Session(created.ID)
	require.True(t, ok)
	assert.Equal(t, created.Title, got.Title)

	e := <-sub.Events()
	data, ok := e.Data.(event.SessionCreatedData)
	require.True(t, ok)
	assert.Equal(t, created.ID, data.Session.ID)
}

func TestCreateTitleTooLong(t *testing.T) {
	dir, _, _ := newDirectoryFixture(t)

	_, err := dir.Create(context.Background(), strings.Repeat("x", maxTitleLength+1))
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
}

func TestSelectSession(t *testing.T) {
	dir, bus, _ := newDirectoryFixture(t)

	created, err := dir.Create(context.Background(), "pick me")
	require.NoError(t, err)

	sub := bus.SubscribeCategory(event.CategorySession)
	defer sub.Close()

	require.NoError(t, dir.Select(context.Background(), created.ID))
	assert.Equal(t, created.ID, dir.ActiveID())

	e := <-sub.Events()
	data, ok := e.Data.(event.SessionSelectedData)
	require.True(t, ok)
	assert.Equal(t, created.ID, data.SessionID)

	err = dir.Select(context.Background(), "ses_missing")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindSession, appErr.Kind)
}

func TestDeleteClearsActiveSelection(t *testing.T) {
	dir, _, _ := newDirectoryFixture(t)

	created, err := dir.Create(context.Background(), "doomed")
	require.NoError(t, err)
	require.NoError(t, dir.Select(context.Background(), created.ID))

	require.NoError(t, dir.Delete(context.Background(), created.ID))
	assert.Empty(t, dir.ActiveID())
	_, ok := dir.Session(created.ID)
	assert.False(t, ok)
}

func TestSendValidatesContent(t *testing.T) {
	dir, _, _ := newDirectoryFixture(t)

	_, err := dir.Send(context.Background(), "ses_1", "   ")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
}

func TestSendUpdatesSession(t *testing.T) {
	dir, bus, _ := newDirectoryFixture(t)

	created, err := dir.Create(context.Background(), "chat")
	require.NoError(t, err)

	sub := bus.SubscribeCategory(event.CategoryMessage)
	defer sub.Close()

	sent, err := dir.Send(context.Background(), created.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg_1", sent.ID)

	e := <-sub.Events()
	data, ok := e.Data.(event.MessageSentData)
	require.True(t, ok)
	assert.Equal(t, created.ID, data.SessionID)

	got, _ := dir.Session(created.ID)
	assert.Equal(t, 1, got.MessageCount)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "hello", got.LastMessage.Content)
}

func TestChunkAccumulation(t *testing.T) {
	dir, bus, _ := newDirectoryFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dir.Run(ctx)

	for _, chunk := range []string{"hel", "lo ", "world"} {
		bus.Emit(event.New(event.CategoryStream, event.MessageChunkData{
			SessionID: "ses_1",
			MessageID: "msg_9",
			Chunk:     chunk,
		}))
	}

	require.Eventually(t, func() bool {
		return dir.Accumulated("ses_1", "msg_9") == "hello world"
	}, 2*time.Second, 10*time.Millisecond)

	streamSub := bus.SubscribeCategory(event.CategoryStream)
	defer streamSub.Close()

	// The final message resolves the accumulator into a completed event.
	bus.Emit(event.New(event.CategoryMessage, event.MessageReceivedData{
		SessionID: "ses_1",
		Message:   types.ChatMessage{ID: "msg_9", Role: types.RoleAssistant},
	}))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-streamSub.Events():
			if data, ok := e.Data.(event.StreamCompletedData); ok {
				assert.Equal(t, "hello world", data.FinalContent)
				assert.Empty(t, dir.Accumulated("ses_1", "msg_9"))
				return
			}
		case <-deadline:
			t.Fatal("no stream completed event")
		}
	}
}

func TestChunkEmittedBeforeRunIsNotLost(t *testing.T) {
	dir, bus, _ := newDirectoryFixture(t)

	// The subscription is taken in New, so a chunk emitted before the Run
	// goroutine is scheduled must still be observed once it drains.
	bus.Emit(event.New(event.CategoryStream, event.MessageChunkData{
		SessionID: "ses_1",
		MessageID: "msg_1",
		Chunk:     "early",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dir.Run(ctx)

	require.Eventually(t, func() bool {
		return dir.Accumulated("ses_1", "msg_1") == "early"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshReplacesCache(t *testing.T) {
	dir, _, _ := newDirectoryFixture(t)

	created, err := dir.Create(context.Background(), "on server")
	require.NoError(t, err)

	require.NoError(t, dir.Refresh(context.Background()))
	sessions := dir.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, created.ID, sessions[0].ID)
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	bus := event.NewBus()
	defer bus.Close()
	store := storage.New(t.TempDir())

	gw := gateway.New(config.AuthConfig{}, bus, store)
	defer gw.Close()
	require.NoError(t, gw.Connect(context.Background(), srv.URL))

	dir := New(gw, bus, store)
	created, err := dir.Create(context.Background(), "durable")
	require.NoError(t, err)

	reborn := New(gw, bus, store)
	got, ok := reborn.Session(created.ID)
	require.True(t, ok)
	assert.Equal(t, "durable", got.Title)
}
