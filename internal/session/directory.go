package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-nexus/nexus/internal/apperr"
	"github.com/opencode-nexus/nexus/internal/event"
	"github.com/opencode-nexus/nexus/internal/gateway"
	"github.com/opencode-nexus/nexus/internal/logging"
	"github.com/opencode-nexus/nexus/internal/storage"
	"github.com/opencode-nexus/nexus/pkg/types"
)

const (
	sessionsKey    = "sessions"
	snapshotKey    = "snapshot"
	stateKey       = "state"
	activeKey      = "active_session"
	sessionPath    = "/session"
	maxTitleLength = 200
)

// sendMessageRequest is the wire payload for posting a message.
type sendMessageRequest struct {
	Parts []messagePart `json:"parts"`
}

type messagePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Directory is the authoritative local session registry. All methods are
// safe for concurrent use.
type Directory struct {
	gw    *gateway.Gateway
	bus   *event.Bus
	store *storage.Store
	log   zerolog.Logger

	msgSub    *event.Subscription
	streamSub *event.Subscription

	mu       sync.RWMutex
	sessions map[string]types.ChatSession
	activeID string
	accum    map[string]*strings.Builder
}

// New creates a directory and loads any cached snapshot from disk. The bus
// subscriptions are taken here so no event emitted after New can be missed,
// even when Run is started on its own goroutine later.
func New(gw *gateway.Gateway, bus *event.Bus, store *storage.Store) *Directory {
	d := &Directory{
		gw:        gw,
		bus:       bus,
		store:     store,
		log:       logging.With("session"),
		msgSub:    bus.SubscribeCategory(event.CategoryMessage),
		streamSub: bus.SubscribeCategory(event.CategoryStream),
		sessions:  make(map[string]types.ChatSession),
		accum:     make(map[string]*strings.Builder),
	}
	d.loadCache()
	return d
}

// Refresh replaces the local session list with the server's.
func (d *Directory) Refresh(ctx context.Context) error {
	sessions, err := gateway.Get[[]types.ChatSession](ctx, d.gw, sessionPath)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.sessions = make(map[string]types.ChatSession, len(sessions))
	for _, s := range sessions {
		d.sessions[s.ID] = s
	}
	d.mu.Unlock()

	d.persistCache(ctx)
	return nil
}

// Sessions returns the known sessions ordered most recently updated first.
func (d *Directory) Sessions() []types.ChatSession {
	d.mu.RLock()
	out := make([]types.ChatSession, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Session looks up a session by ID.
func (d *Directory) Session(id string) (types.ChatSession, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	return s, ok
}

// Create starts a new session on the server and records it locally.
func (d *Directory) Create(ctx context.Context, title string) (types.ChatSession, error) {
	title = strings.TrimSpace(title)
	if len(title) > maxTitleLength {
		return types.ChatSession{}, apperr.Validation("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}

	body := map[string]string{}
	if title != "" {
		body["title"] = title
	}
	created, err := gateway.Post[types.ChatSession](ctx, d.gw, sessionPath, body)
	if err != nil {
		return types.ChatSession{}, err
	}

	d.mu.Lock()
	d.sessions[created.ID] = created
	d.mu.Unlock()

	d.bus.Emit(event.New(event.CategorySession, event.SessionCreatedData{Session: created}))
	d.persistCache(ctx)
	return created, nil
}

// Delete removes a session on the server and locally. The active selection
// is cleared when it pointed at the deleted session.
func (d *Directory) Delete(ctx context.Context, id string) error {
	if err := gateway.Delete(ctx, d.gw, sessionPath+"/"+id); err != nil {
		return err
	}

	d.mu.Lock()
	delete(d.sessions, id)
	if d.activeID == id {
		d.activeID = ""
	}
	for key := range d.accum {
		if strings.HasPrefix(key, id+"/") {
			delete(d.accum, key)
		}
	}
	d.mu.Unlock()

	d.bus.Emit(event.New(event.CategorySession, event.SessionDeletedData{SessionID: id}))
	d.persistCache(ctx)
	return nil
}

// Select marks a session as the active one for the UI.
func (d *Directory) Select(ctx context.Context, id string) error {
	d.mu.Lock()
	if _, ok := d.sessions[id]; !ok {
		d.mu.Unlock()
		return apperr.Session(id, "unknown session")
	}
	d.activeID = id
	d.mu.Unlock()

	if err := d.store.Put(ctx, []string{stateKey, activeKey}, id); err != nil {
		d.log.Warn().Err(err).Msg("failed to persist active session")
	}
	d.bus.Emit(event.New(event.CategorySession, event.SessionSelectedData{SessionID: id}))
	return nil
}

// ActiveID returns the selected session ID, or empty when none is selected.
func (d *Directory) ActiveID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.activeID
}

// Messages fetches the message history of a session from the server.
func (d *Directory) Messages(ctx context.Context, id string) ([]types.ChatMessage, error) {
	return gateway.Get[[]types.ChatMessage](ctx, d.gw, sessionPath+"/"+id+"/message")
}

// Send posts a user message to a session.
func (d *Directory) Send(ctx context.Context, id, text string) (types.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.ChatMessage{}, apperr.Validation("content", "must not be empty")
	}

	sent, err := gateway.Post[types.ChatMessage](ctx, d.gw, sessionPath+"/"+id+"/message", sendMessageRequest{
		Parts: []messagePart{{Type: "text", Text: text}},
	})
	if err != nil {
		return types.ChatMessage{}, err
	}
	if sent.ID == "" {
		sent = types.ChatMessage{
			ID:        event.NewID(),
			Role:      types.RoleUser,
			Content:   text,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
	}

	d.applyMessage(id, sent)
	d.bus.Emit(event.New(event.CategoryMessage, event.MessageSentData{SessionID: id, Message: sent}))
	return sent, nil
}

// Accumulated returns the streamed content gathered so far for a message.
func (d *Directory) Accumulated(sessionID, messageID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if b, ok := d.accum[sessionID+"/"+messageID]; ok {
		return b.String()
	}
	return ""
}

// Run drains the message and stream subscriptions taken in New until the
// context is cancelled. It keeps the session cache and chunk accumulators up
// to date.
func (d *Directory) Run(ctx context.Context) {
	defer d.msgSub.Close()
	defer d.streamSub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-d.msgSub.Events():
			if !ok {
				return
			}
			if data, ok := e.Data.(event.MessageReceivedData); ok {
				d.handleReceived(data)
			}
		case e, ok := <-d.streamSub.Events():
			if !ok {
				return
			}
			if data, ok := e.Data.(event.MessageChunkData); ok {
				d.handleChunk(data)
			}
		}
	}
}

// handleChunk appends streamed content. Accumulation only ever grows until
// the full message arrives.
func (d *Directory) handleChunk(data event.MessageChunkData) {
	d.mu.Lock()
	key := data.SessionID + "/" + data.MessageID
	b, ok := d.accum[key]
	if !ok {
		b = &strings.Builder{}
		d.accum[key] = b
	}
	b.WriteString(data.Chunk)
	d.mu.Unlock()
}

// handleReceived finalizes a message: any chunk accumulator for it is
// resolved into a stream-completed event and the session cache is updated.
func (d *Directory) handleReceived(data event.MessageReceivedData) {
	key := data.SessionID + "/" + data.Message.ID

	d.mu.Lock()
	var final string
	if b, ok := d.accum[key]; ok {
		final = b.String()
		delete(d.accum, key)
	}
	d.mu.Unlock()

	if data.Message.Content != "" {
		final = data.Message.Content
	}

	if final != "" {
		d.bus.Emit(event.New(event.CategoryStream, event.StreamCompletedData{
			SessionID:    data.SessionID,
			MessageID:    data.Message.ID,
			FinalContent: final,
		}))
	}

	msg := data.Message
	msg.Content = final
	d.applyMessage(data.SessionID, msg)
}

// applyMessage folds a finalized message into the cached session and
// announces the update.
func (d *Directory) applyMessage(sessionID string, msg types.ChatMessage) {
	d.mu.Lock()
	s, ok := d.sessions[sessionID]
	if !ok {
		s = types.ChatSession{ID: sessionID}
	}
	s.MessageCount++
	s.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	m := msg
	s.LastMessage = &m
	d.sessions[sessionID] = s
	d.mu.Unlock()

	d.bus.Emit(event.New(event.CategorySession, event.SessionUpdatedData{Session: s}))
	d.persistCache(context.Background())
}

// loadCache restores the session snapshot and active selection from disk.
func (d *Directory) loadCache() {
	ctx := context.Background()

	var snapshot []types.ChatSession
	if err := d.store.Get(ctx, []string{sessionsKey, snapshotKey}, &snapshot); err == nil {
		d.mu.Lock()
		for _, s := range snapshot {
			d.sessions[s.ID] = s
		}
		d.mu.Unlock()
	}

	var active string
	if err := d.store.Get(ctx, []string{stateKey, activeKey}, &active); err == nil && active != "" {
		d.mu.Lock()
		if _, ok := d.sessions[active]; ok {
			d.activeID = active
		}
		d.mu.Unlock()
	}
}

// persistCache writes the current session list to disk. Failures are logged
// and otherwise ignored.
func (d *Directory) persistCache(ctx context.Context) {
	snapshot := d.Sessions()
	if err := d.store.Put(ctx, []string{sessionsKey, snapshotKey}, snapshot); err != nil {
		d.log.Warn().Err(err).Msg("failed to persist session cache")
	}
}
