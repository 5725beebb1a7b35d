package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/opencode-nexus/nexus/pkg/types"
)

const connectionsKey = "connections"

// SaveConnection stores a server in the registry under its name so it can be
// reconnected later.
func (g *Gateway) SaveConnection(ctx context.Context, conn types.ServerConnection) error {
	if conn.Name == "" {
		conn.Name = fmt.Sprintf("%s-%d", conn.Hostname, conn.Port)
	}
	return g.store.Put(ctx, []string{connectionsKey, conn.Name}, conn)
}

// ListConnections returns all saved connections.
func (g *Gateway) ListConnections(ctx context.Context) ([]types.ServerConnection, error) {
	keys, err := g.store.List(ctx, []string{connectionsKey})
	if err != nil {
		return nil, err
	}

	conns := make([]types.ServerConnection, 0, len(keys))
	for _, key := range keys {
		var conn types.ServerConnection
		if err := g.store.Get(ctx, []string{connectionsKey, key}, &conn); err != nil {
			g.log.Warn().Err(err).Str("name", key).Msg("skipping unreadable saved connection")
			continue
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

// DeleteConnection removes a saved connection. Deleting an unknown name is
// not an error.
func (g *Gateway) DeleteConnection(ctx context.Context, name string) error {
	return g.store.Delete(ctx, []string{connectionsKey, name})
}

// Restore reconnects to the most recently used saved connection. It returns
// nil without connecting when the registry is empty.
func (g *Gateway) Restore(ctx context.Context) error {
	conns, err := g.ListConnections(ctx)
	if err != nil {
		return err
	}

	var latest *types.ServerConnection
	var latestAt time.Time
	for i := range conns {
		at, err := time.Parse(time.RFC3339, conns[i].LastConnected)
		if err != nil {
			continue
		}
		if latest == nil || at.After(latestAt) {
			latest = &conns[i]
			latestAt = at
		}
	}
	if latest == nil {
		return nil
	}

	g.log.Info().Str("server", latest.URL()).Msg("restoring previous connection")
	return g.Connect(ctx, latest.URL())
}

// rememberConnection records a successful connect in the registry.
func (g *Gateway) rememberConnection(ctx context.Context, serverURL string, at time.Time) error {
	u, err := url.Parse(serverURL)
	if err != nil {
		return err
	}
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	}
	return g.SaveConnection(ctx, types.ServerConnection{
		Name:          fmt.Sprintf("%s-%d", u.Hostname(), port),
		Hostname:      u.Hostname(),
		Port:          port,
		Secure:        u.Scheme == "https",
		LastConnected: at.Format(time.RFC3339),
	})
}
