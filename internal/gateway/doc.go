/*
Package gateway owns the HTTP connection to an opencode server.

The gateway tracks connection state, injects auth credentials into outgoing
requests, probes server health and remembers previously used servers so the
daemon can reconnect across restarts.

# Connecting

Connect validates and normalizes the server URL, probes GET /app with
retries, and on success records the connection and starts a background
health monitor. TestConnection performs the same probe without touching
shared state, so the UI can validate a URL before committing to it.

Disconnect stops the health monitor and clears the state; requests made
while disconnected fail with a not-connected error.

# Requests

API calls go through typed helpers:

	sessions, err := gateway.Get[[]types.ChatSession](ctx, gw, "/session")
	created, err := gateway.Post[types.ChatSession](ctx, gw, "/session", body)
	err := gateway.Delete(ctx, gw, "/session/"+id)

Regular requests use a 30 second timeout. OpenStream issues a request with
no overall timeout for long-lived SSE consumption; cancellation flows
through the request context.

# Authentication

Three schemes are supported, selected by config: Cloudflare Access service
tokens (CF-Access-Client-Id/Secret headers), bearer API keys and a custom
header/value pair. Credentials are applied to every outgoing request.

# Health

While connected, the gateway probes the server every 30 seconds. A failed
probe degrades the connection status to error without disconnecting; a
later successful probe restores it. Both transitions are announced on the
event bus.

# Saved Connections

Successful connections are persisted as JSON through the storage layer.
Restore picks the most recently used entry and reconnects to it on startup.
*/
package gateway
