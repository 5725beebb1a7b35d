/*
Package session maintains the daemon's local view of chat sessions.

The directory mirrors the server's session list, forwards message sends
through the gateway, and folds bus events for streamed assistant output
into per-message accumulated content.

# Lifecycle

New loads the cached snapshot from disk and takes the bus subscriptions, so
no event emitted after construction can be missed. Run, typically started
on its own goroutine, drains those subscriptions until its context is
cancelled:

	dir := session.New(gw, bus, store)
	go dir.Run(ctx)

# Chunk Accumulation

Streamed assistant output arrives as message chunk events. The directory
appends each chunk to an accumulator keyed by session and message; the
content only ever grows until the complete message arrives, at which point
the accumulator is resolved into a stream completed event carrying the
final content and the session cache is updated.

# Persistence

The session list and the active selection are persisted as JSON under the
config directory so a restarted daemon starts from the last known state.
Persistence failures are logged and otherwise ignored.
*/
package session
