/*
Package event provides the typed pub/sub event system shared by every
component of the daemon.

Publishers emit AppEvents and subscribers react to them without direct
dependencies. The bus keeps direct channel delivery for in-process
subscribers to preserve type information, and mirrors every event onto a
watermill gochannel so out-of-process feeds (SSE, WebSocket) can consume a
serialized stream.

# Event Categories

Events belong to a closed category set:

  - connection: gateway lifecycle (connecting, connected, disconnected,
    error, health)
  - session: session directory changes (created, updated, deleted, selected)
  - message: chat traffic (sent, received, chunk)
  - stream: event stream lifecycle (started, stopped, completed)
  - application: process and daemon lifecycle (started, stopped, exited,
    health, config changed, ready, shutdown)
  - error: component failures carried with retryability

Each category has dedicated payload structs; subscribers type-switch on
Event.Data to recover them.

# Basic Usage

Emitting:

	bus.Emit(event.New(event.CategorySession, event.SessionCreatedData{
		Session: created,
	}))

Subscribing:

	sub := bus.SubscribeCategory(event.CategoryMessage)
	defer sub.Close()
	for e := range sub.Events() {
		if data, ok := e.Data.(event.MessageChunkData); ok {
			handle(data)
		}
	}

Subscribe() without a category receives every event.

# Delivery Semantics

Each subscription owns a bounded queue. Emit never blocks: when a
subscriber's queue is full the oldest event is dropped to make room. Events
are delivered to a given subscriber in emission order. Closed subscriptions
are garbage-collected by CleanupSubscribers, which the daemon runs
periodically.

# External Sink

Sink returns the watermill subscription carrying JSON-serialized events,
with the category in message metadata. The UI bridge consumes it for its
SSE and WebSocket feeds.
*/
package event
