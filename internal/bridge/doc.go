/*
Package bridge provides the local HTTP API that UI clients use to drive the
daemon.

The surface covers process control, connection management, session access
and a live event feed. Handlers are thin: they decode the request, call the
owning component and translate errors through the shared taxonomy into
stable machine-readable codes.

# Routes

	GET  /state/process                read-only supervisor snapshot
	GET  /state/connection             read-only gateway snapshot
	GET  /state/stream                 read-only stream client snapshot
	POST /process/start|stop|restart   process control
	POST /process/config               host/port for the next start
	GET  /process/version              server binary version
	POST /connection/connect|disconnect|test|restore
	GET  /connections                  saved connection registry
	POST /stream/start|stop            event stream control
	     /session...                   session directory operations
	GET  /events                       SSE event feed
	GET  /ws                           WebSocket event feed

# Event Feeds

Both feeds consume the bus's watermill sink. The SSE feed writes one event
per frame with the category as the SSE event name and a heartbeat comment
every 30 seconds. The WebSocket feed pings on the same interval and drops
the connection when the client stops responding. Slow consumers never block
emitters; overflow is handled upstream by the bus's bounded queues.

# Errors

Failures are rendered as JSON with a stable code, the user-facing message
and a retryable flag:

	{"error": {"code": "NOT_CONNECTED", "message": "...", "retryable": false}}
*/
package bridge
