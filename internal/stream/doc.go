/*
Package stream consumes the opencode server's /event stream and republishes
its frames on the event bus.

The client maintains a single consumption loop. Frames arrive as
Server-Sent Events, one "data: <json>" line per frame, with the shape
{id, content, role, session_id, is_chunk}. Chunk frames become message
chunk events; complete frames become message received events. Frames with
malformed JSON or an unknown role are dropped and logged, never fatal.

The loop reconnects forever until stopped: one second after a clean stream
end, five seconds after an error (which is also published as an error
event). Stop cancels the loop's context, which unblocks any in-flight read
and ends the loop promptly. A second Start while running fails with
ErrAlreadyStreaming.
*/
package stream
