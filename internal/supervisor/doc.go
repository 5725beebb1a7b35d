/*
Package supervisor manages the lifecycle of a local opencode server process.

The supervisor spawns the configured server binary, tracks its state,
watches for unexpected exits and tears the process down gracefully on stop.

# State Machine

A process is always in exactly one state:

	stopped -> starting -> running -> stopping -> stopped
	                          |
	                          v
	                        error

Transitions are serialized: concurrent Start calls race for the lock and
the loser fails with ErrAlreadyRunning; Stop on a non-running process is a
no-op. An unexpected child exit moves the state to error without crashing
the daemon, and a later Start recovers from it.

# Monitoring

While the process runs, a monitor goroutine watches for the child exiting
on its own and reports periodic health on the event bus. The monitor is
detached before a deliberate stop so a clean shutdown is never reported as
a crash.

# Stopping

Stop sends SIGTERM first and escalates to SIGKILL when the process has not
exited within the grace period. The child is placed in its own process
group at spawn so signals do not leak to the daemon.

# Events

Lifecycle changes are published on the event bus as application events:
process started, stopped, exited (with the exit error), periodic health
and config changes.
*/
package supervisor
