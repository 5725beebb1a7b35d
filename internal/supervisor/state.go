package supervisor

import (
	"errors"
	"time"
)

// State is the lifecycle phase of the managed server process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Info is a point-in-time snapshot of the supervised process. Callers get a
// copy, so mutating it has no effect on the supervisor.
type Info struct {
	State      State      `json:"state"`
	PID        int        `json:"pid,omitempty"`
	Host       string     `json:"host"`
	Port       int        `json:"port"`
	BinaryPath string     `json:"binary_path"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Uptime returns how long the process has been running, or zero when it is
// not running.
func (i Info) Uptime() time.Duration {
	if i.State != StateRunning || i.StartedAt == nil {
		return 0
	}
	return time.Since(*i.StartedAt)
}

var (
	// ErrAlreadyRunning is returned by Start when the process is already
	// running or starting.
	ErrAlreadyRunning = errors.New("server process is already running")

	// ErrInvalidState is returned by operations that require the process to
	// be stopped first.
	ErrInvalidState = errors.New("operation not allowed while server is running")

	// ErrBinaryNotFound is returned by Start when the configured binary does
	// not exist or is not executable.
	ErrBinaryNotFound = errors.New("server binary not found")

	// ErrPortInUse is returned by Start when the configured port is already
	// bound by another process.
	ErrPortInUse = errors.New("port is already in use")
)
