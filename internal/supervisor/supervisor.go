package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-nexus/nexus/internal/apperr"
	"github.com/opencode-nexus/nexus/internal/config"
	"github.com/opencode-nexus/nexus/internal/event"
	"github.com/opencode-nexus/nexus/internal/logging"
)

const (
	// monitorInterval is how often the monitor loop reports process health.
	monitorInterval = 5 * time.Second

	// stopGracePeriod is how long a stopped process gets to exit after
	// SIGTERM before it is killed.
	stopGracePeriod = 5 * time.Second

	// restartSettleDelay separates the stop and start halves of a restart so
	// the OS can release the listening port.
	restartSettleDelay = 1 * time.Second
)

// Supervisor owns a single opencode server process. All methods are safe for
// concurrent use. The mutex is never held across process or network waits.
type Supervisor struct {
	bus *event.Bus
	log zerolog.Logger

	mu            sync.Mutex
	info          Info
	cmd           *exec.Cmd
	exitCh        chan error
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// New creates a supervisor for the configured server binary. The process is
// not started until Start is called.
func New(cfg config.ServerConfig, bus *event.Bus) *Supervisor {
	return &Supervisor{
		bus: bus,
		log: logging.With("supervisor"),
		info: Info{
			State:      StateStopped,
			Host:       cfg.Host,
			Port:       cfg.Port,
			BinaryPath: cfg.BinaryPath,
		},
	}
}

// Info returns a snapshot of the current process state.
func (s *Supervisor) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.info
	if info.StartedAt != nil {
		t := *info.StartedAt
		info.StartedAt = &t
	}
	return info
}

// IsRunning reports whether the process is currently running.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.State == StateRunning
}

// BaseURL returns the HTTP URL the supervised server listens on.
func (s *Supervisor) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("http://%s:%d", s.info.Host, s.info.Port)
}

// Start spawns the server process. It fails with ErrAlreadyRunning when a
// process is already running or starting, ErrBinaryNotFound when the binary
// cannot be resolved and ErrPortInUse when the port is taken.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.info.State == StateRunning || s.info.State == StateStarting {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	binary, err := resolveBinary(s.info.BinaryPath)
	if err != nil {
		s.info.State = StateError
		s.info.LastError = err.Error()
		s.mu.Unlock()
		s.emitError(err, false)
		return err
	}

	host := s.info.Host
	port := s.info.Port
	s.info.State = StateStarting
	s.info.LastError = ""
	s.mu.Unlock()

	if err := checkPortAvailable(host, port); err != nil {
		s.setError(err)
		s.emitError(err, false)
		return err
	}

	cmd := exec.Command(binary, "serve", "--hostname", host, "--port", strconv.Itoa(port))
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("failed to start server process: %w", err)
		s.setError(err)
		s.emitError(err, false)
		return err
	}

	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	now := time.Now()
	monitorCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cmd = cmd
	s.exitCh = exitCh
	s.monitorCancel = cancel
	s.monitorDone = done
	s.info.State = StateRunning
	s.info.PID = cmd.Process.Pid
	s.info.StartedAt = &now
	s.mu.Unlock()

	s.log.Info().Int("pid", cmd.Process.Pid).Str("host", host).Int("port", port).Msg("server process started")
	s.bus.Emit(event.New(event.CategoryApplication, event.ProcessStartedData{
		PID:  cmd.Process.Pid,
		Host: host,
		Port: port,
	}))

	go s.monitor(monitorCtx, exitCh, done)
	return nil
}

// Stop terminates the process gracefully. SIGTERM is sent first; if the
// process has not exited within the grace period it is killed. Stop is a
// no-op when the process is not running.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.info.State != StateRunning && s.info.State != StateError {
		s.mu.Unlock()
		return nil
	}
	cmd := s.cmd
	exitCh := s.exitCh
	cancel := s.monitorCancel
	done := s.monitorDone
	s.cmd = nil
	s.exitCh = nil
	s.monitorCancel = nil
	s.monitorDone = nil
	s.info.State = StateStopping
	s.mu.Unlock()

	// Detach the monitor first so the exit is not reported as a crash.
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		s.log.Info().Int("pid", pid).Msg("stopping server process")
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.log.Warn().Err(err).Int("pid", pid).Msg("SIGTERM failed, killing")
			cmd.Process.Kill()
		}
		select {
		case <-exitCh:
		case <-time.After(stopGracePeriod):
			s.log.Warn().Int("pid", pid).Msg("server did not exit in time, sending SIGKILL")
			cmd.Process.Kill()
			<-exitCh
		case <-ctx.Done():
			cmd.Process.Kill()
			<-exitCh
		}
	}

	s.mu.Lock()
	s.info.State = StateStopped
	s.info.PID = 0
	s.info.StartedAt = nil
	s.mu.Unlock()

	s.bus.Emit(event.New(event.CategoryApplication, event.ProcessStoppedData{}))
	s.log.Info().Msg("server process stopped")
	return nil
}

// Restart stops the process if running, waits briefly for the port to free
// up and starts it again.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	select {
	case <-time.After(restartSettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Start(ctx)
}

// UpdateConfig changes the host and port the next Start will use. It is
// rejected while the process is running or starting.
func (s *Supervisor) UpdateConfig(host string, port int) error {
	if port < 1024 || port > 65535 {
		return apperr.Validation("port", "must be between 1024 and 65535")
	}
	if host == "" {
		return apperr.Validation("host", "must not be empty")
	}

	s.mu.Lock()
	if s.info.State == StateRunning || s.info.State == StateStarting {
		s.mu.Unlock()
		return ErrInvalidState
	}
	s.info.Host = host
	s.info.Port = port
	s.mu.Unlock()

	s.bus.Emit(event.New(event.CategoryApplication, event.ConfigChangedData{
		Key:   "server_address",
		Value: fmt.Sprintf("%s:%d", host, port),
	}))
	return nil
}

// Version runs the server binary with --version and returns the trimmed
// output. It does not require the process to be running.
func (s *Supervisor) Version(ctx context.Context) (string, error) {
	s.mu.Lock()
	binaryPath := s.info.BinaryPath
	s.mu.Unlock()

	binary, err := resolveBinary(binaryPath)
	if err != nil {
		return "", err
	}
	out, err := exec.CommandContext(ctx, binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to read server version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// monitor watches for the process exiting on its own and reports periodic
// health while it runs. It returns when the supervisor detaches it (clean
// stop) or when the process exits.
func (s *Supervisor) monitor(ctx context.Context, exitCh chan error, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-exitCh:
			s.mu.Lock()
			if s.info.State != StateRunning {
				// A concurrent Stop owns the shutdown. Hand the exit result
				// back so its wait on exitCh completes; the channel is
				// buffered and this is its only value.
				s.mu.Unlock()
				exitCh <- err
				return
			}
			msg := "server process exited unexpectedly"
			if err != nil {
				msg = fmt.Sprintf("server process exited unexpectedly: %v", err)
			}
			s.info.State = StateError
			s.info.LastError = msg
			s.info.PID = 0
			s.info.StartedAt = nil
			s.cmd = nil
			s.exitCh = nil
			s.mu.Unlock()

			s.log.Error().Err(err).Msg("server process exited unexpectedly")
			s.bus.Emit(event.New(event.CategoryApplication, event.ProcessExitedData{Error: msg}))
			s.emitError(fmt.Errorf("%s", msg), true)
			return

		case <-ticker.C:
			info := s.Info()
			if info.State != StateRunning {
				continue
			}
			s.bus.Emit(event.New(event.CategoryApplication, event.ProcessHealthData{
				PID:    info.PID,
				Uptime: info.Uptime().Round(time.Second).String(),
			}))
		}
	}
}

func (s *Supervisor) setError(err error) {
	s.mu.Lock()
	s.info.State = StateError
	s.info.LastError = err.Error()
	s.mu.Unlock()
}

func (s *Supervisor) emitError(err error, retryable bool) {
	s.bus.Emit(event.New(event.CategoryError, event.ErrorData{
		Error:     err.Error(),
		Component: "supervisor",
		Retryable: retryable,
	}))
}

// resolveBinary locates the server binary. Paths containing a separator are
// checked on disk; bare names are resolved through PATH.
func resolveBinary(path string) (string, error) {
	if strings.ContainsRune(path, os.PathSeparator) {
		fi, err := os.Stat(path)
		if err != nil || fi.IsDir() {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, path)
		}
		return path, nil
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, path)
	}
	return resolved, nil
}

// checkPortAvailable verifies the port can be bound before handing it to the
// child process, surfacing conflicts as a start failure instead of a crash.
func checkPortAvailable(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("%w: %s:%d", ErrPortInUse, host, port)
	}
	ln.Close()
	return nil
}
