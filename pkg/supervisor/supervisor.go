// Package supervisor brings the engine subprocess online and tracks its
// readiness.
//
// The supervisor owns the engine process handle, its log sink, and the
// readiness state machine. Readiness failure is fatal to the worker: the
// serve command exits nonzero so the hosting platform reschedules a fresh
// instance instead of retrying the launch in place.
package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

// State is the readiness lifecycle state. Transitions are monotonic within
// one process lifetime: Starting → Polling → Ready | Failed.
type State string

const (
	StateStarting State = "starting"
	StatePolling  State = "polling"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// FailureReason distinguishes the two ways readiness can fail.
type FailureReason string

const (
	ReasonTimeout     FailureReason = "timeout"
	ReasonProcessExit FailureReason = "process-exit"
)

// StartupError reports a readiness failure with enough context to diagnose
// from the caller side: the trigger, elapsed time, and the engine log tail.
type StartupError struct {
	Reason   FailureReason
	Elapsed  time.Duration
	LogsTail string
	Err      error
}

func (e *StartupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine startup failed (%s after %s): %v", e.Reason, e.Elapsed.Round(time.Millisecond), e.Err)
	}
	return fmt.Sprintf("engine startup failed (%s after %s)", e.Reason, e.Elapsed.Round(time.Millisecond))
}

func (e *StartupError) Unwrap() error { return e.Err }

// Pinger issues one liveness probe against the engine control endpoint.
type Pinger interface {
	Ping(ctx context.Context, timeout time.Duration) bool
}

// Options configures a Supervisor.
type Options struct {
	// Command is the engine launch argv. Empty means the engine process is
	// managed outside the worker and only polling happens here.
	Command []string

	// LogPath is the engine log sink. Subprocess stdout and stderr are
	// redirected here through a size-capped rotating writer.
	LogPath string

	// PollInterval is the readiness probe cadence. Defaults to 1s.
	PollInterval time.Duration

	// ProbeTimeout bounds a single probe. Defaults to 5s.
	ProbeTimeout time.Duration
}

// Supervisor launches and watches the engine subprocess.
type Supervisor struct {
	pinger Pinger
	opts   Options
	logger *zap.Logger

	mu    sync.Mutex
	state State

	cmd      *exec.Cmd
	sink     *lumberjack.Logger
	procExit chan struct{}
	procErr  error
}

// New returns a Supervisor in the Starting state.
func New(pinger Pinger, opts Options, logger *zap.Logger) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	return &Supervisor{
		pinger: pinger,
		opts:   opts,
		logger: logger,
		state:  StateStarting,
	}
}

// State returns the current readiness state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Ready and Failed are terminal.
	if s.state == StateReady || s.state == StateFailed {
		return
	}
	s.state = next
}

// Launch starts the engine subprocess with output redirected to the log
// sink. A missing command is not an error; the supervisor then only polls.
func (s *Supervisor) Launch() error {
	if len(s.opts.Command) == 0 {
		s.logger.Info("no engine command configured, assuming externally managed engine")
		return nil
	}

	s.sink = &lumberjack.Logger{
		Filename:   s.opts.LogPath,
		MaxSize:    64, // MB
		MaxBackups: 2,
	}

	cmd := exec.Command(s.opts.Command[0], s.opts.Command[1:]...)
	cmd.Stdout = s.sink
	cmd.Stderr = s.sink

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine process: %w", err)
	}
	s.cmd = cmd
	s.procExit = make(chan struct{})

	s.logger.Info("engine process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Strings("command", s.opts.Command),
		zap.String("log_path", s.opts.LogPath))

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.procErr = err
		s.mu.Unlock()
		close(s.procExit)
	}()
	return nil
}

// BringUp polls the engine until it answers, the subprocess dies, or the
// timeout elapses. Probe success transitions to Ready and returns nil; both
// failure paths transition to Failed and return a *StartupError carrying
// the log tail. Process death is reported when it happens, not at the
// deadline.
func (s *Supervisor) BringUp(ctx context.Context, timeout time.Duration) error {
	start := time.Now()
	s.setState(StatePolling)
	s.logger.Info("waiting for engine readiness", zap.Duration("timeout", timeout))

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	bo := backoff.NewConstantBackOff(s.opts.PollInterval)

	for {
		if s.pinger.Ping(ctx, s.opts.ProbeTimeout) {
			s.setState(StateReady)
			s.logger.Info("engine ready", zap.Duration("elapsed", time.Since(start)))
			return nil
		}

		wait := time.NewTimer(bo.NextBackOff())
		select {
		case <-s.procExit:
			wait.Stop()
			return s.fail(ReasonProcessExit, start, s.exitErr())
		case <-deadline.C:
			wait.Stop()
			return s.fail(ReasonTimeout, start, fmt.Errorf("engine not ready within %s", timeout))
		case <-ctx.Done():
			wait.Stop()
			return s.fail(ReasonTimeout, start, ctx.Err())
		case <-wait.C:
		}
	}
}

func (s *Supervisor) exitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.procErr != nil {
		return fmt.Errorf("engine process exited: %w", s.procErr)
	}
	return fmt.Errorf("engine process exited before becoming ready")
}

func (s *Supervisor) fail(reason FailureReason, start time.Time, cause error) error {
	s.setState(StateFailed)
	serr := &StartupError{
		Reason:   reason,
		Elapsed:  time.Since(start),
		LogsTail: s.LogsTail(DefaultTailLines),
		Err:      cause,
	}
	s.logger.Error("engine startup failed",
		zap.String("reason", string(reason)),
		zap.Duration("elapsed", serr.Elapsed),
		zap.Error(cause))
	return serr
}

// LogsTail returns the last n lines of the engine log sink. It is safe to
// call while the subprocess is still writing; the read is best-effort and
// returns a placeholder when the log does not exist yet.
func (s *Supervisor) LogsTail(n int) string {
	return TailFile(s.opts.LogPath, n)
}
