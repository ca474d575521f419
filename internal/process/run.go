package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Defaults applied to zero Spec fields.
const (
	defaultGracefulTimeout = 10 * time.Second
	defaultMaxOutput       = 1 << 20

	// stderrTail is how much stderr an ExitError carries.
	stderrTail = 2048
)

var (
	// ErrStartFailed indicates the binary could not be launched.
	ErrStartFailed = errors.New("process: start failed")

	// ErrCanceled indicates the context ended before the process exited.
	ErrCanceled = errors.New("process: canceled")
)

// ExitError is returned when the process exits with a non-zero status.
type ExitError struct {
	Name   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("process %s exited with status %d", e.Name, e.Code)
	}
	return fmt.Sprintf("process %s exited with status %d: %s", e.Name, e.Code, e.Stderr)
}

// Spec describes one process invocation.
type Spec struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the executable, resolved through PATH when not absolute.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format),
	// appended to the parent environment.
	Env []string

	// WorkDir is the working directory. Empty inherits the parent's.
	WorkDir string

	// Stdin is written to the process and then closed. Nil means no input.
	Stdin []byte

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// MaxOutput caps the bytes kept from each of stdout and stderr.
	MaxOutput int
}

// Result describes a finished process.
type Result struct {
	ExitCode  int
	Stdout    []byte
	Stderr    []byte
	Duration  time.Duration
	Truncated bool
}

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Runner runs processes and logs their lifecycle.
type Runner struct {
	logger Logger
}

// NewRunner creates a Runner that logs nothing until SetLogger is called.
func NewRunner() *Runner {
	return &Runner{logger: noopLogger{}}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Run is shorthand for NewRunner().Run.
func Run(ctx context.Context, spec Spec) (*Result, error) {
	return NewRunner().Run(ctx, spec)
}

// Run starts the process and waits for it to exit.
//
// When ctx ends first the process group receives SIGTERM and, if it is
// still alive after GracefulTimeout, SIGKILL.
//
// Returns:
//   - *Result: always non-nil once the process started
//   - error: ErrStartFailed, ErrCanceled (wrapping ctx.Err()), or
//     *ExitError on a non-zero exit status
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if spec.GracefulTimeout <= 0 {
		spec.GracefulTimeout = defaultGracefulTimeout
	}
	if spec.MaxOutput <= 0 {
		spec.MaxOutput = defaultMaxOutput
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCanceled, spec.Name, err)
	}

	cmd := exec.Command(spec.Binary, spec.Args...) //nolint:gosec // Binary comes from operator configuration

	// New process group so cancellation reaches every child
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if spec.Env != nil {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if spec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}

	stdout := &boundedBuffer{limit: spec.MaxOutput}
	stderr := &boundedBuffer{limit: spec.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.logger.Debug("starting process", "name", spec.Name, "binary", spec.Binary, "args", spec.Args)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStartFailed, spec.Name, err)
	}
	pid := cmd.Process.Pid

	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	var (
		waitErr  error
		canceled bool
	)
	select {
	case waitErr = <-exitCh:
	case <-ctx.Done():
		canceled = true
		waitErr = r.terminate(spec, pid, exitCh)
	}

	res := &Result{
		ExitCode:  exitCode(cmd, waitErr),
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Duration:  time.Since(start),
		Truncated: stdout.truncated || stderr.truncated,
	}

	r.logger.Debug("process exited",
		"name", spec.Name,
		"pid", pid,
		"exit_code", res.ExitCode,
		"duration", res.Duration,
	)

	if canceled {
		return res, fmt.Errorf("%w: %s: %w", ErrCanceled, spec.Name, ctx.Err())
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, fmt.Errorf("waiting for %s: %w", spec.Name, waitErr)
	}
	if res.ExitCode != 0 {
		return res, &ExitError{Name: spec.Name, Code: res.ExitCode, Stderr: tail(res.Stderr, stderrTail)}
	}
	return res, nil
}

// terminate signals the process group with SIGTERM, escalating to SIGKILL
// after the graceful timeout. It returns the Wait error.
func (r *Runner) terminate(spec Spec, pid int, exitCh <-chan error) error {
	r.logger.Info("stopping process", "name", spec.Name, "pid", pid)

	// Negative PID signals the whole group (created via Setpgid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Warn("failed to send SIGTERM to process group", "name", spec.Name, "error", err)
	}

	timer := time.NewTimer(spec.GracefulTimeout)
	defer timer.Stop()

	select {
	case err := <-exitCh:
		return err
	case <-timer.C:
		r.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", spec.Name,
			"timeout", spec.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Error("failed to kill process group", "name", spec.Name, "error", err)
	}
	return <-exitCh
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}

// boundedBuffer keeps the first limit bytes written and discards the rest.
// exec.Cmd copies each stream from a single goroutine.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
