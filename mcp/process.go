package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fwojciec/crew"
)

// DefaultStopGrace is how long a tool process may take to exit once its
// stdin is closed before it is killed.
const DefaultStopGrace = 2 * time.Second

const (
	stderrTailBytes = 2048
	stderrDrain     = time.Second
	exitSettle      = 250 * time.Millisecond
)

// process is a spawned tool server. The launcher owns it instead of the
// MCP transport so a session can kill it and notice when it exits.
// Methods are safe on a nil *process, which stands for a server that is
// not a child process.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *tailWriter
	grace  time.Duration
	logger *slog.Logger

	exited  chan struct{}
	waitErr error // set before exited is closed

	stopOnce sync.Once
}

func startProcess(spec crew.ProcessSpec, grace time.Duration, logger *slog.Logger) (*process, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.WaitDelay = stderrDrain
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	// stdout is a plain pipe rather than StdoutPipe: Wait must not close
	// it while the transport still reads buffered responses.
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, err
	}
	stderr := &tailWriter{max: stderrTailBytes}
	cmd.Stdout = outW
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = outR.Close()
		_ = outW.Close()
		return nil, err
	}
	_ = outW.Close()

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: outR,
		stderr: stderr,
		grace:  grace,
		logger: logger,
		exited: make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// bind returns a context that is also cancelled when the process exits.
func (p *process) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	if p == nil {
		return ctx, func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-p.exited:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// failure describes how the process ended, or returns nil while it runs.
func (p *process) failure() error {
	if p == nil {
		return nil
	}
	select {
	case <-p.exited:
	default:
		return nil
	}
	err := errors.New("process exited")
	if p.waitErr != nil {
		err = fmt.Errorf("process exited: %w", p.waitErr)
	}
	if tail := strings.TrimSpace(p.stderr.String()); tail != "" {
		err = fmt.Errorf("%w; stderr: %s", err, tail)
	}
	return err
}

// settle waits up to d for the process to exit and returns [process.failure].
// A failed write can surface before the exit of the process that caused it.
func (p *process) settle(d time.Duration) error {
	if p == nil {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.exited:
	case <-t.C:
	}
	return p.failure()
}

// stop closes stdin, waits up to the grace period for the process to
// exit, then kills its process group. It returns once the process is gone.
func (p *process) stop() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() {
		_ = p.stdin.Close()
		t := time.NewTimer(p.grace)
		defer t.Stop()
		select {
		case <-p.exited:
		case <-t.C:
			p.logger.Warn("tool process still running after stdin closed, killing",
				"command", p.cmd.Path, "pid", p.cmd.Process.Pid, "grace", p.grace)
			if err := killProcess(p.cmd); err != nil {
				p.logger.Warn("kill tool process", "pid", p.cmd.Process.Pid, "error", err)
			}
			<-p.exited
		}
		_ = p.stdout.Close()
	})
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (w *tailWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, b...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}
	return len(b), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.ToValidUTF8(string(w.buf), "")
}
