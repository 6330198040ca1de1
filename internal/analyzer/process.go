package analyzer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessState represents the lifecycle state of the backend process.
type ProcessState int

const (
	// ProcessStateCreated indicates the process has been configured but
	// not started.
	ProcessStateCreated ProcessState = iota
	// ProcessStateRunning indicates the process is currently running.
	ProcessStateRunning
	// ProcessStateExited indicates the process has exited.
	ProcessStateExited
)

// String returns a human-readable state name.
func (s ProcessState) String() string {
	switch s {
	case ProcessStateCreated:
		return "created"
	case ProcessStateRunning:
		return "running"
	case ProcessStateExited:
		return "exited"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process owns the backend child process: its three standard streams and
// its lifecycle. It never interprets stream contents; framing and
// protocol semantics live in Transport and Client.
//
// Process is safe for concurrent use. The state and exit code use atomic
// operations; exitErr is guarded by mu.
type Process struct {
	// Path is the executable that was (or will be) launched.
	Path string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// done is closed when the process exits.
	done chan struct{}

	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error

	// stderrTail retains the last lines the backend wrote to stderr,
	// for post-mortem diagnostics only.
	stderrMu   sync.Mutex
	stderrTail []string

	waitOnce sync.Once
}

const stderrTailLines = 50

// SpawnProcess launches the backend executable with all three standard
// streams piped. Returns *SpawnError if the executable cannot be
// launched.
func SpawnProcess(path string, args []string, workDir string, env map[string]string) (*Process, error) {
	cmd := exec.Command(path, args...)

	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if workDir != "" {
		cmd.Dir = workDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &SpawnError{Path: path, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, &SpawnError{Path: path, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, &SpawnError{Path: path, Err: err}
	}

	p := &Process{
		Path:   path,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	p.state.Store(int32(ProcessStateRunning))
	p.exitCode.Store(-1)

	// Drain stderr so an unread pipe can never block the backend, and
	// keep a short tail for diagnostics.
	go p.drainStderr()
	go p.waitLoop()

	return p, nil
}

// Stdin returns the write side of the backend's standard input.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Stdout returns the read side of the backend's standard output.
func (p *Process) Stdout() io.Reader { return p.stdout }

// State returns the current process state.
func (p *Process) State() ProcessState {
	return ProcessState(p.state.Load())
}

// Alive reports liveness without blocking.
func (p *Process) Alive() bool {
	return p.State() == ProcessStateRunning
}

// Done returns a channel closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code, or -1 if the process has not exited.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// PID returns the process id, or -1 if not started.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// StderrTail returns the most recent lines the backend wrote to its
// standard error stream.
func (p *Process) StderrTail() []string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	tail := make([]string, len(p.stderrTail))
	copy(tail, p.stderrTail)
	return tail
}

// Stop requests shutdown and enforces it. The protocol-level shutdown
// handshake is the caller's job and should already have happened; Stop
// closes stdin (the conventional exit signal for a stdio backend), waits
// up to grace for the process to leave on its own, then kills it.
func (p *Process) Stop(grace time.Duration) error {
	if p.State() == ProcessStateExited {
		return nil
	}

	p.stdin.Close()

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill process: %w", err)
		}
	}

	<-p.done
	return nil
}

// waitLoop reaps the process and records its exit.
func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()

		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()

		code := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}

		p.exitCode.Store(int32(code))
		p.state.Store(int32(ProcessStateExited))
		close(p.done)
	})
}

// drainStderr consumes the backend's stderr into a bounded tail buffer.
func (p *Process) drainStderr() {
	scanner := bufio.NewScanner(p.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.stderrMu.Lock()
		p.stderrTail = append(p.stderrTail, line)
		if len(p.stderrTail) > stderrTailLines {
			p.stderrTail = p.stderrTail[len(p.stderrTail)-stderrTailLines:]
		}
		p.stderrMu.Unlock()
	}
}
