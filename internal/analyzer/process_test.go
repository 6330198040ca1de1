package analyzer

import (
	"bufio"
	"errors"
	"io"
	"testing"
	"time"
)

func TestSpawnProcess_MissingExecutable(t *testing.T) {
	_, err := SpawnProcess("/nonexistent/rust-analyzer", nil, "", nil)
	if err == nil {
		t.Fatal("expected error for missing executable")
	}

	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T: %v", err, err)
	}
	if spawnErr.Path != "/nonexistent/rust-analyzer" {
		t.Errorf("SpawnError.Path = %q, want the requested path", spawnErr.Path)
	}
}

func TestSpawnProcess_Lifecycle(t *testing.T) {
	proc, err := SpawnProcess("sh", []string{"-c", "cat"}, "", nil)
	if err != nil {
		t.Fatalf("failed to spawn process: %v", err)
	}

	if proc.State() != ProcessStateRunning {
		t.Errorf("expected state running, got %v", proc.State())
	}
	if !proc.Alive() {
		t.Error("expected Alive() to be true")
	}
	if proc.PID() <= 0 {
		t.Errorf("expected positive PID, got %d", proc.PID())
	}
	if proc.ExitCode() != -1 {
		t.Errorf("expected exit code -1 while running, got %d", proc.ExitCode())
	}

	// cat exits when its stdin closes, so Stop completes within grace.
	if err := proc.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if proc.State() != ProcessStateExited {
		t.Errorf("expected state exited, got %v", proc.State())
	}
	if proc.Alive() {
		t.Error("expected Alive() to be false after exit")
	}
	if proc.ExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", proc.ExitCode())
	}
}

func TestSpawnProcess_StdioRoundTrip(t *testing.T) {
	proc, err := SpawnProcess("cat", nil, "", nil)
	if err != nil {
		t.Fatalf("failed to spawn process: %v", err)
	}
	defer proc.Stop(2 * time.Second)

	if _, err := io.WriteString(proc.Stdin(), "hello backend\n"); err != nil {
		t.Fatalf("write to stdin: %v", err)
	}

	line, err := bufio.NewReader(proc.Stdout()).ReadString('\n')
	if err != nil {
		t.Fatalf("read from stdout: %v", err)
	}
	if line != "hello backend\n" {
		t.Errorf("stdout = %q, want %q", line, "hello backend\n")
	}
}

func TestSpawnProcess_ExitCode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
	}{
		{"success", []string{"-c", "exit 0"}, 0},
		{"failure", []string{"-c", "exit 1"}, 1},
		{"exit 42", []string{"-c", "exit 42"}, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc, err := SpawnProcess("sh", tt.args, "", nil)
			if err != nil {
				t.Fatalf("failed to spawn process: %v", err)
			}

			select {
			case <-proc.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("process did not exit")
			}

			if proc.ExitCode() != tt.wantCode {
				t.Errorf("expected exit code %d, got %d", tt.wantCode, proc.ExitCode())
			}
		})
	}
}

func TestSpawnProcess_StopKillsStubbornProcess(t *testing.T) {
	// A process that ignores stdin close must be killed when grace runs
	// out.
	proc, err := SpawnProcess("sleep", []string{"10"}, "", nil)
	if err != nil {
		t.Fatalf("failed to spawn process: %v", err)
	}

	start := time.Now()
	if err := proc.Stop(100 * time.Millisecond); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop took %v, expected prompt kill after grace", elapsed)
	}

	if proc.State() != ProcessStateExited {
		t.Errorf("expected state exited after Stop, got %v", proc.State())
	}
}

func TestSpawnProcess_StderrTail(t *testing.T) {
	proc, err := SpawnProcess("sh", []string{"-c", "echo first >&2; echo second >&2"}, "", nil)
	if err != nil {
		t.Fatalf("failed to spawn process: %v", err)
	}

	select {
	case <-proc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit")
	}

	// The drain goroutine races process exit briefly.
	deadline := time.Now().Add(time.Second)
	for {
		tail := proc.StderrTail()
		if len(tail) == 2 {
			if tail[0] != "first" || tail[1] != "second" {
				t.Errorf("stderr tail = %v, want [first second]", tail)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("stderr tail = %v, want two lines", tail)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProcessState_String(t *testing.T) {
	tests := []struct {
		state ProcessState
		want  string
	}{
		{ProcessStateCreated, "created"},
		{ProcessStateRunning, "running"},
		{ProcessStateExited, "exited"},
		{ProcessState(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("ProcessState.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSpawnProcess_DoneRemainsClosed(t *testing.T) {
	proc, err := SpawnProcess("true", nil, "", nil)
	if err != nil {
		t.Fatalf("failed to spawn process: %v", err)
	}

	<-proc.Done()

	select {
	case <-proc.Done():
	default:
		t.Error("Done() channel should remain closed after exit")
	}
}
