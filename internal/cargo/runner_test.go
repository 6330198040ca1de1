package cargo

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"
)

// fakeCargo writes an executable script that prints the given stdout and
// exits with the given code, standing in for the real cargo binary.
func fakeCargo(t *testing.T, stdout string, exitCode int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not available on windows")
	}

	path := filepath.Join(t.TempDir(), "cargo")
	script := "#!/bin/sh\ncat <<'EOF'\n" + stdout + "\nEOF\n"
	if exitCode != 0 {
		script += "exit " + strconv.Itoa(exitCode) + "\n"
	}
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake cargo: %v", err)
	}
	return path
}

const checkStream = `{"reason":"compiler-artifact","target":{"name":"widget"}}
{"reason":"compiler-message","message":{"level":"warning","rendered":"warning: unused variable: x\n"}}
not json at all
{"reason":"compiler-message","message":{"level":"error","rendered":"error[E0308]: mismatched types\n"}}
{"reason":"build-finished","success":false}`

func TestRunnerCheck_ParsesMessages(t *testing.T) {
	r := NewRunner(fakeCargo(t, checkStream, 1))

	result, err := r.Check(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	if result.Success {
		t.Error("Success = true for nonzero exit")
	}
	if result.Errors != 1 || result.Warnings != 1 {
		t.Errorf("counts = %d errors, %d warnings, want 1 and 1", result.Errors, result.Warnings)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(result.Messages))
	}
	if !strings.HasPrefix(result.Messages[0], "[WARNING] warning: unused variable") {
		t.Errorf("first message = %q", result.Messages[0])
	}
	if !strings.HasPrefix(result.Messages[1], "[ERROR] error[E0308]") {
		t.Errorf("second message = %q", result.Messages[1])
	}
	if result.ID == "" {
		t.Error("run ID is empty")
	}
	if result.Command != "check" {
		t.Errorf("Command = %q, want check", result.Command)
	}
}

func TestRunnerCheck_CleanRun(t *testing.T) {
	r := NewRunner(fakeCargo(t, `{"reason":"build-finished","success":true}`, 0))

	result, err := r.Check(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	if !result.Success {
		t.Error("Success = false for zero exit")
	}
	if result.Errors != 0 || result.Warnings != 0 || len(result.Messages) != 0 {
		t.Errorf("clean run reported issues: %+v", result)
	}
	want := "✅ Cargo check completed successfully - no issues found"
	if result.Summary() != want {
		t.Errorf("Summary() = %q, want %q", result.Summary(), want)
	}
}

func TestRunnerClippy_Command(t *testing.T) {
	r := NewRunner(fakeCargo(t, `{"reason":"compiler-message","message":{"level":"warning","rendered":"warning: clippy::needless_return\n"}}`, 0))

	result, err := r.Clippy(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Clippy: %v", err)
	}

	if result.Command != "clippy" {
		t.Errorf("Command = %q, want clippy", result.Command)
	}
	want := "✅ Cargo clippy completed with 1 warning(s)"
	if result.Summary() != want {
		t.Errorf("Summary() = %q, want %q", result.Summary(), want)
	}
}

func TestRunner_MissingBinary(t *testing.T) {
	r := NewRunner(filepath.Join(t.TempDir(), "no-such-cargo"))

	if _, err := r.Check(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error for missing cargo binary")
	}
}

func TestRunner_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not available on windows")
	}
	path := filepath.Join(t.TempDir(), "cargo")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 10\n"), 0o755); err != nil {
		t.Fatalf("writing fake cargo: %v", err)
	}

	_, err := NewRunner(path).Check(ctx, t.TempDir())
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestRunResultReport(t *testing.T) {
	withMessages := &RunResult{
		Command:  "check",
		Errors:   1,
		Messages: []string{"[ERROR] error: oops"},
	}
	report := withMessages.Report()
	if !strings.Contains(report, "❌ Cargo check failed with 1 error(s) and 0 warning(s)") {
		t.Errorf("report missing failure summary:\n%s", report)
	}
	if !strings.Contains(report, "Messages:\n[ERROR] error: oops") {
		t.Errorf("report missing messages:\n%s", report)
	}

	noMessages := &RunResult{Command: "check", Success: true, Stderr: "Finished dev profile"}
	report = noMessages.Report()
	if !strings.Contains(report, "Stderr: Finished dev profile") {
		t.Errorf("report missing stderr fallback:\n%s", report)
	}
}

func TestParseMessages_SkipsArtifactsAndGarbage(t *testing.T) {
	var result RunResult
	parseMessages(checkStream, &result)

	if result.Errors != 1 || result.Warnings != 1 || len(result.Messages) != 2 {
		t.Errorf("parseMessages = %+v, want 1 error, 1 warning, 2 messages", result)
	}
}
