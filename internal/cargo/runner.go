package cargo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/uuid"
)

// Runner executes cargo subcommands in a workspace and parses their
// JSON message streams.
type Runner struct {
	cargoPath string
}

// NewRunner creates a runner that invokes the given cargo binary. An empty
// path falls back to "cargo" resolved from PATH.
func NewRunner(cargoPath string) *Runner {
	if cargoPath == "" {
		cargoPath = "cargo"
	}
	return &Runner{cargoPath: cargoPath}
}

// RunResult is the outcome of a cargo check or clippy run.
type RunResult struct {
	// ID uniquely identifies this run in logs and tool output.
	ID string `json:"id"`
	// Command is the cargo subcommand that ran, "check" or "clippy".
	Command string `json:"command"`
	// Success reports whether cargo exited zero.
	Success bool `json:"success"`
	// Errors and Warnings count compiler messages by level.
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	// Messages holds the rendered compiler messages in emission order.
	Messages []string `json:"messages,omitempty"`
	// Stderr is cargo's raw stderr, kept for runs that produced no messages.
	Stderr string `json:"-"`
}

// cargoMessage is one line of cargo's --message-format=json stream. Only
// compiler-message entries matter here; build-script and artifact entries
// are skipped.
type cargoMessage struct {
	Reason  string `json:"reason"`
	Message struct {
		Level    string `json:"level"`
		Rendered string `json:"rendered"`
	} `json:"message"`
}

// Check runs `cargo check --message-format=json` in workspaceDir.
func (r *Runner) Check(ctx context.Context, workspaceDir string) (*RunResult, error) {
	return r.run(ctx, workspaceDir, "check", "--message-format=json")
}

// Clippy runs clippy across all targets with the full lint set enabled.
func (r *Runner) Clippy(ctx context.Context, workspaceDir string) (*RunResult, error) {
	return r.run(ctx, workspaceDir, "clippy", "--all-targets", "--message-format=json", "--", "-W", "clippy::all")
}

func (r *Runner) run(ctx context.Context, workspaceDir, subcommand string, extra ...string) (*RunResult, error) {
	args := append([]string{subcommand}, extra...)

	cmd := exec.CommandContext(ctx, r.cargoPath, args...)
	cmd.Dir = workspaceDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// A nonzero exit is a result, not a failure to run; everything
		// else (missing binary, bad workspace dir, canceled context)
		// aborts the run.
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("running cargo %s: %w", subcommand, err)
		}
	}

	result := &RunResult{
		ID:      uuid.New().String(),
		Command: subcommand,
		Success: err == nil,
		Stderr:  stderr.String(),
	}
	parseMessages(stdout.String(), result)

	return result, nil
}

// parseMessages scans a --message-format=json stream line by line, counting
// error and warning compiler messages and collecting their rendered text.
// Lines that are not valid JSON are skipped; cargo interleaves progress
// output on some configurations.
func parseMessages(stream string, result *RunResult) {
	for _, line := range strings.Split(stream, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var msg cargoMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Reason != "compiler-message" || msg.Message.Rendered == "" {
			continue
		}

		switch msg.Message.Level {
		case "error":
			result.Errors++
		case "warning":
			result.Warnings++
		}
		result.Messages = append(result.Messages,
			fmt.Sprintf("[%s] %s", strings.ToUpper(msg.Message.Level), strings.TrimRight(msg.Message.Rendered, "\n")))
	}
}

// Summary is a one-line verdict for the run.
func (r *RunResult) Summary() string {
	if r.Success {
		if r.Warnings > 0 {
			return fmt.Sprintf("✅ Cargo %s completed with %d warning(s)", r.Command, r.Warnings)
		}
		return fmt.Sprintf("✅ Cargo %s completed successfully - no issues found", r.Command)
	}
	return fmt.Sprintf("❌ Cargo %s failed with %d error(s) and %d warning(s)", r.Command, r.Errors, r.Warnings)
}

// Report renders the full run outcome: the summary verdict followed by the
// compiler messages, or stderr when the run produced no messages.
func (r *RunResult) Report() string {
	if len(r.Messages) == 0 {
		return fmt.Sprintf("%s\n\nStderr: %s", r.Summary(), r.Stderr)
	}
	return fmt.Sprintf("%s\n\nMessages:\n%s", r.Summary(), strings.Join(r.Messages, "\n"))
}
