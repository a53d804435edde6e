// Package sandbox executes planner-submitted Python snippets in an
// isolated subprocess. A snippet first passes the static gate, then runs
// as a generated plan script inside an ephemeral workspace under a hard
// wall-clock timeout. The only way back into the runtime is the per-run
// IPC server, which authenticates every tool call and routes it through
// the same dispatcher tool steps use.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/models"
)

// Sentinel marks the final stdout line carrying the plan's JSON result.
const Sentinel = "___TB_RESULT___"

// killWait bounds how long Wait may block on lingering pipe holders
// after the process group is killed.
const killWait = 5 * time.Second

// Runner executes plan scripts with the configured interpreter.
type Runner struct {
	pythonPath string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewRunner builds a runner; nil or zero-valued config fields fall back
// to the sandbox defaults.
func NewRunner(cfg *config.SandboxConfig) *Runner {
	defaults := config.DefaultSandboxConfig()
	if cfg == nil {
		cfg = defaults
	}

	r := &Runner{
		pythonPath: cfg.PythonPath,
		timeout:    cfg.Timeout,
		logger:     slog.Default().With("component", "sandbox-runner"),
	}
	if r.pythonPath == "" {
		r.pythonPath = defaults.PythonPath
	}
	if r.timeout <= 0 {
		r.timeout = defaults.Timeout
	}
	return r
}

// Timeout returns the configured wall-clock limit per run.
func (r *Runner) Timeout() time.Duration { return r.timeout }

// Run executes the plan script in workdir and parses the sentinel
// protocol from its output. Failures are reported in the result, never
// as Go errors; the caller classifies them into step error codes.
func (r *Runner) Run(ctx context.Context, planPath, workdir string, extraEnv []string) models.SandboxResult {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.pythonPath, planPath)
	cmd.Dir = workdir
	// Unbuffered stdout, so log lines printed before a timeout kill are
	// not lost in the interpreter's buffer.
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	cmd.Env = append(cmd.Env, extraEnv...)

	// Own process group so a timeout kills plan children too, not just
	// the interpreter.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killWait

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	logs, payload, found := splitSentinel(stdout.String())
	logs = append(logs, splitLogLines(stderr.String())...)
	result := models.SandboxResult{Logs: logs}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.Error = fmt.Sprintf("execution timed out after %s", r.timeout)
	case ctx.Err() != nil:
		result.Error = "sandbox run cancelled"
	case found:
		var value any
		if err := json.Unmarshal([]byte(payload), &value); err != nil {
			result.Error = fmt.Sprintf("malformed plan result: %s", err)
		} else {
			result.Success = true
			result.Result = value
		}
	case stderr.Len() > 0:
		result.Error = lastLine(stderr.String())
	case runErr != nil:
		result.Error = runErr.Error()
	default:
		result.Error = "plan produced no result sentinel"
	}

	r.logger.Debug("Sandbox run finished",
		"success", result.Success,
		"timed_out", result.TimedOut,
		"log_lines", len(result.Logs),
		"duration", elapsed)
	return result
}

// ErrorCodeFor classifies a failed sandbox result into a step error
// code. Interpreter parse failures surface on stderr, so syntax errors
// are recognized from the exception text.
func ErrorCodeFor(result models.SandboxResult) models.ErrorCode {
	switch {
	case result.TimedOut:
		return models.ErrCodeSandboxTimeout
	case strings.Contains(result.Error, "SyntaxError"),
		strings.Contains(result.Error, "IndentationError"),
		strings.Contains(result.Error, "TabError"):
		return models.ErrCodeSandboxSyntax
	default:
		return models.ErrCodeSandboxRuntime
	}
}

// splitSentinel separates log lines from the sentinel line. It returns
// the logs, the JSON payload after the sentinel, and whether a sentinel
// was found. The last sentinel wins if a plan echoes the marker itself.
func splitSentinel(stdout string) (logs []string, payload string, found bool) {
	for _, line := range strings.Split(stdout, "\n") {
		if rest, ok := strings.CutPrefix(line, Sentinel); ok {
			payload = strings.TrimSpace(rest)
			found = true
			continue
		}
		logs = append(logs, line)
	}
	return trimTrailingEmpty(logs), payload, found
}

func splitLogLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func trimTrailingEmpty(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// lastLine returns the final non-empty line, where Python places the
// exception summary.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return strings.TrimSpace(s)
}
