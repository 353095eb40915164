// Package process runs external command-line tools and reports their outcome
// as a value instead of an error, so callers can decide how much a failure
// matters.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrToolNotFound is wrapped by Result.Err when the executable is not on PATH.
var ErrToolNotFound = errors.New("tool not found")

// Result holds the captured output and outcome of one command.
type Result struct {
	Name     string
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Err      error
}

// Success reports whether the command ran and exited with status 0.
func (r *Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// String renders the command line, for logs.
func (r *Result) String() string {
	return strings.TrimSpace(r.Name + " " + strings.Join(r.Args, " "))
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) *Result
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct {
	// Timeout bounds each command. Zero means no limit.
	Timeout time.Duration
}

// Ensure interface compliance.
var _ Runner = (*ExecRunner)(nil)

// NewExecRunner creates a Runner backed by child processes.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

// Run starts name with args and waits for it. The child is killed when ctx
// is done or the timeout expires.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) *Result {
	result := &Result{
		Name:     name,
		Args:     args,
		ExitCode: -1,
	}

	if _, err := exec.LookPath(name); err != nil {
		result.Err = fmt.Errorf("%w: %s", ErrToolNotFound, name)

		return result
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer

	//nolint:gosec // Command names come from configuration.
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Err = fmt.Errorf("%s exited with code %d: %w (stderr: %s)",
				name, result.ExitCode, err, strings.TrimSpace(result.Stderr))
		} else {
			result.Err = fmt.Errorf("running %s: %w", name, err)
		}
	}

	return result
}
