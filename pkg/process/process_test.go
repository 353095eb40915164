package process

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireTool(t *testing.T, name string) {
	t.Helper()

	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestExecRunner_Success(t *testing.T) {
	requireTool(t, "echo")

	r := NewExecRunner(0)
	result := r.Run(context.Background(), "echo", "hello", "world")

	require.True(t, result.Success(), "unexpected error: %v", result.Err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello world\n", result.Stdout)
	assert.Equal(t, "echo hello world", result.String())
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	requireTool(t, "false")

	r := NewExecRunner(0)
	result := r.Run(context.Background(), "false")

	assert.False(t, result.Success())
	assert.Equal(t, 1, result.ExitCode)
	require.Error(t, result.Err)
	assert.False(t, errors.Is(result.Err, ErrToolNotFound))
}

func TestExecRunner_ToolNotFound(t *testing.T) {
	r := NewExecRunner(0)
	result := r.Run(context.Background(), "qutedb-no-such-tool-xyz", "--version")

	assert.False(t, result.Success())
	assert.ErrorIs(t, result.Err, ErrToolNotFound)
	assert.Equal(t, -1, result.ExitCode)
}

func TestExecRunner_Timeout(t *testing.T) {
	requireTool(t, "sleep")

	r := NewExecRunner(50 * time.Millisecond)
	start := time.Now()
	result := r.Run(context.Background(), "sleep", "5")

	assert.False(t, result.Success())
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestExecRunner_Cancelled(t *testing.T) {
	requireTool(t, "sleep")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewExecRunner(0)
	result := r.Run(ctx, "sleep", "5")

	assert.False(t, result.Success())
}
