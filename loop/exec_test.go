package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecCapturesOutputAndExitCode(t *testing.T) {
	ws := newTestWorkspace(t)

	result, err := ws.Exec(context.Background(), "echo out; echo err >&2", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "out")
	assert.Contains(t, result.Stderr, "err")
	assert.False(t, result.TimedOut)

	result, err = ws.Exec(context.Background(), "exit 3", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestExecRunsInWorkspaceRoot(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.Write("marker.txt", "here"))

	result, err := ws.Exec(context.Background(), "cat marker.txt", 10*time.Second)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "here")
}

func TestExecTimeoutDoesNotKillController(t *testing.T) {
	ws := newTestWorkspace(t)

	start := time.Now()
	result, err := ws.Exec(context.Background(), "sleep 30", 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitCode)
	assert.Less(t, time.Since(start), 5*time.Second)
}
