package shellexec

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, exec *Executor, workDir, command string, timeoutSeconds int) (string, Result) {
	t.Helper()
	var sb strings.Builder
	result, err := exec.Run(context.Background(), "sess-1", workDir, command, timeoutSeconds, func(c Chunk) {
		sb.WriteString(c.Stdout)
		sb.WriteString(c.Stderr)
	})
	require.NoError(t, err)
	return sb.String(), result
}

func TestExecutor_Run(t *testing.T) {
	exec := New()
	output, _ := collect(t, exec, t.TempDir(), "echo 'hello from shellexec'", 0)
	assert.Contains(t, output, "hello from shellexec")
}

func TestExecutor_ExitCode(t *testing.T) {
	exec := New()
	_, result := collect(t, exec, t.TempDir(), "exit 3", 0)
	assert.Equal(t, 3, result.ExitCode)
}

func TestExecutor_WorkDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0644))

	exec := New()
	output, _ := collect(t, exec, dir, "ls", 0)
	assert.Contains(t, output, "marker.txt")
}

func TestExecutor_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sleep not available on windows shell")
	}
	exec := New()
	_, result := collect(t, exec, t.TempDir(), "sleep 5", 1)
	assert.True(t, result.TimedOut)
}

func TestDetectShell(t *testing.T) {
	shell := detectShell()
	assert.NotEmpty(t, shell)
}
