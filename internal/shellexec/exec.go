// Package shellexec runs the ExecuteShell command: a
// passive-integration shell invocation gated by internal/permission and
// streamed back to the caller as it runs.
package shellexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/robdel12/orbitdock/internal/permission"
	"github.com/robdel12/orbitdock/pkg/types"
)

const (
	DefaultTimeout = 120 * time.Second
	MaxTimeout     = 10 * time.Minute
	MaxOutputBytes = 1 << 20 // 1MiB cap on captured ExecuteShell output
	sigkillGrace   = 200 * time.Millisecond
)

// Chunk is one piece of streamed shell output, delivered via the OnChunk
// callback as the command runs.
type Chunk struct {
	Stdout string
	Stderr string
}

// Result is the terminal outcome of a Run call.
type Result struct {
	ExitCode int
	TimedOut bool
	Truncated bool
}

// Executor runs shell commands on behalf of a session's working directory,
// gated by a shared permission.Checker.
type Executor struct {
	shell       string
	permChecker *permission.Checker
	permissions map[string]permission.PermissionAction
	externalDir permission.PermissionAction
}

// Option configures an Executor.
type Option func(*Executor)

// WithPermissionChecker sets the approval checker consulted before running.
func WithPermissionChecker(checker *permission.Checker) Option {
	return func(e *Executor) { e.permChecker = checker }
}

// WithExecPermissions sets the exec pattern -> action policy table.
func WithExecPermissions(perms map[string]permission.PermissionAction) Option {
	return func(e *Executor) { e.permissions = perms }
}

// WithExternalDirAction sets the action applied when a dangerous command
// references a path outside the session's working directory.
func WithExternalDirAction(action permission.PermissionAction) Option {
	return func(e *Executor) { e.externalDir = action }
}

// New creates an Executor using the host's default shell.
func New(opts ...Option) *Executor {
	e := &Executor{
		shell:       detectShell(),
		permissions: make(map[string]permission.PermissionAction),
		externalDir: permission.ActionAsk,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" && s != "/bin/fish" && s != "/usr/bin/fish" {
		return s
	}
	if runtime.GOOS == "darwin" {
		return "/bin/zsh"
	}
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

// Run executes command in workDir, gating on approval, and streams output
// chunks to onChunk as they arrive. timeoutSeconds <= 0 uses DefaultTimeout.
func (e *Executor) Run(ctx context.Context, sessionID, workDir, command string, timeoutSeconds int, onChunk func(Chunk)) (Result, error) {
	if e.permChecker != nil {
		if err := e.checkApproval(ctx, sessionID, workDir, command); err != nil {
			return Result{}, err
		}
	}

	timeout := DefaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
		if timeout > MaxTimeout {
			timeout = MaxTimeout
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(cmdCtx, e.shell, "/c", command)
	} else {
		cmd = exec.CommandContext(cmdCtx, e.shell, "-c", command)
	}
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var written int64
	var truncated bool
	var mu sync.Mutex

	stream := func(r io.Reader, toStdout bool) {
		defer wg.Done()
		buf := make([]byte, 4096)
		reader := bufio.NewReader(r)
		for {
			n, rerr := reader.Read(buf)
			if n > 0 {
				mu.Lock()
				if written < MaxOutputBytes {
					remaining := MaxOutputBytes - written
					chunk := buf[:n]
					if int64(len(chunk)) > remaining {
						chunk = chunk[:remaining]
						truncated = true
					}
					written += int64(len(chunk))
					if toStdout {
						onChunk(Chunk{Stdout: string(chunk)})
					} else {
						onChunk(Chunk{Stderr: string(chunk)})
					}
				} else {
					truncated = true
				}
				mu.Unlock()
			}
			if rerr != nil {
				return
			}
		}
	}

	wg.Add(2)
	go stream(stdout, true)
	go stream(stderr, false)

	waitErr := cmd.Wait()
	wg.Wait()

	timedOut := cmdCtx.Err() == context.DeadlineExceeded
	if timedOut {
		e.killProcessGroup(cmd)
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if waitErr != nil && !timedOut {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}

	return Result{ExitCode: exitCode, TimedOut: timedOut, Truncated: truncated}, nil
}

func (e *Executor) killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil || runtime.GOOS == "windows" {
		return
	}
	pid := cmd.Process.Pid
	syscall.Kill(-pid, syscall.SIGTERM)
	time.Sleep(sigkillGrace)
	if cmd.ProcessState == nil {
		syscall.Kill(-pid, syscall.SIGKILL)
	}
}

// checkApproval parses command, flags paths outside workDir on dangerous
// commands, and asks for exec-pattern approval per the
// work_status=permission flow.
func (e *Executor) checkApproval(ctx context.Context, sessionID, workDir, command string) error {
	commands, err := permission.ParseBashCommand(command)
	if err != nil {
		return e.permChecker.Ask(ctx, permission.Request{
			Type:      types.ApprovalExec,
			Pattern:   []string{command},
			SessionID: sessionID,
			Command:   command,
			Title:     command,
			Metadata:  map[string]any{"parse_failed": true},
		})
	}

	var askPatterns []string
	for _, raw := range commands {
		cmd := permission.UnwrapShellCommand(raw)
		if permission.IsDangerousCommand(cmd.Name) {
			for _, p := range permission.ExtractPaths(cmd) {
				resolved, rerr := permission.ResolvePath(ctx, p, workDir)
				if rerr != nil {
					continue
				}
				if !permission.IsWithinDir(resolved, workDir) {
					switch e.externalDir {
					case permission.ActionDeny:
						return &permission.RejectedError{
							SessionID: sessionID,
							Type:      types.ApprovalExec,
							FilePath:  resolved,
							Message:   fmt.Sprintf("command references paths outside of %s", workDir),
						}
					case permission.ActionAsk:
						pattern := filepath.Dir(resolved)
						if err := e.permChecker.Ask(ctx, permission.Request{
							Type:      types.ApprovalExec,
							Pattern:   []string{pattern, filepath.Join(pattern, "*")},
							SessionID: sessionID,
							Command:   command,
							FilePath:  resolved,
							Title:     fmt.Sprintf("command references paths outside of %s", workDir),
						}); err != nil {
							return err
						}
					}
				}
			}
		}

		if cmd.Name == "cd" {
			continue
		}

		switch permission.MatchBashPermission(cmd, e.permissions) {
		case permission.ActionDeny:
			return &permission.RejectedError{
				SessionID: sessionID,
				Type:      types.ApprovalExec,
				Command:   command,
				Message:   fmt.Sprintf("command not allowed: %s", cmd.Name),
			}
		case permission.ActionAsk:
			askPatterns = append(askPatterns, permission.BuildPattern(cmd))
		}
	}

	if len(askPatterns) > 0 {
		seen := make(map[string]bool)
		unique := make([]string, 0, len(askPatterns))
		for _, p := range askPatterns {
			if !seen[p] {
				seen[p] = true
				unique = append(unique, p)
			}
		}
		return e.permChecker.Ask(ctx, permission.Request{
			Type:      types.ApprovalExec,
			Pattern:   unique,
			SessionID: sessionID,
			Command:   command,
			Title:     command,
		})
	}

	return nil
}
