// Package shell executes commands in the agent's workspace, either
// directly as a subprocess or inside a network-less Docker container for
// untrusted workloads.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	alloy "github.com/alloyhq/alloy"
)

const maxOutputChars = 8000

// blockedFragments are rejected before execution regardless of sandbox
// mode.
var blockedFragments = []string{
	"rm -rf /",
	"sudo ",
	"mkfs",
	"> /dev/",
	"dd if=",
}

// Tool executes shell commands. The zero configuration runs commands as
// local subprocesses in the workspace; Sandboxed switches to `docker run`
// with networking disabled and the workspace mounted.
type Tool struct {
	workspace      string
	defaultTimeout time.Duration
	sandboxImage   string // non-empty enables the docker sandbox
}

// Option configures a shell Tool.
type Option func(*Tool)

// DefaultTimeout sets the per-command timeout (default 30s).
func DefaultTimeout(d time.Duration) Option {
	return func(t *Tool) {
		if d > 0 {
			t.defaultTimeout = d
		}
	}
}

// Sandboxed runs commands inside a disposable container of the given image
// via the docker CLI, with networking disabled and the workspace mounted
// read-write at /workspace.
func Sandboxed(image string) Option {
	return func(t *Tool) { t.sandboxImage = image }
}

// New creates a shell tool rooted at workspace.
func New(workspace string, opts ...Option) *Tool {
	t := &Tool{workspace: workspace, defaultTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Definition() alloy.ToolDefinition {
	return alloy.ToolDefinition{
		Name:        "shell_exec",
		Description: "Execute a shell command in the workspace directory. Returns stdout + stderr. Use for running scripts, checking files, or system tasks.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "Shell command to execute"},
				"timeout": map[string]any{"type": "integer", "description": "Timeout in seconds (default 30)"},
			},
			"required": []any{"command"},
		},
	}
}

func (t *Tool) Execute(ctx context.Context, input map[string]any, tc alloy.ToolContext) (string, error) {
	command, _ := input["command"].(string)
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	lower := strings.ToLower(command)
	for _, frag := range blockedFragments {
		if strings.Contains(lower, frag) {
			return "", fmt.Errorf("command blocked for safety: %s", frag)
		}
	}

	timeout := t.defaultTimeout
	if secs, ok := input["timeout"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workdir := tc.WorkDir
	if workdir == "" {
		workdir = t.workspace
	}

	var cmd *exec.Cmd
	if t.sandboxImage != "" {
		args := []string{
			"run", "--rm",
			"--network", "none",
			"--memory", "512m",
			"--cpus", "1",
		}
		if workdir != "" {
			args = append(args, "-v", workdir+":/workspace", "-w", "/workspace")
		}
		args = append(args, t.sandboxImage, "sh", "-c", command)
		cmd = exec.CommandContext(ctx, "docker", args...)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = workdir
	}
	// A child of sh can keep the output pipe open after sh is killed; stop
	// waiting for it shortly after the timeout.
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()

	output := out.String()
	if len(output) > maxOutputChars {
		output = output[:maxOutputChars] + "\n... (truncated)"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s", timeout)
	}
	if err != nil {
		if output == "" {
			return "", fmt.Errorf("command failed: %w", err)
		}
		return "", fmt.Errorf("command failed: %v\n%s", err, output)
	}
	if output == "" {
		return "(no output)", nil
	}
	return output, nil
}

// compile-time check
var _ alloy.Tool = (*Tool)(nil)
