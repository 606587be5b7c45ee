package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const shellTimeout = 30 * time.Second

// BashTool runs a shell command in the workspace with a 30s timeout.
type BashTool struct{ workspace string }

func NewBashTool(workspace string) *BashTool { return &BashTool{workspace: workspace} }

func (t *BashTool) Name() string { return "bash" }
func (t *BashTool) Description() string {
	return "Run a shell command in the workspace. Times out after 30 seconds."
}
func (t *BashTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "Shell command to run"},
		},
		"required": []interface{}{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command := stringArg(args, "command")
	if strings.TrimSpace(command) == "" {
		return ErrorResult("Error: command is required")
	}

	execCtx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = t.workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var sb strings.Builder
	if stdout.Len() > 0 {
		sb.WriteString(stdout.String())
	}
	if stderr.Len() > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n" + stderr.String())
	}

	if execCtx.Err() == context.DeadlineExceeded {
		return ErrorResult("Error: command timed out after %s\n%s", shellTimeout, sb.String())
	}
	if err != nil {
		return ErrorResult("Error: command failed: %v\n%s", err, sb.String())
	}
	if sb.Len() == 0 {
		return NewResult("(no output)")
	}
	return NewResult(fmt.Sprint(strings.TrimRight(sb.String(), "\n")))
}
