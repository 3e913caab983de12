package services

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, stdin []byte) (Output, error)
}

// Output captures a finished command's streams.
type Output struct {
	Stdout string
	Stderr string
}

// CommandError reports a command that exited unsuccessfully.
type CommandError struct {
	Binary string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s %s: %s", e.Binary, firstArg(e.Args), msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// CommandExecutor runs commands on the host.
type CommandExecutor struct{}

// Run executes binary with args, feeding stdin when provided.
func (CommandExecutor) Run(ctx context.Context, binary string, args []string, stdin []byte) (Output, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		return out, &CommandError{Binary: binary, Args: append([]string(nil), args...), Stderr: out.Stderr, Err: err}
	}
	return out, nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
