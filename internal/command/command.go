package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/rhansen/buckal/internal/logging"
)

type envKeyType struct{}

// EnvKey is a [context.Context.WithValue] key that can be used to override the environment of
// commands that are executed by this package.  The value must have type []string where each entry
// has the form "name=value".
var EnvKey = envKeyType{}

// An Error reports a command that could not be started or exited unsuccessfully.  Stderr holds
// whatever the command wrote to standard error if it was captured (see [Output]).
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("command %q failed: %v", strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\n" + s
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a new [exec.Cmd] with the given arguments, leaving its stdout and stderr connected
// to stdout and stderr.
func New(ctx context.Context, wd string, args ...string) *exec.Cmd {
	slog.DebugContext(ctx, "running command", "wd", wd, "args", args)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = wd
	if v := ctx.Value(EnvKey); v != nil {
		cmd.Env = v.([]string)
	}
	slog.DebugContext(ctx, "command environment", "env", cmd.Env)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// Run is like [New] followed by [exec.Cmd.Run], except the command reads stdin (if non-nil) and a
// failure is reported as an [*Error].
func Run(ctx context.Context, wd string, stdin io.Reader, args ...string) error {
	cmd := New(ctx, wd, args...)
	cmd.Stdin = stdin
	if err := cmd.Run(); err != nil {
		return &Error{Args: args, Err: err}
	}
	return nil
}

// Output runs the command to completion and returns its standard output.  Standard error is
// captured rather than passed through so that it can be attached to the returned [*Error] if the
// command fails.
func Output(ctx context.Context, wd string, args ...string) ([]byte, error) {
	cmd := New(ctx, wd, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &Error{Args: args, Stderr: stderr.String(), Err: err}
	}
	if stderr.Len() > 0 {
		slog.Log(ctx, logging.LevelTrace, "command stderr", "args", args, "stderr", stderr.String())
	}
	return stdout.Bytes(), nil
}

// DecodeJson runs the command via [Output] and decodes its standard output as a single JSON value.
func DecodeJson[T any](ctx context.Context, wd string, args ...string) (T, error) {
	var ret T
	out, err := Output(ctx, wd, args...)
	if err != nil {
		return ret, err
	}
	if err := json.Unmarshal(out, &ret); err != nil {
		return ret, fmt.Errorf("failed to decode JSON from command %q: %w",
			strings.Join(args, " "), err)
	}
	return ret, nil
}
