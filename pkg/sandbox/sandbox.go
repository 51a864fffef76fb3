package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultTimeout = 10 * time.Second
	MaxOutputBytes = 16 * 1024

	// waitDelay bounds how long Wait blocks on output pipes once the
	// interpreter is gone
	waitDelay = 500 * time.Millisecond
)

// Sandbox executes untrusted Python code
type Sandbox interface {
	Execute(ctx context.Context, code string, timeout time.Duration) (*Result, error)
	Close() error
}

// Stager places files in the working directory of every execution
type Stager interface {
	Stage(name string, data []byte) error
}

// Result captures the output of one execution
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out"`
}

// run executes cmd under timeout and converts its outcome into a Result.
// A non-zero exit is reported in Result, not as an error.
func run(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) (*Result, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedBuffer{buf: &stdout, limit: MaxOutputBytes}
	cmd.Stderr = &limitedBuffer{buf: &stderr, limit: MaxOutputBytes}
	isolate(cmd)
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	result := &Result{
		Stdout: truncate(stdout.String()),
		Stderr: truncate(stderr.String()),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	// the interpreter exited but a child it left behind still holds the pipes
	if errors.Is(err, exec.ErrWaitDelay) {
		_ = killGroup(cmd)
		result.ExitCode = cmd.ProcessState.ExitCode()
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, goerr.Wrap(err, "failed to run sandbox command", goerr.V("path", cmd.Path), goerr.V("timeout", timeout))
	}

	return result, nil
}

// limitedBuffer keeps the first limit+1 bytes so truncation is detectable
type limitedBuffer struct {
	buf   *bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit + 1 - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func truncate(s string) string {
	if len(s) <= MaxOutputBytes {
		return s
	}
	return s[:MaxOutputBytes] + "\n... (output truncated)"
}
