package collectors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external tool and returns its stdout. A non-zero exit is
// reported as *ExitError so callers can decide which exit bits are fatal.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type ExitError struct {
	Code   int
	Stdout []byte
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d: %s", e.Code, strings.TrimSpace(e.Stderr))
}

// ExecRunner runs commands with os/exec. A zero Timeout leaves the command
// bound only by the caller's context.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := ctxWithTimeout(ctx, r.Timeout)
	defer cancel()

	c := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &ExitError{Code: exitErr.ExitCode(), Stdout: stdout.Bytes(), Stderr: stderr.String()}
		}
		return nil, fmt.Errorf("%w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func ctxWithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

// field pairs a JSON key with whether the decoder saw it.
type field struct {
	name    string
	present bool
}

// firstMissing returns the key of the first absent field, or "" when every
// field was present.
func firstMissing(fields ...field) string {
	for _, f := range fields {
		if !f.present {
			return f.name
		}
	}
	return ""
}
