// Package execenv runs a child process with resolved secrets in its
// environment. Secrets never touch the disk on this path.
package execenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	dserrors "github.com/systmms/stagevault/internal/errors"
	"github.com/systmms/stagevault/internal/format"
	"github.com/systmms/stagevault/internal/logging"
)

// ExitError carries the exit status of a child process that ran but failed.
type ExitError struct {
	Command string
	Code    int
}

func (e ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// Executor runs commands with an injected environment.
type Executor struct {
	logger *logging.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	// environ returns the parent environment
	environ func() []string
}

// Option configures an Executor
type Option func(*Executor)

// WithIO sets the streams the child process is attached to
func WithIO(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(e *Executor) {
		e.stdin, e.stdout, e.stderr = stdin, stdout, stderr
	}
}

// WithEnviron replaces os.Environ as the source of the parent environment
func WithEnviron(environ func() []string) Option {
	return func(e *Executor) {
		e.environ = environ
	}
}

// New creates a new executor
func New(logger *logging.Logger, opts ...Option) *Executor {
	e := &Executor{
		logger:  logger,
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		environ: os.Environ,
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Options configures command execution
type Options struct {
	Command     []string
	Environment map[string]string
	// KeepExisting leaves variables already set in the parent environment
	// untouched instead of replacing them
	KeepExisting bool
	// PrintVars writes the variable names with masked values to stderr
	// before the command starts
	PrintVars  bool
	WorkingDir string
	Timeout    time.Duration
}

// Exec runs the command and waits for it. A non-zero exit is returned as
// ExitError so the caller can propagate the status.
func (e *Executor) Exec(ctx context.Context, opts Options) error {
	if len(opts.Command) == 0 {
		return dserrors.UserError{
			Message:    "No command specified",
			Suggestion: "Provide a command after -- (e.g., stagevault exec .env.template -- npm start)",
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	name := opts.Command[0]
	if _, err := exec.LookPath(name); err != nil {
		return dserrors.UserError{
			Message:    fmt.Sprintf("Command not found: %s", name),
			Suggestion: "Check the command name and that it is on your PATH",
			Err:        err,
		}
	}

	if opts.PrintVars {
		e.printEnvironment(opts.Environment)
	}

	cmd := exec.CommandContext(ctx, name, opts.Command[1:]...)
	cmd.Env = e.buildEnvironment(opts.Environment, opts.KeepExisting)
	cmd.Stdin = e.stdin
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr
	cmd.Dir = opts.WorkingDir
	// grandchildren holding the output pipes must not outlive a canceled run
	cmd.WaitDelay = time.Second

	e.logger.Debug("Executing command: %s", strings.Join(opts.Command, " "))
	e.logger.Debug("Environment variables set: %d", len(opts.Environment))

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			code = 1
		}
		return ExitError{Command: name, Code: code}
	}
	return dserrors.UserError{
		Message:    fmt.Sprintf("Failed to run %s", name),
		Details:    err.Error(),
		Suggestion: "Check the command output above for details",
		Err:        err,
	}
}

// buildEnvironment layers vars over the parent environment. The result is
// sorted so that it is stable between runs.
func (e *Executor) buildEnvironment(vars map[string]string, keepExisting bool) []string {
	merged := make(map[string]string)
	for _, kv := range e.environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			merged[key] = value
		}
	}

	for key, value := range vars {
		if _, exists := merged[key]; exists && keepExisting {
			continue
		}
		merged[key] = value
	}

	result := make([]string, 0, len(merged))
	for key, value := range merged {
		result = append(result, key+"="+value)
	}
	sort.Strings(result)
	return result
}

func (e *Executor) printEnvironment(vars map[string]string) {
	if len(vars) == 0 {
		fmt.Fprintln(e.stderr, "No environment variables resolved")
		return
	}

	fmt.Fprintf(e.stderr, "Resolved %d environment variables:\n", len(vars))
	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		fmt.Fprintf(e.stderr, "  %s=%s\n", key, format.Mask(vars[key], true))
	}
	fmt.Fprintln(e.stderr)
}
