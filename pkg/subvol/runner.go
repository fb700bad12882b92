package subvol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Command describes a process run on behalf of a subvolume operation.
type Command struct {
	// Name is the executable to run.
	Name string

	// Args are the arguments passed to the executable.
	Args []string

	// Stdin, if set, is streamed to the process.
	Stdin io.Reader

	// WorkDir is the working directory of the process.
	WorkDir string

	// AsRoot runs the command with root privileges (via sudo when the
	// current process is not already root).
	AsRoot bool
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	parts := append([]string{c.Name}, c.Args...)
	return strings.Join(parts, " ")
}

// Result is the outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes commands. Implementations must return a *CommandError
// when the process exits non-zero.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// CommandError reports a command that exited with a non-zero status.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q exited with status %d: %s", e.Command, e.ExitCode, stderr)
}

// IsCommandError reports whether err wraps a *CommandError.
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}

// ExecRunner runs commands on the local host with os/exec.
type ExecRunner struct {
	logger zerolog.Logger
	sudo   string
}

// NewExecRunner creates a runner that escalates AsRoot commands with sudo.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{
		logger: logger.With().Str("component", "runner").Logger(),
		sudo:   "sudo",
	}
}

// Run executes the command and captures its output.
func (r *ExecRunner) Run(ctx context.Context, command Command) (*Result, error) {
	if command.Name == "" {
		return nil, fmt.Errorf("command name is required")
	}

	argv := append([]string{command.Name}, command.Args...)
	if command.AsRoot && os.Geteuid() != 0 {
		argv = append([]string{r.sudo, "--"}, argv...)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if command.WorkDir != "" {
		cmd.Dir = command.WorkDir
	}
	if command.Stdin != nil {
		cmd.Stdin = command.Stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug().Str("command", command.String()).Bool("as_root", command.AsRoot).Msg("Running command")

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %q: %w", command.String(), err)
		}
		result.ExitCode = exitErr.ExitCode()
		return result, &CommandError{
			Command:  command.String(),
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
	}

	return result, nil
}
