// Package subvoltest provides an in-memory subvolume and a recording
// command runner for tests.
package subvoltest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// Runner records every command instead of executing it.
type Runner struct {
	mu       sync.Mutex
	commands []subvol.Command
	stdins   []string

	// Handler, when set, produces the result of each command.
	Handler func(cmd subvol.Command) (*subvol.Result, error)
}

// Run records the command and drains its stdin.
func (r *Runner) Run(_ context.Context, cmd subvol.Command) (*subvol.Result, error) {
	var stdin string
	if cmd.Stdin != nil {
		data, err := io.ReadAll(cmd.Stdin)
		if err != nil {
			return nil, err
		}
		stdin = string(data)
	}

	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.stdins = append(r.stdins, stdin)
	handler := r.Handler
	r.mu.Unlock()

	if handler != nil {
		return handler(cmd)
	}
	return &subvol.Result{}, nil
}

// Commands returns the recorded commands.
func (r *Runner) Commands() []subvol.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]subvol.Command(nil), r.commands...)
}

// CommandLines returns the recorded commands rendered as strings.
func (r *Runner) CommandLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, len(r.commands))
	for i, cmd := range r.commands {
		lines[i] = cmd.String()
	}
	return lines
}

// Stdin returns what the i-th command read from stdin.
func (r *Runner) Stdin(i int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stdins[i]
}

// Contains reports whether any recorded command line starts with prefix.
func (r *Runner) Contains(prefix string) bool {
	for _, line := range r.CommandLines() {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// New returns an in-memory subvolume at path and the runner it uses.
func New(path string) (*subvol.Subvol, *Runner) {
	runner := &Runner{}
	return subvol.NewWithFs(path, afero.NewMemMapFs(), runner), runner
}

// NewWithFs is New with a caller-provided filesystem.
func NewWithFs(path string, fs afero.Fs) (*subvol.Subvol, *Runner) {
	runner := &Runner{}
	return subvol.NewWithFs(path, fs, runner), runner
}
