// SPDX-License-Identifier: AGPL-3.0-or-later

package module

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"time"

	"github.com/charmbracelet/log"
)

// waitDelay bounds how long a killed module may hold its output pipes open.
const waitDelay = 2 * time.Second

// Options configures a Runner. Environ is passed to every child verbatim;
// the runner never reads the ambient process environment.
type Options struct {
	Dir     string
	Environ []string
	// Stream, when set, receives module stdout live in addition to capture.
	Stream io.Writer
	Logger *log.Logger
}

// Runner invokes modules from a registry as child processes.
type Runner struct {
	registry *Registry
	opts     Options
	logger   *log.Logger
}

// NewRunner creates a runner over reg.
func NewRunner(reg *Registry, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Runner{registry: reg, opts: opts, logger: logger}
}

// Registry returns the registry the runner resolves against.
func (r *Runner) Registry() *Registry { return r.registry }

// Invoke runs the module id with args and blocks until it exits.
//
// A missing module returns NotFoundResult together with an error wrapping
// ErrModuleNotFound. Every other problem (start failure, signal, timeout) is
// reported through the result's Outcome with a nil error. A zero timeout
// disables the deadline.
func (r *Runner) Invoke(ctx context.Context, id ID, args []string, timeout time.Duration) (Result, error) {
	d, err := r.registry.Lookup(id)
	if err != nil {
		return NotFoundResult(id), err
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, d.Path, args...)
	cmd.Dir = r.opts.Dir
	cmd.Env = r.opts.Environ
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	cmd.Stdout = &stdout
	if r.opts.Stream != nil {
		cmd.Stdout = io.MultiWriter(&stdout, r.opts.Stream)
	}
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	r.logger.Debug("invoking module", "module", id, "path", d.Path, "args", args, "timeout", timeout)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := Result{
		Module:     id,
		Output:     stdout.String(),
		Stderr:     stderr.String(),
		Duration:   elapsed,
		DurationMS: elapsed.Milliseconds(),
	}
	res.Outcome, res.ExitCode = classify(ctx, runCtx, runErr)
	if res.Outcome == OutcomeAbnormal && res.Output == "" && runErr != nil {
		res.Output = runErr.Error()
	}

	r.logger.Debug("module finished", "module", id, "outcome", res.Outcome, "exit", res.ExitCode, "duration", elapsed)
	return res, nil
}

// classify converts the process error into the module contract.
func classify(parent, runCtx context.Context, err error) (Outcome, int) {
	if err == nil {
		return OutcomeSuccess, ExitSuccess
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}

	// Deadline only counts as a timeout when the caller is still live;
	// an interrupted caller means the step was cut short, not slow.
	if parent.Err() != nil {
		return OutcomeAbnormal, code
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return OutcomeTimeout, code
	}
	if exitErr == nil {
		return OutcomeAbnormal, code
	}
	return OutcomeFromExitCode(code), code
}
