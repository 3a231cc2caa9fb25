// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/Khamel83/oos/internal/composition"
	"github.com/Khamel83/oos/internal/module"
)

// DefaultStepTimeout applies when neither the step nor the composition sets one.
const DefaultStepTimeout = 5 * time.Minute

// ErrNoRecordedRun is returned by Resume when a composition has never run.
var ErrNoRecordedRun = errors.New("no recorded run")

// Invoker runs a single module. *module.Runner satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, id module.ID, args []string, timeout time.Duration) (module.Result, error)
}

// Deps contains dependencies and run-wide settings.
type Deps struct {
	// StepTimeout is the fallback per-step timeout; zero disables it.
	StepTimeout time.Duration
	// StopOnFailure forces stop-on-first-failure regardless of the definition.
	StopOnFailure bool
	Logger        *log.Logger
	Now           func() time.Time
}

// Runner executes compositions step by step.
type Runner struct {
	invoker Invoker
	store   *StateStore
	deps    *Deps
	logger  *log.Logger
}

// NewRunner creates a runner. store may be nil to skip persisting summaries.
func NewRunner(invoker Invoker, store *StateStore, deps *Deps) *Runner {
	if deps == nil {
		deps = &Deps{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Runner{
		invoker: invoker,
		store:   store,
		deps:    deps,
		logger:  logger,
	}
}

func (r *Runner) now() time.Time {
	if r.deps.Now != nil {
		return r.deps.Now()
	}
	return time.Now()
}

// Run executes every step of def in declared order and returns the finished
// run. Step failures never produce an error; they are recorded in the run.
// The error is non-nil only when def is invalid or the summary cannot be saved.
func (r *Runner) Run(ctx context.Context, def composition.Definition) (*Run, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	run := r.execute(ctx, def)
	if err := r.save(run); err != nil {
		return run, err
	}
	return run, nil
}

// Resume re-runs the steps of def that failed, warned or never executed in
// its last recorded run. It returns a nil run when the last run fully passed.
// The saved summary merges the new results into the previous record so the
// next resume sees the composition's current state.
func (r *Runner) Resume(ctx context.Context, def composition.Definition) (*Run, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if r.store == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoRecordedRun, def.Name)
	}
	last, err := r.store.ReadRun(def.Name)
	if err != nil {
		return nil, fmt.Errorf("loading last run: %w", err)
	}
	if last == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoRecordedRun, def.Name)
	}

	sub := def
	sub.Steps = nil
	var origin []int
	for i, step := range def.Steps {
		if needsRerun(last, i, step) {
			sub.Steps = append(sub.Steps, step)
			origin = append(origin, i)
		}
	}
	if len(sub.Steps) == 0 {
		return nil, nil
	}

	r.logger.Info("resuming composition", "composition", def.Name, "steps", len(sub.Steps), "declared", len(def.Steps))
	run := r.execute(ctx, sub)
	merged := mergeRecords(last, run.Record(), origin, len(def.Steps))
	if err := r.store.WriteRun(merged); err != nil {
		return run, fmt.Errorf("writing run state for %s: %w", def.Name, err)
	}
	return run, nil
}

// mergeRecords overlays a resumed run onto the previous record. origin maps
// resumed step positions back to their declared index.
func mergeRecords(prev *LastRun, resumed LastRun, origin []int, declared int) LastRun {
	byIndex := map[int]StepRecord{}
	for _, rec := range prev.Steps {
		byIndex[rec.Index] = rec
	}
	for _, rec := range resumed.Steps {
		rec.Index = origin[rec.Index]
		byIndex[rec.Index] = rec
	}

	merged := resumed
	merged.Declared = declared
	merged.Steps = nil
	for i := 0; i < declared; i++ {
		if rec, ok := byIndex[i]; ok {
			merged.Steps = append(merged.Steps, rec)
		}
	}

	merged.Verdict = VerdictPass
	if merged.Interrupted {
		merged.Verdict = VerdictFail
	}
	for _, rec := range merged.Steps {
		if rec.Status == StatusFail {
			merged.Verdict = VerdictFail
		} else if rec.Status == StatusWarn && merged.Verdict == VerdictPass {
			merged.Verdict = VerdictPassWithWarnings
		}
	}
	return merged
}

// needsRerun reports whether declared step i did not pass last time. A step
// whose module changed since the recorded run is treated as never executed.
func needsRerun(last *LastRun, i int, step composition.Step) bool {
	for _, rec := range last.Steps {
		if rec.Index == i && rec.Module == step.Name() {
			return rec.Status != StatusPass
		}
	}
	return true
}

// RunModule invokes a single module outside any composition.
func (r *Runner) RunModule(ctx context.Context, id module.ID, args []string) (module.Result, error) {
	return r.invoker.Invoke(ctx, id, args, r.deps.StepTimeout)
}

func (r *Runner) execute(ctx context.Context, def composition.Definition) *Run {
	run := &Run{
		ID:         uuid.NewString(),
		Definition: def,
		Started:    r.now(),
	}
	stopOnFailure := def.StopOnFailure || r.deps.StopOnFailure

	r.logger.Info("running composition", "composition", def.Name, "steps", len(def.Steps), "run", run.ID)

	for i, step := range def.Steps {
		if ctx.Err() != nil {
			run.Interrupted = true
			break
		}

		r.logger.Debug("step started", "step", i+1, "module", step.Name(), "criticality", step.Criticality)

		res, err := r.invoker.Invoke(ctx, step.Module, step.Args, r.timeoutFor(def, step))
		if err != nil && !errors.Is(err, module.ErrModuleNotFound) {
			res = module.Result{
				Module:   step.Module,
				Outcome:  module.OutcomeAbnormal,
				ExitCode: -1,
				Output:   err.Error(),
			}
		}

		sr := StepResult{
			Index:  i,
			Step:   step,
			Result: res,
			Status: Classify(step.Criticality, res.Outcome),
		}
		run.Results = append(run.Results, sr)
		r.logStep(sr)

		if ctx.Err() != nil {
			run.Interrupted = true
			break
		}
		if sr.Status == StatusFail && stopOnFailure {
			run.Stopped = true
			r.logger.Warn("stopping after failed step", "module", step.Name())
			break
		}
	}

	run.Finished = r.now()
	run.Verdict = run.computeVerdict()
	r.logger.Info("composition finished", "composition", def.Name, "verdict", run.Verdict,
		"executed", len(run.Results), "declared", len(def.Steps))
	return run
}

func (r *Runner) timeoutFor(def composition.Definition, step composition.Step) time.Duration {
	switch {
	case step.Timeout != nil:
		return *step.Timeout
	case def.Timeout != nil:
		return *def.Timeout
	default:
		return r.deps.StepTimeout
	}
}

func (r *Runner) logStep(sr StepResult) {
	kv := []any{
		"module", sr.Name(),
		"status", sr.Status,
		"outcome", sr.Result.Outcome,
		"exit", sr.Result.ExitCode,
		"duration", sr.Result.Duration.Round(time.Millisecond),
	}
	switch sr.Status {
	case StatusFail:
		r.logger.Error("step failed", kv...)
	case StatusWarn:
		r.logger.Warn("step warned", kv...)
	default:
		r.logger.Debug("step passed", kv...)
	}
}

func (r *Runner) save(run *Run) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.WriteRun(run.Record()); err != nil {
		return fmt.Errorf("writing run state for %s: %w", run.Definition.Name, err)
	}
	return nil
}
