// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	"time"

	"github.com/Khamel83/oos/internal/composition"
	"github.com/Khamel83/oos/internal/module"
)

// Verdict is the aggregate classification of a composition run.
type Verdict string

const (
	VerdictPass             Verdict = "pass"
	VerdictPassWithWarnings Verdict = "pass_with_warnings"
	VerdictFail             Verdict = "fail"
)

// ExitCode maps the verdict to a process exit code. Warnings never block.
func (v Verdict) ExitCode() int {
	if v == VerdictFail {
		return 1
	}
	return 0
}

// StepStatus is a step's contribution to the verdict.
type StepStatus string

const (
	StatusPass StepStatus = "pass"
	StatusWarn StepStatus = "warn"
	StatusFail StepStatus = "fail"
)

// Classify decides a step's status from its criticality and outcome.
// Exit 2 is always a warning; other failures escalate only on critical steps.
func Classify(crit composition.Criticality, outcome module.Outcome) StepStatus {
	switch {
	case outcome == module.OutcomeSuccess:
		return StatusPass
	case outcome == module.OutcomeWarning:
		return StatusWarn
	case crit == composition.Advisory:
		return StatusWarn
	default:
		return StatusFail
	}
}

// StepResult pairs a declared step with its invocation result.
type StepResult struct {
	Index  int              `json:"index"`
	Step   composition.Step `json:"step"`
	Result module.Result    `json:"result"`
	Status StepStatus       `json:"status"`
}

// Name returns the step's display name.
func (s StepResult) Name() string { return s.Step.Name() }

// Run is one execution of a composition. Results is always a prefix of
// Definition.Steps; Verdict is set once, when the run finishes.
type Run struct {
	ID          string                 `json:"id"`
	Definition  composition.Definition `json:"definition"`
	Results     []StepResult           `json:"results"`
	Verdict     Verdict                `json:"verdict"`
	Stopped     bool                   `json:"stopped,omitempty"`
	Interrupted bool                   `json:"interrupted,omitempty"`
	Started     time.Time              `json:"started"`
	Finished    time.Time              `json:"finished"`
}

// Counts tallies step statuses.
type Counts struct {
	Declared int `json:"declared"`
	Executed int `json:"executed"`
	Passed   int `json:"passed"`
	Warned   int `json:"warned"`
	Failed   int `json:"failed"`
}

// Counts tallies the executed steps.
func (r *Run) Counts() Counts {
	c := Counts{Declared: len(r.Definition.Steps), Executed: len(r.Results)}
	for _, s := range r.Results {
		switch s.Status {
		case StatusPass:
			c.Passed++
		case StatusWarn:
			c.Warned++
		case StatusFail:
			c.Failed++
		}
	}
	return c
}

// computeVerdict derives the verdict from the accumulated results.
func (r *Run) computeVerdict() Verdict {
	if r.Interrupted {
		return VerdictFail
	}
	verdict := VerdictPass
	for _, s := range r.Results {
		switch s.Status {
		case StatusFail:
			return VerdictFail
		case StatusWarn:
			verdict = VerdictPassWithWarnings
		}
	}
	return verdict
}

// StepRecord is the persisted form of a step result.
// Matches .oos/run/runs/<composition>.json schema.
type StepRecord struct {
	Index       int                     `json:"index"`
	Module      string                  `json:"module"`
	Criticality composition.Criticality `json:"criticality"`
	Status      StepStatus              `json:"status"`
	Outcome     module.Outcome          `json:"outcome"`
	ExitCode    int                     `json:"exit_code"`
	Message     string                  `json:"message,omitempty"`
	DurationMS  int64                   `json:"duration_ms"`
}

// LastRun summarises a finished run.
// Matches .oos/run/last-run.json schema.
type LastRun struct {
	ID          string       `json:"id"`
	Composition string       `json:"composition"`
	Verdict     Verdict      `json:"verdict"`
	Declared    int          `json:"declared"`
	Steps       []StepRecord `json:"steps"`
	Stopped     bool         `json:"stopped,omitempty"`
	Interrupted bool         `json:"interrupted,omitempty"`
	Started     time.Time    `json:"started"`
	Finished    time.Time    `json:"finished"`
}

// Counts tallies the recorded step statuses.
func (l LastRun) Counts() Counts {
	c := Counts{Declared: l.Declared, Executed: len(l.Steps)}
	for _, s := range l.Steps {
		switch s.Status {
		case StatusPass:
			c.Passed++
		case StatusWarn:
			c.Warned++
		case StatusFail:
			c.Failed++
		}
	}
	return c
}

// Record converts a run into its persisted summary.
func (r *Run) Record() LastRun {
	last := LastRun{
		ID:          r.ID,
		Composition: r.Definition.Name,
		Verdict:     r.Verdict,
		Declared:    len(r.Definition.Steps),
		Stopped:     r.Stopped,
		Interrupted: r.Interrupted,
		Started:     r.Started,
		Finished:    r.Finished,
	}
	for _, s := range r.Results {
		last.Steps = append(last.Steps, StepRecord{
			Index:       s.Index,
			Module:      s.Name(),
			Criticality: s.Step.Criticality,
			Status:      s.Status,
			Outcome:     s.Result.Outcome,
			ExitCode:    s.Result.ExitCode,
			Message:     s.Result.Message(),
			DurationMS:  s.Result.DurationMS,
		})
	}
	return last
}
