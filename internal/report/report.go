// SPDX-License-Identifier: AGPL-3.0-or-later

// Package report turns composition runs into human-readable summaries and
// process exit codes.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Khamel83/oos/internal/composition"
	"github.com/Khamel83/oos/internal/module"
	"github.com/Khamel83/oos/internal/runner"
)

// Format selects a renderer.
type Format string

const (
	FormatText   Format = "text"
	FormatStyled Format = "styled"
	FormatJSON   Format = "json"
)

// Summary is the presentational result of a run.
type Summary struct {
	Text     string
	ExitCode int
}

// Summarize renders the plain-text summary of run. It never alters the run.
func Summarize(run *runner.Run) Summary {
	return SummarizeRecord(run.Record())
}

// SummarizeRecord renders a persisted run summary.
func SummarizeRecord(last runner.LastRun) Summary {
	return Summary{
		Text:     render(last, plain),
		ExitCode: last.Verdict.ExitCode(),
	}
}

// Write renders last to w in the given format.
func Write(w io.Writer, last runner.LastRun, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(newDocument(last))
	case FormatStyled:
		_, err := io.WriteString(w, render(last, styled))
		return err
	default:
		_, err := io.WriteString(w, render(last, plain))
		return err
	}
}

// document is the --json shape.
type document struct {
	ID          string              `json:"id"`
	Composition string              `json:"composition"`
	Verdict     runner.Verdict      `json:"verdict"`
	ExitCode    int                 `json:"exit_code"`
	Counts      runner.Counts       `json:"counts"`
	Steps       []runner.StepRecord `json:"steps"`
	Stopped     bool                `json:"stopped,omitempty"`
	Interrupted bool                `json:"interrupted,omitempty"`
}

func newDocument(last runner.LastRun) document {
	steps := last.Steps
	if steps == nil {
		steps = []runner.StepRecord{}
	}
	return document{
		ID:          last.ID,
		Composition: last.Composition,
		Verdict:     last.Verdict,
		ExitCode:    last.Verdict.ExitCode(),
		Counts:      last.Counts(),
		Steps:       steps,
		Stopped:     last.Stopped,
		Interrupted: last.Interrupted,
	}
}

func render(last runner.LastRun, st styler) string {
	var b strings.Builder
	c := last.Counts()

	fmt.Fprintf(&b, "%s %s\n", st.title("Composition:"), last.Composition)

	width := 0
	for _, s := range last.Steps {
		width = max(width, len(s.Module))
	}
	var failed, warned []string
	for _, s := range last.Steps {
		line := fmt.Sprintf("  %s  %-*s  %s", st.status(s.Status), width, s.Module, detail(s))
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteByte('\n')

		switch s.Status {
		case runner.StatusFail:
			failed = append(failed, s.Module)
		case runner.StatusWarn:
			warned = append(warned, s.Module)
		}
	}

	fmt.Fprintf(&b, "Steps: %d of %d executed, %d passed, %d warned, %d failed\n",
		c.Executed, c.Declared, c.Passed, c.Warned, c.Failed)
	if notRun := c.Declared - c.Executed; notRun > 0 {
		switch {
		case last.Interrupted:
			fmt.Fprintf(&b, "Interrupted: %d step(s) not run\n", notRun)
		case last.Stopped:
			fmt.Fprintf(&b, "Stopped after critical failure: %d step(s) not run\n", notRun)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "%s %s\n", st.muted("Failed:"), strings.Join(failed, ", "))
	}
	if len(warned) > 0 {
		fmt.Fprintf(&b, "%s %s\n", st.muted("Warnings:"), strings.Join(warned, ", "))
	}
	fmt.Fprintf(&b, "%s %s\n", st.title("Verdict:"), st.verdict(last.Verdict))
	return b.String()
}

// detail is the step's status line plus outcome annotations.
func detail(s runner.StepRecord) string {
	parts := []string{s.Message}
	switch s.Outcome {
	case module.OutcomeTimeout:
		parts = append(parts, "(timed out)")
	case module.OutcomeAbnormal:
		if s.ExitCode < 0 {
			parts = append(parts, "(terminated)")
		} else {
			parts = append(parts, fmt.Sprintf("(exit %d)", s.ExitCode))
		}
	}
	if s.Criticality == composition.Advisory && s.Outcome.Failed() {
		parts = append(parts, "(advisory)")
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// VerdictLabel is the upper-case display form of a verdict.
func VerdictLabel(v runner.Verdict) string {
	switch v {
	case runner.VerdictPass:
		return "PASS"
	case runner.VerdictPassWithWarnings:
		return "PASS WITH WARNINGS"
	case runner.VerdictFail:
		return "FAIL"
	}
	return strings.ToUpper(string(v))
}

func statusLabel(s runner.StepStatus) string {
	switch s {
	case runner.StatusPass:
		return "PASS"
	case runner.StatusWarn:
		return "WARN"
	case runner.StatusFail:
		return "FAIL"
	}
	return strings.ToUpper(string(s))
}
