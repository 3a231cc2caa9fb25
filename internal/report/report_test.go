// SPDX-License-Identifier: AGPL-3.0-or-later

package report

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khamel83/oos/internal/composition"
	"github.com/Khamel83/oos/internal/module"
	"github.com/Khamel83/oos/internal/runner"
	"github.com/Khamel83/oos/internal/testutil/golden"
)

func step(i int, name string, crit composition.Criticality, status runner.StepStatus, outcome module.Outcome, code int, msg string) runner.StepRecord {
	return runner.StepRecord{
		Index:       i,
		Module:      name,
		Criticality: crit,
		Status:      status,
		Outcome:     outcome,
		ExitCode:    code,
		Message:     msg,
	}
}

func mixedRun() runner.LastRun {
	return runner.LastRun{
		ID:          "run-1",
		Composition: "preflight",
		Verdict:     runner.VerdictFail,
		Declared:    7,
		Steps: []runner.StepRecord{
			step(0, "security/secrets", composition.Critical, runner.StatusPass, module.OutcomeSuccess, 0, "no secrets found"),
			step(1, "git/status", composition.Critical, runner.StatusFail, module.OutcomeFailure, 1, "working tree dirty"),
			step(2, "env/op", composition.Advisory, runner.StatusWarn, module.OutcomeFailure, 1, "op not signed in"),
			step(3, "net/ping", composition.Critical, runner.StatusFail, module.OutcomeTimeout, -1, ""),
			step(4, "deps/lint", composition.Critical, runner.StatusWarn, module.OutcomeWarning, 2, "2 deprecated packages"),
			step(5, "ci/missing", composition.Critical, runner.StatusFail, module.OutcomeNotFound, 1, "missing not found"),
			step(6, "sys/crash", composition.Advisory, runner.StatusWarn, module.OutcomeAbnormal, 139, ""),
		},
	}
}

func TestSummarizeRecord_Golden(t *testing.T) {
	tests := []struct {
		name     string
		last     runner.LastRun
		exitCode int
	}{
		{
			name:     "mixed",
			last:     mixedRun(),
			exitCode: 1,
		},
		{
			name: "all_pass",
			last: runner.LastRun{
				Composition: "preflight",
				Verdict:     runner.VerdictPass,
				Declared:    3,
				Steps: []runner.StepRecord{
					step(0, "security/secrets", composition.Critical, runner.StatusPass, module.OutcomeSuccess, 0, "no secrets found"),
					step(1, "git/status", composition.Critical, runner.StatusPass, module.OutcomeSuccess, 0, "clean"),
					step(2, "env/op", composition.Critical, runner.StatusPass, module.OutcomeSuccess, 0, ""),
				},
			},
			exitCode: 0,
		},
		{
			name: "warnings",
			last: runner.LastRun{
				Composition: "preflight",
				Verdict:     runner.VerdictPassWithWarnings,
				Declared:    2,
				Steps: []runner.StepRecord{
					step(0, "git/status", composition.Critical, runner.StatusPass, module.OutcomeSuccess, 0, "clean"),
					step(1, "env/op", composition.Advisory, runner.StatusWarn, module.OutcomeFailure, 1, "op not signed in"),
				},
			},
			exitCode: 0,
		},
		{
			name: "stopped",
			last: runner.LastRun{
				Composition: "release",
				Verdict:     runner.VerdictFail,
				Declared:    4,
				Stopped:     true,
				Steps: []runner.StepRecord{
					step(0, "git/status", composition.Critical, runner.StatusPass, module.OutcomeSuccess, 0, "clean"),
					step(1, "test/unit", composition.Critical, runner.StatusFail, module.OutcomeFailure, 1, "3 tests failed"),
				},
			},
			exitCode: 1,
		},
		{
			name: "interrupted",
			last: runner.LastRun{
				Composition: "release",
				Verdict:     runner.VerdictFail,
				Declared:    3,
				Interrupted: true,
				Steps: []runner.StepRecord{
					step(0, "git/status", composition.Critical, runner.StatusFail, module.OutcomeAbnormal, -1, ""),
				},
			},
			exitCode: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SummarizeRecord(tt.last)
			assert.Equal(t, tt.exitCode, s.ExitCode)
			golden.Assert(t, tt.name, s.Text)
		})
	}
}

func TestSummarize_FromRun(t *testing.T) {
	def := composition.Definition{
		Name: "preflight",
		Steps: []composition.Step{
			{Module: module.ID{Category: "git", Name: "status"}, Criticality: composition.Critical},
			{Module: module.ID{Category: "env", Name: "op"}, Criticality: composition.Advisory},
		},
	}
	run := &runner.Run{
		Definition: def,
		Verdict:    runner.VerdictPassWithWarnings,
		Results: []runner.StepResult{
			{Index: 0, Step: def.Steps[0], Status: runner.StatusPass, Result: module.Result{Outcome: module.OutcomeSuccess, Output: "checking\nclean\n"}},
			{Index: 1, Step: def.Steps[1], Status: runner.StatusWarn, Result: module.Result{Outcome: module.OutcomeFailure, ExitCode: 1, Output: "op not signed in\n"}},
		},
	}

	s := Summarize(run)
	assert.Equal(t, 0, s.ExitCode)
	golden.Assert(t, "warnings", s.Text)

	// Summarizing twice yields identical output and leaves the run untouched.
	assert.Equal(t, s, Summarize(run))
	assert.Len(t, run.Results, 2)
}

func TestSummarize_FailedOrderFollowsDeclaration(t *testing.T) {
	s := SummarizeRecord(mixedRun())
	assert.Contains(t, s.Text, "Failed: git/status, net/ping, ci/missing\n")
	assert.Contains(t, s.Text, "Warnings: env/op, deps/lint, sys/crash\n")
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, mixedRun(), FormatJSON))

	var doc struct {
		Composition string              `json:"composition"`
		Verdict     string              `json:"verdict"`
		ExitCode    int                 `json:"exit_code"`
		Counts      runner.Counts       `json:"counts"`
		Steps       []runner.StepRecord `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "preflight", doc.Composition)
	assert.Equal(t, "fail", doc.Verdict)
	assert.Equal(t, 1, doc.ExitCode)
	assert.Equal(t, runner.Counts{Declared: 7, Executed: 7, Passed: 1, Warned: 3, Failed: 3}, doc.Counts)
	require.Len(t, doc.Steps, 7)
	assert.Equal(t, module.OutcomeTimeout, doc.Steps[3].Outcome)
}

func TestWrite_JSONEmptySteps(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, runner.LastRun{Composition: "x", Verdict: runner.VerdictPass}, FormatJSON))
	assert.Contains(t, buf.String(), `"steps": []`)
}

func TestWrite_Styled(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, mixedRun(), FormatStyled))
	out := buf.String()
	assert.Contains(t, out, "Composition:")
	assert.Contains(t, out, "security/secrets")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "Verdict:")
}

func TestWrite_TextMatchesSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, mixedRun(), FormatText))
	assert.Equal(t, SummarizeRecord(mixedRun()).Text, buf.String())
}

func TestVerdictLabel(t *testing.T) {
	assert.Equal(t, "PASS", VerdictLabel(runner.VerdictPass))
	assert.Equal(t, "PASS WITH WARNINGS", VerdictLabel(runner.VerdictPassWithWarnings))
	assert.Equal(t, "FAIL", VerdictLabel(runner.VerdictFail))
}
