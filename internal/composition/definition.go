// SPDX-License-Identifier: AGPL-3.0-or-later

// Package composition defines and loads compositions: named, ordered lists of
// module invocations that make up one workflow.
//
// Compositions live in the compositions directory as YAML (.yaml, .yml),
// TOML (.toml) or line-oriented (.oos) files. Every definition is validated
// when loaded so a malformed file is rejected before any step runs.
package composition

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Khamel83/oos/internal/module"
)

var (
	// ErrInvalidDefinition wraps every load-time validation failure.
	ErrInvalidDefinition = errors.New("invalid composition")

	// ErrNotFound is returned when no composition file matches a name.
	ErrNotFound = errors.New("composition not found")
)

// Criticality classifies a step's effect on the verdict.
type Criticality string

const (
	// Critical step failures fail the whole run.
	Critical Criticality = "critical"
	// Advisory step failures are reported as warnings.
	Advisory Criticality = "advisory"
)

// ParseCriticality accepts "critical" or "advisory"; empty means critical.
func ParseCriticality(s string) (Criticality, error) {
	switch Criticality(strings.ToLower(strings.TrimSpace(s))) {
	case "", Critical:
		return Critical, nil
	case Advisory:
		return Advisory, nil
	}
	return "", fmt.Errorf("%w: unknown criticality %q", ErrInvalidDefinition, s)
}

// Step is one module invocation within a composition.
type Step struct {
	Module      module.ID     `json:"module"`
	Criticality Criticality   `json:"criticality"`
	Args        []string      `json:"args,omitempty"`
	// Timeout overrides the composition timeout when set; zero means no deadline.
	Timeout *time.Duration `json:"timeout,omitempty"`
}

// Name is the step's display name, "category/name".
func (s Step) Name() string { return s.Module.String() }

// Definition is a loaded, validated composition.
type Definition struct {
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	StopOnFailure bool          `json:"stop_on_failure"`
	// Timeout applies to steps without their own; nil defers to the run default.
	Timeout *time.Duration `json:"timeout,omitempty"`
	Steps         []Step        `json:"steps"`
	// Source is the file the definition was loaded from, if any.
	Source string `json:"source,omitempty"`
}

// Validate checks structural rules. It does not consult a registry; see Check.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidDefinition, d.Name)
	}
	if d.Timeout != nil && *d.Timeout < 0 {
		return fmt.Errorf("%w: %s has a negative timeout", ErrInvalidDefinition, d.Name)
	}
	for i, s := range d.Steps {
		if s.Module.Category == "" || s.Module.Name == "" {
			return fmt.Errorf("%w: %s step %d has no module", ErrInvalidDefinition, d.Name, i+1)
		}
		switch s.Criticality {
		case Critical, Advisory:
		default:
			return fmt.Errorf("%w: %s step %d (%s) has invalid criticality %q", ErrInvalidDefinition, d.Name, i+1, s.Name(), s.Criticality)
		}
		if s.Timeout != nil && *s.Timeout < 0 {
			return fmt.Errorf("%w: %s step %d (%s) has a negative timeout", ErrInvalidDefinition, d.Name, i+1, s.Name())
		}
	}
	return nil
}

// Problem is a step whose module cannot be resolved.
type Problem struct {
	Step   int    `json:"step"`
	Module string `json:"module"`
	Reason string `json:"reason"`
}

func (p Problem) String() string {
	return fmt.Sprintf("step %d: %s: %s", p.Step, p.Module, p.Reason)
}

// Check resolves every step against reg and reports the ones that would run
// as "not found". Steps are numbered from 1.
func Check(d Definition, reg *module.Registry) []Problem {
	var problems []Problem
	for i, s := range d.Steps {
		if _, err := reg.Lookup(s.Module); err != nil {
			problems = append(problems, Problem{
				Step:   i + 1,
				Module: s.Name(),
				Reason: "module not found",
			})
		}
	}
	return problems
}
