// SPDX-License-Identifier: AGPL-3.0-or-later

// Package module discovers and invokes OOS modules: single-purpose executables
// stored under modules/<category>/<name> that report through a three-valued
// exit code (0 success, 1 failure, 2 warning) and one line of stdout.
package module

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrModuleNotFound is returned when no executable matches a (category, name) pair.
	ErrModuleNotFound = errors.New("module not found")

	// ErrInvalidID is returned by ParseID for malformed identifiers.
	ErrInvalidID = errors.New("invalid module id")
)

// ID identifies a module within a registry.
type ID struct {
	Category string
	Name     string
}

// ParseID parses "category/name".
func ParseID(s string) (ID, error) {
	category, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || category == "" || name == "" || strings.Contains(name, "/") {
		return ID{}, fmt.Errorf("%w: %q (want category/name)", ErrInvalidID, s)
	}
	return ID{Category: category, Name: name}, nil
}

func (id ID) String() string {
	return id.Category + "/" + id.Name
}

// MarshalText renders the id as "category/name".
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses "category/name".
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Descriptor is a discovered module. It is immutable once built.
type Descriptor struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Path     string `json:"path"`
}

// ID returns the descriptor's identity.
func (d Descriptor) ID() ID {
	return ID{Category: d.Category, Name: d.Name}
}

// Outcome is the typed form of a module's exit code.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeWarning  Outcome = "warning"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeAbnormal Outcome = "abnormal"
	OutcomeNotFound Outcome = "not_found"
)

// Exit codes of the module contract.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitWarning = 2
)

// OutcomeFromExitCode maps a raw process exit code onto the module contract.
// Codes outside {0,1,2}, including -1 for signal termination, are abnormal.
func OutcomeFromExitCode(code int) Outcome {
	switch code {
	case ExitSuccess:
		return OutcomeSuccess
	case ExitFailure:
		return OutcomeFailure
	case ExitWarning:
		return OutcomeWarning
	default:
		return OutcomeAbnormal
	}
}

// Failed reports whether the outcome counts as a failure.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeFailure, OutcomeTimeout, OutcomeAbnormal, OutcomeNotFound:
		return true
	}
	return false
}

// Result is the outcome of exactly one module invocation.
type Result struct {
	Module     ID            `json:"module"`
	Outcome    Outcome       `json:"outcome"`
	ExitCode   int           `json:"exit_code"`
	Output     string        `json:"output,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// Message returns the module's status line: the last non-empty stdout line,
// falling back to the last stderr line.
func (r Result) Message() string {
	if line := lastLine(r.Output); line != "" {
		return line
	}
	return lastLine(r.Stderr)
}

// NotFoundResult is the result recorded for a step whose module does not exist.
func NotFoundResult(id ID) Result {
	return Result{
		Module:   id,
		Outcome:  OutcomeNotFound,
		ExitCode: ExitFailure,
		Output:   id.Name + " not found",
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
