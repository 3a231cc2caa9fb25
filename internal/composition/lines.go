// SPDX-License-Identifier: AGPL-3.0-or-later

package composition

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"time"

	"mvdan.cc/sh/v3/shell"

	"github.com/Khamel83/oos/internal/module"
)

// parseLines reads the line-oriented format:
//
//	# comment
//	@description Checks run before every commit
//	@stop-on-failure
//	@timeout 2m
//	@step-timeout 30s
//	security/secrets critical .
//	lint/shell advisory --severity "warning level"
//	env/op advisory --account "$OP_ACCOUNT"
//
// Each step line is split with POSIX shell quoting rules and $VAR expansion.
// The optional second field is the criticality; the remaining fields are args.
// An @step-timeout <dur> directive applies to the next step line only.
func parseLines(data []byte, lookup func(string) string) (Definition, error) {
	if lookup == nil {
		lookup = func(string) string { return "" }
	}

	var def Definition
	var pendingTimeout *time.Duration

	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "@") {
			directive, value, _ := strings.Cut(line[1:], " ")
			value = strings.TrimSpace(value)
			switch directive {
			case "name":
				def.Name = value
			case "description":
				def.Description = value
			case "stop-on-failure":
				def.StopOnFailure = true
			case "timeout":
				d, err := parseDuration(value)
				if err != nil {
					return Definition{}, fmt.Errorf("line %d: %w", lineNo, err)
				}
				def.Timeout = d
			case "step-timeout":
				d, err := parseDuration(value)
				if err != nil {
					return Definition{}, fmt.Errorf("line %d: %w", lineNo, err)
				}
				if d == nil {
					return Definition{}, fmt.Errorf("%w: line %d: @step-timeout needs a duration", ErrInvalidDefinition, lineNo)
				}
				pendingTimeout = d
			default:
				return Definition{}, fmt.Errorf("%w: line %d: unknown directive @%s", ErrInvalidDefinition, lineNo, directive)
			}
			continue
		}

		fields, err := shell.Fields(line, lookup)
		if err != nil {
			return Definition{}, fmt.Errorf("%w: line %d: %v", ErrInvalidDefinition, lineNo, err)
		}
		if len(fields) == 0 {
			continue
		}
		id, err := module.ParseID(fields[0])
		if err != nil {
			return Definition{}, fmt.Errorf("%w: line %d: %v", ErrInvalidDefinition, lineNo, err)
		}

		step := Step{Module: id, Criticality: Critical}
		rest := fields[1:]
		if len(rest) > 0 {
			switch Criticality(rest[0]) {
			case Critical, Advisory:
				step.Criticality = Criticality(rest[0])
				rest = rest[1:]
			}
		}
		if len(rest) > 0 {
			step.Args = rest
		}
		step.Timeout = pendingTimeout
		pendingTimeout = nil
		def.Steps = append(def.Steps, step)
	}
	if err := sc.Err(); err != nil {
		return Definition{}, fmt.Errorf("composition: scan: %w", err)
	}
	if pendingTimeout != nil {
		return Definition{}, fmt.Errorf("%w: @step-timeout without a following step", ErrInvalidDefinition)
	}
	return def, nil
}
