// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the structured stderr logger shared by oos commands.
package logging

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// Prefix tags every log line.
const Prefix = "oos"

// New returns a logger writing to w at the named level (debug, info, warn,
// error, fatal).
func New(w io.Writer, level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return log.NewWithOptions(w, log.Options{
		Prefix: Prefix,
		Level:  lvl,
	}), nil
}
