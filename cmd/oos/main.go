// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Khamel83/oos/cmd/oos/commands"
	"github.com/Khamel83/oos/cmd/oos/internal/clierr"
)

func main() {
	// SIGINT/SIGTERM cancel the in-flight module; the run is recorded as interrupted.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.NewRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		if !clierr.Silent(err) {
			fmt.Fprintln(os.Stderr, "oos:", err)
		}
		os.Exit(clierr.ExitCodeOf(err))
	}
}
