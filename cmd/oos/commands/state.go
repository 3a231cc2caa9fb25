// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Khamel83/oos/cmd/oos/internal/clierr"
	"github.com/Khamel83/oos/internal/report"
	"github.com/Khamel83/oos/internal/runner"
)

func newReportCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report [composition]",
		Short: "Show the last recorded run",
		Long:  "Show the most recent run, or the most recent run of the named composition.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.store()
			var (
				last *runner.LastRun
				err  error
			)
			if len(args) == 1 {
				last, err = store.ReadRun(args[0])
			} else {
				last, err = store.ReadLastRun()
			}
			if err != nil {
				return clierr.Wrap(1, "reading run state", err)
			}

			out := cmd.OutOrStdout()
			if last == nil {
				if asJSON {
					return json.NewEncoder(out).Encode(nil)
				}
				_, _ = fmt.Fprintln(out, "No recorded run.")
				return nil
			}
			return report.Write(out, *last, a.format(out, asJSON))
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear recorded run state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := a.store()
			if err := store.Reset(); err != nil {
				return clierr.Wrap(1, "clearing run state", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared run state in %s\n", store.Dir())
			return nil
		},
	}
}
