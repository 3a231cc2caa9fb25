// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Khamel83/oos/cmd/oos/internal/clierr"
	"github.com/Khamel83/oos/internal/module"
	"github.com/Khamel83/oos/internal/runner"
)

func newRunModuleCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run-module <category> <name> [args...]",
		Short: "Run a single module and exit with its exit code",
		Long: `Run one module directly. The module's stdout is passed through and its
exit code becomes oos's exit code. The module may also be named
<category>/<name>. Flags after the module name are passed to the module.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, rest, err := parseModuleArgs(args)
			if err != nil {
				return clierr.Wrap(1, "", err)
			}

			reg, err := a.registry()
			if err != nil {
				return err
			}
			stepTimeout := a.cfg.StepTimeout
			if err := checkTimeout(timeout); err != nil {
				return err
			}
			if cmd.Flags().Changed("timeout") {
				stepTimeout = timeout
			}
			eng := runner.NewRunner(a.invoker(reg, cmd.OutOrStdout()), nil, &runner.Deps{
				StepTimeout: stepTimeout,
				Logger:      a.logger,
			})

			res, err := eng.RunModule(cmd.Context(), id, rest)
			if errors.Is(err, module.ErrModuleNotFound) {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), res.Output)
				return clierr.Exit(module.ExitFailure)
			}
			if err != nil {
				return clierr.Wrap(1, "running module", err)
			}
			if res.Stderr != "" {
				_, _ = fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
			}

			switch res.Outcome {
			case module.OutcomeSuccess:
				return nil
			case module.OutcomeTimeout:
				a.logger.Error("module timed out", "module", id, "timeout", stepTimeout)
			case module.OutcomeAbnormal:
				a.logger.Error("module ended abnormally", "module", id, "exit", res.ExitCode)
			}
			return clierr.Exit(res.ExitCode)
		},
	}

	// Everything after the module name belongs to the module.
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "module timeout, overriding step_timeout (0 disables)")
	return cmd
}

// parseModuleArgs accepts "category name args..." or "category/name args...".
func parseModuleArgs(args []string) (module.ID, []string, error) {
	if strings.Contains(args[0], "/") {
		id, err := module.ParseID(args[0])
		return id, args[1:], err
	}
	if len(args) < 2 {
		return module.ID{}, nil, fmt.Errorf("%w: %q needs a module name", module.ErrInvalidID, args[0])
	}
	id := module.ID{Category: args[0], Name: args[1]}
	if strings.Contains(id.Name, "/") {
		return module.ID{}, nil, fmt.Errorf("%w: %q", module.ErrInvalidID, id.Name)
	}
	return id, args[2:], nil
}

func newListCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list [category]",
		Short: "List available modules as category/name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			category := ""
			if len(args) == 1 {
				category = args[0]
			}

			ids := []string{}
			for d := range reg.List(category) {
				ids = append(ids, d.ID().String())
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"modules": ids})
			}
			for _, id := range ids {
				_, _ = fmt.Fprintln(out, id)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
