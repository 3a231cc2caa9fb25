// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Khamel83/oos/cmd/oos/internal/clierr"
	"github.com/Khamel83/oos/internal/composition"
	"github.com/Khamel83/oos/internal/report"
	"github.com/Khamel83/oos/internal/runner"
	"github.com/Khamel83/oos/internal/watch"
)

type runFlags struct {
	json          bool
	stopOnFailure bool
	timeout       time.Duration
	timeoutSet    bool
	watch         bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run <composition>",
		Short: "Run a composition and print its verdict",
		Long: `Run every step of a composition in order and print a summary.

Critical step failures fail the run; advisory failures and exit code 2 only
warn. Exits 1 when the verdict is fail and 0 otherwise. The summary is saved
under the state directory for "oos report" and "oos resume".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			f.timeoutSet = cmd.Flags().Changed("timeout")
			if err := checkTimeout(f.timeout); err != nil {
				return err
			}
			if !f.watch {
				return a.runComposition(cmd.Context(), cmd.OutOrStdout(), name, f)
			}
			return a.watchComposition(cmd.Context(), cmd.OutOrStdout(), name, f)
		},
	}

	cmd.Flags().BoolVar(&f.json, "json", false, "output the summary as JSON")
	cmd.Flags().BoolVar(&f.stopOnFailure, "stop-on-failure", false, "stop after the first failed critical step")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "default per-step timeout for this run, overriding step_timeout (0 disables)")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "rerun when modules or compositions change")
	return cmd
}

func checkTimeout(d time.Duration) error {
	if d < 0 {
		return clierr.Newf(1, "--timeout must not be negative, got %s", d)
	}
	return nil
}

func (a *app) engine(inv runner.Invoker, f runFlags) *runner.Runner {
	timeout := a.cfg.StepTimeout
	if f.timeoutSet {
		timeout = f.timeout
	}
	return runner.NewRunner(inv, a.store(), &runner.Deps{
		StepTimeout:   timeout,
		StopOnFailure: f.stopOnFailure,
		Logger:        a.logger,
	})
}

// loadComposition loads name and warns about steps whose module is missing.
func (a *app) loadComposition(name string) (composition.Definition, runner.Invoker, error) {
	def, err := a.catalog().Load(name)
	if err != nil {
		return composition.Definition{}, nil, clierr.Wrap(1, "loading composition", err)
	}
	reg, err := a.registry()
	if err != nil {
		return composition.Definition{}, nil, err
	}
	for _, p := range composition.Check(def, reg) {
		a.logger.Warn("composition problem", "composition", def.Name, "problem", p.String())
	}
	return def, a.invoker(reg, nil), nil
}

func (a *app) runComposition(ctx context.Context, out io.Writer, name string, f runFlags) error {
	def, inv, err := a.loadComposition(name)
	if err != nil {
		return err
	}

	run, err := a.engine(inv, f).Run(ctx, def)
	if run == nil {
		return clierr.Wrap(1, "running composition", err)
	}
	if err != nil {
		// The run itself finished; only persisting its summary failed.
		a.logger.Error("could not save run state", "err", err)
	}
	return a.printRecord(out, run.Record(), f.json)
}

func (a *app) printRecord(out io.Writer, last runner.LastRun, asJSON bool) error {
	if err := report.Write(out, last, a.format(out, asJSON)); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	if code := last.Verdict.ExitCode(); code != 0 {
		return clierr.Exit(code)
	}
	return nil
}

func (a *app) watchComposition(ctx context.Context, out io.Writer, name string, f runFlags) error {
	rerun := func(ctx context.Context) {
		err := a.runComposition(ctx, out, name, f)
		if err != nil && !clierr.Silent(err) {
			a.logger.Error("run failed", "err", err)
		}
	}
	rerun(ctx)

	w, err := watch.New(watch.Config{
		Dirs:   []string{a.cfg.ModulesPath(), a.cfg.CompositionsPath()},
		Logger: a.logger,
		OnChange: func(ctx context.Context, changed []string) error {
			a.logger.Info("change detected, rerunning", "composition", name, "files", len(changed))
			rerun(ctx)
			return nil
		},
	})
	if err != nil {
		return clierr.Wrap(1, "starting watcher", err)
	}
	a.logger.Info("watching for changes", "dirs", w.Roots())
	return w.Run(ctx)
}

func newResumeCmd(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "resume <composition>",
		Short: "Re-run the steps that failed or warned in the last run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			f.timeoutSet = cmd.Flags().Changed("timeout")
			if err := checkTimeout(f.timeout); err != nil {
				return err
			}
			def, inv, err := a.loadComposition(args[0])
			if err != nil {
				return err
			}

			run, err := a.engine(inv, f).Resume(cmd.Context(), def)
			switch {
			case errors.Is(err, runner.ErrNoRecordedRun):
				return clierr.Wrap(1, "nothing to resume", err)
			case err != nil && run == nil:
				return clierr.Wrap(1, "resuming composition", err)
			case err != nil:
				a.logger.Error("could not save run state", "err", err)
				return a.printRecord(out, run.Record(), f.json)
			case run == nil:
				_, _ = fmt.Fprintf(out, "Last run of %s passed; nothing to resume.\n", def.Name)
				return nil
			}

			merged, err := a.store().ReadRun(def.Name)
			if err != nil || merged == nil {
				return a.printRecord(out, run.Record(), f.json)
			}
			return a.printRecord(out, *merged, f.json)
		},
	}

	cmd.Flags().BoolVar(&f.json, "json", false, "output the summary as JSON")
	cmd.Flags().BoolVar(&f.stopOnFailure, "stop-on-failure", false, "stop after the first failed critical step")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "default per-step timeout for this run, overriding step_timeout (0 disables)")
	return cmd
}
