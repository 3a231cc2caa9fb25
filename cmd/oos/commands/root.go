// SPDX-License-Identifier: AGPL-3.0-or-later

/*
oos - runs composable health checks for a project.

Modules are small executables under modules/<category>/<name> that report
through their exit code. Compositions chain modules into ordered checks with
critical and advisory steps and a single pass / warn / fail verdict.
*/

package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Khamel83/oos/cmd/oos/internal/clierr"
	"github.com/Khamel83/oos/internal/composition"
	"github.com/Khamel83/oos/internal/config"
	"github.com/Khamel83/oos/internal/logging"
	"github.com/Khamel83/oos/internal/module"
	"github.com/Khamel83/oos/internal/report"
	"github.com/Khamel83/oos/internal/runner"
)

// Version is overridden at build time with -ldflags "-X ...commands.Version=...".
var Version = "0.0.0-dev"

const skipConfig = "oos/skip-config"

// app is the state shared by every subcommand of one root command.
type app struct {
	configFile string
	root       string
	verbose    bool

	environ func() []string

	cfg    *config.Config
	logger *log.Logger
}

// NewRootCmd constructs the oos root command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(os.Environ)
}

func newRootCmd(environ func() []string) *cobra.Command {
	a := &app{environ: environ}

	cmd := &cobra.Command{
		Use:           "oos",
		Short:         "Run composable project health checks",
		Long:          "oos runs modules (small executables reporting through exit codes) alone or chained into compositions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfig] != "" {
				return nil
			}
			return a.load(cmd)
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default <root>/"+config.DefaultFile+")")
	flags.StringVar(&a.root, "root", "", "project root (default current directory)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.Bool("no-color", false, "disable styled output")
	flags.String("modules-dir", "", "modules directory, relative to the root")
	flags.String("compositions-dir", "", "compositions directory, relative to the root")
	flags.String("state-dir", "", "run state directory, relative to the root")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output (debug logging)")

	cmd.AddCommand(&cobra.Command{
		Use:         "version",
		Short:       "Print the version number of oos",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "oos version %s\n", Version)
		},
	})

	cmd.AddCommand(
		newRunCmd(a),
		newResumeCmd(a),
		newRunModuleCmd(a),
		newListCmd(a),
		newCompositionsCmd(a),
		newValidateCmd(a),
		newReportCmd(a),
		newResetCmd(a),
		newInitCmd(a),
	)
	return cmd
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadOptions{
		Root:    a.root,
		File:    a.configFile,
		Flags:   cmd.Flags(),
		Environ: a.environ(),
	})
	if err != nil {
		return clierr.Wrap(1, "loading configuration", err)
	}

	level := cfg.LogLevel
	if a.verbose && !cmd.Flags().Changed("log-level") {
		level = "debug"
	}
	logger, err := logging.New(cmd.ErrOrStderr(), level)
	if err != nil {
		return clierr.Wrap(1, "configuring logging", err)
	}
	if cfg.File != "" {
		logger.Debug("loaded config", "file", cfg.File)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) registry() (*module.Registry, error) {
	reg, err := module.Discover(a.cfg.ModulesPath())
	if err != nil {
		return nil, clierr.Wrap(1, "discovering modules", err)
	}
	a.logger.Debug("discovered modules", "dir", reg.Dir(), "count", reg.Len())
	return reg, nil
}

func (a *app) catalog() *composition.Catalog {
	return composition.NewCatalog(a.cfg.CompositionsPath(), a.cfg.Lookup())
}

func (a *app) store() *runner.StateStore {
	return runner.NewStateStore(a.cfg.StatePath())
}

// invoker runs modules from the project root. stream, when set, receives
// module stdout as it is produced.
func (a *app) invoker(reg *module.Registry, stream io.Writer) *module.Runner {
	return module.NewRunner(reg, module.Options{
		Dir:     a.cfg.Root,
		Environ: a.cfg.Environ(),
		Stream:  stream,
		Logger:  a.logger,
	})
}

// format picks the summary renderer for w.
func (a *app) format(w io.Writer, asJSON bool) report.Format {
	switch {
	case asJSON:
		return report.FormatJSON
	case !a.cfg.NoColor && isTerminal(w):
		return report.FormatStyled
	default:
		return report.FormatText
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}
