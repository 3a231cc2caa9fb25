// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Khamel83/oos/cmd/oos/internal/clierr"
)

type scaffoldFile struct {
	path string // relative to its base directory
	body string
	mode fs.FileMode
}

var scaffoldModules = []scaffoldFile{
	{
		path: "git/clean.sh",
		mode: 0o755,
		body: `#!/bin/sh
# Fails when the working tree has uncommitted changes.
if ! git rev-parse --is-inside-work-tree >/dev/null 2>&1; then
  echo "not a git repository"
  exit 2
fi
if [ -n "$(git status --porcelain)" ]; then
  echo "working tree has uncommitted changes"
  exit 1
fi
echo "working tree clean"
`,
	},
	{
		path: "env/tools.sh",
		mode: 0o755,
		body: `#!/bin/sh
# Warns about missing optional tools.
missing=""
for tool in ${OOS_TOOLS:-git make}; do
  command -v "$tool" >/dev/null 2>&1 || missing="$missing $tool"
done
if [ -n "$missing" ]; then
  echo "missing tools:$missing"
  exit 2
fi
echo "all tools present"
`,
	},
}

var scaffoldCompositions = []scaffoldFile{
	{
		path: "preflight.yaml",
		mode: 0o644,
		body: `description: Checks to run before pushing
steps:
  - module: git/clean
    criticality: critical
  - module: env/tools
    criticality: advisory
    timeout: 30s
`,
	},
	{
		path: "quick.oos",
		mode: 0o644,
		body: `# One step per line: <category>/<name> [critical|advisory] [args...]
@description Fast local sanity check
env/tools advisory
`,
	},
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold example modules and compositions",
		Long:  "Create the modules and compositions directories with working examples. Existing files are left untouched.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, set := range []struct {
				base  string
				files []scaffoldFile
			}{
				{a.cfg.ModulesPath(), scaffoldModules},
				{a.cfg.CompositionsPath(), scaffoldCompositions},
			} {
				for _, f := range set.files {
					path := filepath.Join(set.base, filepath.FromSlash(f.path))
					created, err := createFile(path, f.body, f.mode)
					if err != nil {
						return clierr.Wrap(1, "scaffolding", err)
					}
					rel, _ := filepath.Rel(a.cfg.Root, path)
					if created {
						_, _ = fmt.Fprintf(out, "created %s\n", rel)
					} else {
						_, _ = fmt.Fprintf(out, "exists  %s\n", rel)
					}
				}
			}
			_, _ = fmt.Fprintln(out, "Try: oos run preflight")
			return nil
		},
	}
}

// createFile writes body to path unless the file already exists.
func createFile(path, body string, mode fs.FileMode) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode) //nolint:gosec // scaffold paths are fixed
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := f.WriteString(body); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, err
	}
	// umask may have stripped the execute bits.
	return true, os.Chmod(path, mode)
}
