// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Khamel83/oos/cmd/oos/internal/clierr"
	"github.com/Khamel83/oos/internal/composition"
)

type compositionItem struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
	File        string `json:"file"`
	Error       string `json:"error,omitempty"`
}

func newCompositionsCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "compositions",
		Short: "List the compositions in the compositions directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat := a.catalog()
			files, err := cat.Files()
			if err != nil {
				return clierr.Wrap(1, "listing compositions", err)
			}
			names, err := cat.Names()
			if err != nil {
				return clierr.Wrap(1, "listing compositions", err)
			}

			items := make([]compositionItem, 0, len(names))
			width := 0
			for _, name := range names {
				item := compositionItem{Name: name, File: filepath.Base(files[name])}
				def, err := cat.Load(name)
				if err != nil {
					a.logger.Warn("invalid composition", "file", files[name], "err", err)
					item.Error = err.Error()
				} else {
					item.Description = def.Description
					item.Steps = len(def.Steps)
				}
				items = append(items, item)
				width = max(width, len(name))
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"compositions": items})
			}
			for _, it := range items {
				switch {
				case it.Error != "":
					_, _ = fmt.Fprintf(out, "%-*s  (invalid)\n", width, it.Name)
				case it.Description != "":
					_, _ = fmt.Fprintf(out, "%-*s  %s\n", width, it.Name, it.Description)
				default:
					_, _ = fmt.Fprintln(out, it.Name)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [composition...]",
		Short: "Check compositions parse and reference existing modules",
		Long: `Load each named composition (all of them when none is named) and check
that every step's module exists. Exits 1 when any composition has a problem.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := a.catalog()
			names := args
			if len(names) == 0 {
				all, err := cat.Names()
				if err != nil {
					return clierr.Wrap(1, "listing compositions", err)
				}
				names = all
			}
			if len(names) == 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No compositions in %s\n", cat.Dir())
				return nil
			}

			reg, err := a.registry()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			invalid := 0
			for _, name := range names {
				def, err := cat.Load(name)
				if err != nil {
					invalid++
					_, _ = fmt.Fprintf(out, "%s: %v\n", name, err)
					continue
				}
				problems := composition.Check(def, reg)
				if len(problems) == 0 {
					_, _ = fmt.Fprintf(out, "%s: ok (%d steps)\n", def.Name, len(def.Steps))
					continue
				}
				invalid++
				for _, p := range problems {
					_, _ = fmt.Fprintf(out, "%s: %s\n", def.Name, p)
				}
			}

			if invalid > 0 {
				return clierr.Newf(1, "%d of %d compositions have problems", invalid, len(names))
			}
			return nil
		},
	}
}
