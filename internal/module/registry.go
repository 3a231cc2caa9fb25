// SPDX-License-Identifier: AGPL-3.0-or-later

package module

import (
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExcludeDirs lists category directory names never treated as categories.
func DefaultExcludeDirs() []string {
	return []string{
		"node_modules",
		".git",
		"lib",
		"testdata",
		"__pycache__",
	}
}

// Registry is the set of modules found under a modules directory.
// Descriptors are sorted by (category, name).
type Registry struct {
	dir     string
	modules []Descriptor
	index   map[ID]int
}

// Discover scans dir for modules/<category>/<name>[.ext] executables.
// A missing dir yields an empty registry. Two files resolving to the same
// (category, name) are rejected so every id resolves to one executable.
func Discover(dir string) (*Registry, error) {
	reg := &Registry{dir: dir, index: map[ID]int{}}

	categories, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading modules dir: %w", err)
	}

	for _, cat := range categories {
		if !cat.IsDir() || shouldExclude(cat.Name(), DefaultExcludeDirs()) {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(dir, cat.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading category %s: %w", cat.Name(), err)
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			path := filepath.Join(dir, cat.Name(), e.Name())
			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("stat %s/%s: %w", cat.Name(), e.Name(), err)
			}
			if !isExecutable(info) {
				continue
			}
			d := Descriptor{
				Category: cat.Name(),
				Name:     moduleName(e.Name()),
				Path:     path,
			}
			if err := reg.add(d); err != nil {
				return nil, err
			}
		}
	}

	reg.sortModules()
	return reg, nil
}

// NewRegistry builds a registry from explicit descriptors.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	reg := &Registry{index: map[ID]int{}}
	for _, d := range descriptors {
		if err := reg.add(d); err != nil {
			return nil, err
		}
	}
	reg.sortModules()
	return reg, nil
}

func (r *Registry) sortModules() {
	sort.Slice(r.modules, func(i, j int) bool {
		a, b := r.modules[i], r.modules[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Name < b.Name
	})
	for i, d := range r.modules {
		r.index[d.ID()] = i
	}
}

func (r *Registry) add(d Descriptor) error {
	if _, dup := r.index[d.ID()]; dup {
		prev := r.modules[r.index[d.ID()]]
		return fmt.Errorf("duplicate module %s (%s and %s)", d.ID(), prev.Path, d.Path)
	}
	r.index[d.ID()] = len(r.modules)
	r.modules = append(r.modules, d)
	return nil
}

// Dir returns the scanned directory, empty for registries built in memory.
func (r *Registry) Dir() string { return r.dir }

// Len returns the number of modules.
func (r *Registry) Len() int { return len(r.modules) }

// Lookup resolves id to its descriptor.
func (r *Registry) Lookup(id ID) (Descriptor, error) {
	i, ok := r.index[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return r.modules[i], nil
}

// List enumerates modules in (category, name) order, restricted to category
// when it is non-empty. The sequence can be ranged over any number of times.
func (r *Registry) List(category string) iter.Seq[Descriptor] {
	return func(yield func(Descriptor) bool) {
		for _, d := range r.modules {
			if category != "" && d.Category != category {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// Categories returns the sorted, de-duplicated category names.
func (r *Registry) Categories() []string {
	var out []string
	for _, d := range r.modules {
		if len(out) == 0 || out[len(out)-1] != d.Category {
			out = append(out, d.Category)
		}
	}
	return out
}

// moduleName strips one extension: "secrets.sh" -> "secrets".
func moduleName(file string) string {
	if ext := filepath.Ext(file); ext != "" && ext != file {
		return strings.TrimSuffix(file, ext)
	}
	return file
}

func isExecutable(info fs.FileInfo) bool {
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// shouldExclude matches whole names only: "lib" excludes "lib", not "library".
func shouldExclude(name string, excludes []string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, exclude := range excludes {
		if name == exclude {
			return true
		}
	}
	return false
}
