// SPDX-License-Identifier: AGPL-3.0-or-later

package composition

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Khamel83/oos/internal/module"
)

// DefaultDir is the conventional compositions directory under the project root.
const DefaultDir = "compositions"

// Format is a composition file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatLine Format = "oos"
)

// FormatForPath picks the format from a file extension.
func FormatForPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	case ".oos":
		return FormatLine, true
	}
	return "", false
}

// ParseOptions tunes Parse.
type ParseOptions struct {
	// Name is used when the file does not declare one.
	Name string
	// Lookup resolves $VAR references in line-format args. Nil expands to "".
	Lookup func(string) string
}

// fileDefinition is the YAML/TOML schema.
type fileDefinition struct {
	Name          string     `yaml:"name" toml:"name"`
	Description   string     `yaml:"description" toml:"description"`
	StopOnFailure bool       `yaml:"stop_on_failure" toml:"stop_on_failure"`
	Timeout       string     `yaml:"timeout" toml:"timeout"`
	Steps         []fileStep `yaml:"steps" toml:"steps"`
}

type fileStep struct {
	Module      string   `yaml:"module" toml:"module"`
	Criticality string   `yaml:"criticality" toml:"criticality"`
	Args        []string `yaml:"args" toml:"args"`
	Timeout     string   `yaml:"timeout" toml:"timeout"`
}

// Parse decodes and validates a definition.
func Parse(data []byte, format Format, opts ParseOptions) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("%w: definition payload is empty", ErrInvalidDefinition)
	}

	var def Definition
	switch format {
	case FormatYAML:
		var fd fileDefinition
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fd); err != nil {
			return Definition{}, fmt.Errorf("%w: decode yaml: %v", ErrInvalidDefinition, err)
		}
		d, err := fd.normalized()
		if err != nil {
			return Definition{}, err
		}
		def = d
	case FormatTOML:
		var fd fileDefinition
		if err := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&fd); err != nil {
			return Definition{}, fmt.Errorf("%w: decode toml: %v", ErrInvalidDefinition, err)
		}
		d, err := fd.normalized()
		if err != nil {
			return Definition{}, err
		}
		def = d
	case FormatLine:
		d, err := parseLines(data, opts.Lookup)
		if err != nil {
			return Definition{}, err
		}
		def = d
	default:
		return Definition{}, fmt.Errorf("%w: unsupported format %q", ErrInvalidDefinition, format)
	}

	if def.Name == "" {
		def.Name = opts.Name
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

func (fd fileDefinition) normalized() (Definition, error) {
	def := Definition{
		Name:          strings.TrimSpace(fd.Name),
		Description:   strings.TrimSpace(fd.Description),
		StopOnFailure: fd.StopOnFailure,
	}
	timeout, err := parseDuration(fd.Timeout)
	if err != nil {
		return Definition{}, err
	}
	def.Timeout = timeout

	for i, fs := range fd.Steps {
		id, err := module.ParseID(fs.Module)
		if err != nil {
			return Definition{}, fmt.Errorf("%w: step %d: %v", ErrInvalidDefinition, i+1, err)
		}
		crit, err := ParseCriticality(fs.Criticality)
		if err != nil {
			return Definition{}, fmt.Errorf("step %d: %w", i+1, err)
		}
		stepTimeout, err := parseDuration(fs.Timeout)
		if err != nil {
			return Definition{}, fmt.Errorf("step %d: %w", i+1, err)
		}
		def.Steps = append(def.Steps, Step{
			Module:      id,
			Criticality: crit,
			Args:        fs.Args,
			Timeout:     stepTimeout,
		})
	}
	return def, nil
}

// parseDuration returns nil for an empty string so an explicit "0s" stays
// distinguishable from an unset timeout.
func parseDuration(s string) (*time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad duration %q", ErrInvalidDefinition, s)
	}
	if d < 0 {
		return nil, fmt.Errorf("%w: negative duration %q", ErrInvalidDefinition, s)
	}
	return &d, nil
}

// LoadFile loads a definition from an explicit path. The file's base name is
// the default composition name.
func LoadFile(path string, lookup func(string) string) (Definition, error) {
	format, ok := FormatForPath(path)
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s: unknown file extension", ErrInvalidDefinition, path)
	}
	data, err := os.ReadFile(path) //nolint:gosec // composition paths come from the project layout
	if err != nil {
		return Definition{}, fmt.Errorf("composition: read %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	def, err := Parse(data, format, ParseOptions{Name: name, Lookup: lookup})
	if err != nil {
		return Definition{}, fmt.Errorf("composition: %s: %w", path, err)
	}
	def.Source = path
	return def, nil
}

// Catalog finds compositions by name in a directory.
type Catalog struct {
	dir    string
	lookup func(string) string
}

// NewCatalog returns a catalog over dir. lookup expands $VAR in line-format args.
func NewCatalog(dir string, lookup func(string) string) *Catalog {
	if dir == "" {
		dir = DefaultDir
	}
	return &Catalog{dir: dir, lookup: lookup}
}

// Dir returns the catalog directory.
func (c *Catalog) Dir() string { return c.dir }

// Files maps composition names to their files. A name defined by two files
// is an error so lookups stay unambiguous.
func (c *Catalog) Files() (map[string]string, error) {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("composition: read %s: %w", c.dir, err)
	}
	files := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, ok := FormatForPath(e.Name()); !ok {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		path := filepath.Join(c.dir, e.Name())
		if prev, dup := files[name]; dup {
			return nil, fmt.Errorf("composition: %s defined twice (%s and %s)", name, prev, path)
		}
		files[name] = path
	}
	return files, nil
}

// Names returns the sorted composition names.
func (c *Catalog) Names() ([]string, error) {
	files, err := c.Files()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Load resolves name to a definition. A name that points at an existing file
// with a known extension is loaded directly.
func (c *Catalog) Load(name string) (Definition, error) {
	if _, ok := FormatForPath(name); ok {
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			return LoadFile(name, c.lookup)
		}
	}
	files, err := c.Files()
	if err != nil {
		return Definition{}, err
	}
	path, ok := files[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s (looked in %s)", ErrNotFound, name, c.dir)
	}
	return LoadFile(path, c.lookup)
}
