// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads oos settings from defaults, the project config file,
// OOS_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. OOS_STEP_TIMEOUT.
	EnvPrefix = "OOS"
	// DefaultFile is the project config file, relative to the root.
	DefaultFile = ".oos/config.yaml"
)

// Config holds resolved settings. Relative directories are resolved against Root.
type Config struct {
	ModulesDir      string            `mapstructure:"modules_dir"`
	CompositionsDir string            `mapstructure:"compositions_dir"`
	StateDir        string            `mapstructure:"state_dir"`
	StepTimeout     time.Duration     `mapstructure:"step_timeout"` // zero disables
	InheritEnv      bool              `mapstructure:"inherit_env"`
	Env             map[string]string `mapstructure:"env"`
	LogLevel        string            `mapstructure:"log_level"`
	NoColor         bool              `mapstructure:"no_color"`

	// Root is the project root every relative path hangs off.
	Root string `mapstructure:"-"`
	// File is the config file that was read, empty when none was.
	File string `mapstructure:"-"`

	baseEnv []string
}

// LoadOptions controls where configuration comes from.
type LoadOptions struct {
	// Root is the project root; defaults to the working directory.
	Root string
	// File, when set, must exist and replaces the project config file.
	File string
	// Flags are bound by name: modules-dir, compositions-dir, state-dir,
	// log-level, no-color. Names missing from the set are skipped.
	Flags *pflag.FlagSet
	// Environ is the process environment snapshot used when inherit_env is set.
	Environ []string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ModulesDir:      "modules",
		CompositionsDir: "compositions",
		StateDir:        ".oos/run",
		StepTimeout:     5 * time.Minute,
		InheritEnv:      true,
		Env:             map[string]string{},
		LogLevel:        "info",
		NoColor:         false,
	}
}

var flagKeys = map[string]string{
	"modules_dir":      "modules-dir",
	"compositions_dir": "compositions-dir",
	"state_dir":        "state-dir",
	"log_level":        "log-level",
	"no_color":         "no-color",
}

// Load resolves configuration. Precedence: flags, OOS_* env, config file, defaults.
func Load(opts LoadOptions) (*Config, error) {
	root := opts.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}
	// Modules run with the root as their working directory; paths under it must be absolute.
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", opts.Root, err)
	}

	v := viper.New()
	d := Default()
	v.SetDefault("modules_dir", d.ModulesDir)
	v.SetDefault("compositions_dir", d.CompositionsDir)
	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("step_timeout", d.StepTimeout)
	v.SetDefault("inherit_env", d.InheritEnv)
	v.SetDefault("env", d.Env)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("no_color", d.NoColor)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if opts.Flags != nil {
		for key, name := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	file, err := configFile(root, opts.File)
	if err != nil {
		return nil, err
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.StepTimeout < 0 {
		return nil, fmt.Errorf("step_timeout must not be negative, got %s", cfg.StepTimeout)
	}
	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}
	cfg.Root = root
	cfg.File = file
	if cfg.InheritEnv {
		cfg.baseEnv = slices.Clone(opts.Environ)
	}
	return &cfg, nil
}

func configFile(root, explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	path := filepath.Join(root, DefaultFile)
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return path, nil
	case errors.Is(err, os.ErrNotExist):
		return "", nil
	default:
		return "", fmt.Errorf("checking %s: %w", path, err)
	}
}

// Path resolves p against the project root.
func (c *Config) Path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

func (c *Config) ModulesPath() string      { return c.Path(c.ModulesDir) }
func (c *Config) CompositionsPath() string { return c.Path(c.CompositionsDir) }
func (c *Config) StatePath() string        { return c.Path(c.StateDir) }

// Environ is the environment handed to modules: the inherited snapshot (when
// inherit_env is set) with the env map layered on top. Map keys are
// upper-cased and applied in sorted order.
func (c *Config) Environ() []string {
	env := slices.Clone(c.baseEnv)
	if env == nil {
		env = []string{}
	}

	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		// viper lower-cases map keys.
		name := strings.ToUpper(k)
		env = slices.DeleteFunc(env, func(kv string) bool {
			return strings.HasPrefix(kv, name+"=")
		})
		env = append(env, name+"="+c.Env[k])
	}
	return env
}

// Lookup resolves variables against Environ, for $VAR expansion in
// composition files.
func (c *Config) Lookup() func(string) string {
	vars := map[string]string{}
	for _, kv := range c.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return func(name string) string { return vars[name] }
}
