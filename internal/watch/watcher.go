// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watch reruns a callback when files under a set of directories change.
//
// Events are debounced: a burst of writes (an editor saving through a temp
// file, a checkout touching many modules) produces one callback carrying
// every changed path. Callbacks run on the watcher's goroutine, so a rerun
// never overlaps the previous one.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 300 * time.Millisecond

var defaultIgnores = []string{
	"**/.git",
	"**/.git/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
	"**/*.tmp",
}

// Config holds the parameters for a Watcher.
type Config struct {
	// Dirs are watched recursively. Missing directories are skipped.
	Dirs []string
	// Ignore adds doublestar patterns, matched against paths relative to the
	// watched directory, to the built-in ignores.
	Ignore []string
	// Debounce is the quiet period before OnChange fires.
	Debounce time.Duration
	// OnChange receives the sorted, deduplicated changed paths.
	OnChange func(ctx context.Context, changed []string) error
	Logger   *log.Logger
}

// Watcher monitors directories and fires a debounced callback.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	roots    []string
	ignores  []string
	debounce time.Duration
	logger   *log.Logger
}

// New validates cfg and registers every non-ignored directory under cfg.Dirs.
func New(cfg Config) (*Watcher, error) {
	ignores := slices.Concat(defaultIgnores, cfg.Ignore)
	for _, pat := range cfg.Ignore {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("watch: invalid ignore pattern %q", pat)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		ignores:  ignores,
		debounce: debounce,
		logger:   logger,
	}
	for _, dir := range cfg.Dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch: resolve %s: %w", dir, err)
		}
		if err := w.addTree(abs); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Roots returns the directories actually being watched.
func (w *Watcher) Roots() []string { return slices.Clone(w.roots) }

// Run processes events until ctx is canceled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	var (
		pending = map[string]struct{}{}
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			if evt.Op == fsnotify.Chmod || w.isIgnored(evt.Name) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}

			pending[evt.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			changed := slices.Sorted(maps.Keys(pending))
			clear(pending)
			if len(changed) == 0 || w.cfg.OnChange == nil {
				continue
			}
			w.logger.Debug("change detected", "paths", len(changed))
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.Error("rerun failed", "err", err)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			w.logger.Warn("watch error", "err", err)
		}
	}
}

func (w *Watcher) addTree(root string) error {
	info, err := os.Stat(root)
	if errors.Is(err, os.ErrNotExist) {
		w.logger.Debug("not watching missing directory", "dir", root)
		return nil
	}
	if err != nil {
		return fmt.Errorf("watch: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch: %s is not a directory", root)
	}
	w.roots = append(w.roots, root)

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping inaccessible path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.isIgnored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		w.logger.Warn("cannot watch new directory", "dir", path, "err", err)
	}
}

// isIgnored matches path, made relative to its watched root, against the
// ignore patterns. Directories are also tested with a trailing slash so
// "**/.git/**" prunes .git itself.
func (w *Watcher) isIgnored(path string) bool {
	rel := w.relative(path)
	for _, candidate := range []string{rel, rel + "/"} {
		for _, pat := range w.ignores {
			if ok, err := doublestar.Match(pat, candidate); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) relative(path string) string {
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(path)
}
