// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultStateDir is the run state location relative to the project root.
const DefaultStateDir = ".oos/run"

// StateStore handles reading and writing run summaries.
//
// Layout:
//
//	<base>/last-run.json              most recent run of any composition
//	<base>/runs/<composition>.json    most recent run per composition
type StateStore struct {
	baseDir string
}

// NewStateStore creates a store at the given base directory (e.g. .oos/run).
func NewStateStore(baseDir string) *StateStore {
	return &StateStore{baseDir: baseDir}
}

// Dir returns the base directory.
func (s *StateStore) Dir() string { return s.baseDir }

func (s *StateStore) lastRunPath() string {
	return filepath.Join(s.baseDir, "last-run.json")
}

func (s *StateStore) runPath(composition string) (string, error) {
	if composition == "" || strings.ContainsAny(composition, `/\`) || strings.Contains(composition, "..") {
		return "", fmt.Errorf("invalid composition name for state: %q", composition)
	}
	return filepath.Join(s.baseDir, "runs", composition+".json"), nil
}

// ReadLastRun loads the most recent run summary. A missing file is clean state.
func (s *StateStore) ReadLastRun() (*LastRun, error) {
	return readJSON(s.lastRunPath())
}

// ReadRun loads the most recent run summary of one composition.
func (s *StateStore) ReadRun(composition string) (*LastRun, error) {
	path, err := s.runPath(composition)
	if err != nil {
		return nil, err
	}
	return readJSON(path)
}

// WriteRun saves a summary both as the composition's record and as last-run.json.
func (s *StateStore) WriteRun(last LastRun) error {
	path, err := s.runPath(last.Composition)
	if err != nil {
		return err
	}
	if err := writeJSON(path, last); err != nil {
		return err
	}
	return writeJSON(s.lastRunPath(), last)
}

// Reset clears the state directory.
func (s *StateStore) Reset() error {
	return os.RemoveAll(s.baseDir)
}

func readJSON(path string) (*LastRun, error) {
	f, err := os.Open(path) //nolint:gosec // path is built from the state dir
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening run file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var last LastRun
	if err := json.NewDecoder(f).Decode(&last); err != nil {
		return nil, fmt.Errorf("decoding run file %s: %w", path, err)
	}
	return &last, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return atomicWrite(path, append(data, '\n'))
}

// atomicWrite writes content to a temp file in the target directory and
// renames it over path, so readers never observe a partial summary.
func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "state-tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmpFile.Name()) }()

	if _, err := tmpFile.Write(content); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("writing content: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), path); err != nil {
		return fmt.Errorf("moving temp file to %s: %w", path, err)
	}
	return nil
}
