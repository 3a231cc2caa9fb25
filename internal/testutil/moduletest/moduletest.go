// SPDX-License-Identifier: AGPL-3.0-or-later

// Package moduletest writes throwaway shell modules for tests.
package moduletest

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
)

// RequireShell skips the test where /bin/sh modules cannot run.
func RequireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell modules require a POSIX shell")
	}
}

// Write creates modules/<category>/<file> under root with body as a /bin/sh
// script and returns its path.
func Write(t *testing.T, root, category, file, body string) string {
	t.Helper()
	dir := filepath.Join(root, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, file)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil { //nolint:gosec // test module must be executable
		t.Fatalf("write module %s: %v", path, err)
	}
	return path
}

// Exit writes a module that prints msg and exits with code.
func Exit(t *testing.T, root, category, name string, code int, msg string) string {
	t.Helper()
	return Write(t, root, category, name+".sh", "echo '"+msg+"'\nexit "+strconv.Itoa(code))
}
