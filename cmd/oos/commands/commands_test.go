// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khamel83/oos/cmd/oos/internal/clierr"
	"github.com/Khamel83/oos/internal/runner"
	"github.com/Khamel83/oos/internal/testutil/moduletest"
)

type project struct {
	t    *testing.T
	root string
}

func newProject(t *testing.T) *project {
	t.Helper()
	moduletest.RequireShell(t)
	return &project{t: t, root: t.TempDir()}
}

func (p *project) module(category, name string, code int, msg string) {
	p.t.Helper()
	moduletest.Exit(p.t, filepath.Join(p.root, "modules"), category, name, code, msg)
}

func (p *project) composition(file, body string) {
	p.t.Helper()
	dir := filepath.Join(p.root, "compositions")
	require.NoError(p.t, os.MkdirAll(dir, 0o755))
	require.NoError(p.t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
}

type result struct {
	stdout string
	stderr string
	err    error
}

func (r result) code() int { return clierr.ExitCodeOf(r.err) }

func (p *project) run(args ...string) result {
	p.t.Helper()
	return p.runWithRoot(p.root, args...)
}

func (p *project) runWithRoot(root string, args ...string) result {
	p.t.Helper()
	cmd := newRootCmd(func() []string {
		return []string{"PATH=" + os.Getenv("PATH")}
	})
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--root=" + root}, args...))
	err := cmd.ExecuteContext(context.Background())
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func TestRun_AllCriticalPass(t *testing.T) {
	p := newProject(t)
	p.module("security", "secrets", 0, "no secrets found")
	p.module("git", "status", 0, "clean")
	p.module("lint", "shell", 0, "ok")
	p.composition("preflight.yaml", `
steps:
  - module: security/secrets
  - module: git/status
  - module: lint/shell
`)

	res := p.run("run", "preflight")
	require.NoError(t, res.err)
	assert.Equal(t, 0, res.code())
	assert.Contains(t, res.stdout, "Steps: 3 of 3 executed, 3 passed, 0 warned, 0 failed\n")
	assert.Contains(t, res.stdout, "Verdict: PASS\n")

	_, err := os.Stat(filepath.Join(p.root, ".oos", "run", "last-run.json"))
	require.NoError(t, err)
}

func TestRun_CriticalFailureContinues(t *testing.T) {
	p := newProject(t)
	p.module("git", "status", 0, "clean")
	p.module("test", "unit", 1, "3 tests failed")
	p.module("docs", "links", 0, "links ok")
	p.composition("release.yaml", `
steps:
  - module: git/status
  - module: test/unit
  - module: docs/links
    criticality: advisory
`)

	res := p.run("run", "release")
	require.Error(t, res.err)
	assert.True(t, clierr.Silent(res.err))
	assert.Equal(t, 1, res.code())
	assert.Contains(t, res.stdout, "docs/links")
	assert.Contains(t, res.stdout, "Failed: test/unit\n")
	assert.NotContains(t, res.stdout, "Warnings:")
	assert.Contains(t, res.stdout, "Verdict: FAIL\n")
}

func TestRun_AdvisoryWarning(t *testing.T) {
	p := newProject(t)
	p.module("git", "status", 0, "clean")
	p.module("env", "op", 2, "op not signed in")
	p.composition("preflight.oos", "git/status\nenv/op advisory\n")

	res := p.run("run", "preflight")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Warnings: env/op\n")
	assert.Contains(t, res.stdout, "Verdict: PASS WITH WARNINGS\n")
}

func TestRun_StopOnFailureFlag(t *testing.T) {
	p := newProject(t)
	p.module("a", "one", 1, "broken")
	p.module("a", "two", 0, "fine")
	p.composition("chain.yaml", "steps:\n  - module: a/one\n  - module: a/two\n")

	res := p.run("run", "--stop-on-failure", "chain")
	assert.Equal(t, 1, res.code())
	assert.Contains(t, res.stdout, "Steps: 1 of 2 executed")
	assert.Contains(t, res.stdout, "Stopped after critical failure: 1 step(s) not run\n")
	assert.NotContains(t, res.stdout, "a/two")
}

func TestRun_MissingModuleStep(t *testing.T) {
	p := newProject(t)
	p.module("git", "status", 0, "clean")
	p.composition("preflight.yaml", "steps:\n  - module: git/status\n  - module: nosuch/thing\n")

	res := p.run("run", "preflight")
	assert.Equal(t, 1, res.code())
	assert.Contains(t, res.stdout, "thing not found")
	assert.Contains(t, res.stderr, "module not found")
}

func TestRun_JSON(t *testing.T) {
	p := newProject(t)
	p.module("git", "status", 0, "clean")
	p.module("env", "op", 1, "op not signed in")
	p.composition("preflight.yaml", "steps:\n  - module: git/status\n  - module: env/op\n    criticality: advisory\n")

	res := p.run("run", "--json", "preflight")
	require.NoError(t, res.err)

	var doc struct {
		Composition string              `json:"composition"`
		Verdict     runner.Verdict      `json:"verdict"`
		Counts      runner.Counts       `json:"counts"`
		Steps       []runner.StepRecord `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &doc))
	assert.Equal(t, "preflight", doc.Composition)
	assert.Equal(t, runner.VerdictPassWithWarnings, doc.Verdict)
	assert.Equal(t, 1, doc.Counts.Warned)
	require.Len(t, doc.Steps, 2)
	assert.Equal(t, "op not signed in", doc.Steps[1].Message)
}

func TestRun_UnknownComposition(t *testing.T) {
	p := newProject(t)
	res := p.run("run", "nope")
	assert.Equal(t, 1, res.code())
	assert.False(t, clierr.Silent(res.err))
	assert.Contains(t, res.err.Error(), "nope")
}

func TestRun_InjectedEnvironment(t *testing.T) {
	p := newProject(t)
	moduletest.Write(t, filepath.Join(p.root, "modules"), "env", "target.sh", `echo "target=$DEPLOY_TARGET"`)
	p.composition("env.yaml", "steps:\n  - module: env/target\n")
	require.NoError(t, os.MkdirAll(filepath.Join(p.root, ".oos"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.root, ".oos", "config.yaml"),
		[]byte("env:\n  DEPLOY_TARGET: staging\n"), 0o644))

	res := p.run("run", "env")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "target=staging")
}

func TestRunModule_RelaysExitCode(t *testing.T) {
	p := newProject(t)
	p.module("env", "op", 2, "op not signed in")

	res := p.run("run-module", "env", "op")
	assert.Equal(t, 2, res.code())
	assert.True(t, clierr.Silent(res.err))
	assert.Equal(t, "op not signed in\n", res.stdout)

	res = p.run("run-module", "env/op")
	assert.Equal(t, 2, res.code())
}

func TestRunModule_PassesArgs(t *testing.T) {
	p := newProject(t)
	moduletest.Write(t, filepath.Join(p.root, "modules"), "echo", "args.sh", `echo "$#:$1:$2"`)

	res := p.run("run-module", "echo/args", "--fix", "two words")
	require.NoError(t, res.err)
	assert.Equal(t, "2:--fix:two words\n", res.stdout)
}

func TestRunModule_KilledBySignal(t *testing.T) {
	p := newProject(t)
	moduletest.Write(t, filepath.Join(p.root, "modules"), "sys", "crash.sh", "kill -9 $$")

	res := p.run("run-module", "sys/crash")
	require.Error(t, res.err)
	assert.True(t, clierr.Silent(res.err))
	assert.Equal(t, 1, res.code())

	p.composition("crash.oos", "sys/crash\n")
	res = p.run("run", "crash")
	assert.Equal(t, 1, res.code())
	assert.Contains(t, res.stdout, "(terminated)")
	assert.Contains(t, res.stdout, "Verdict: FAIL\n")
}

func TestRelativeRoot(t *testing.T) {
	p := newProject(t)
	p.module("git", "status", 0, "clean")
	p.composition("p.oos", "git/status\n")
	t.Chdir(filepath.Dir(p.root))
	rel := filepath.Base(p.root)

	res := p.runWithRoot(rel, "run", "p")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Verdict: PASS\n")

	res = p.runWithRoot(rel, "run-module", "git/status")
	require.NoError(t, res.err)
	assert.Equal(t, "clean\n", res.stdout)
}

func TestRun_ZeroTimeoutFlag(t *testing.T) {
	p := newProject(t)
	moduletest.Write(t, filepath.Join(p.root, "modules"), "slow", "nap.sh", "sleep 1\necho rested")
	p.composition("nap.yaml", "timeout: 100ms\nsteps:\n  - module: slow/nap\n    timeout: 0s\n")

	res := p.run("run", "nap")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Verdict: PASS\n")

	p.composition("nap2.oos", "slow/nap\n")
	res = p.run("run", "--timeout", "100ms", "nap2")
	assert.Equal(t, 1, res.code())
	assert.Contains(t, res.stdout, "(timed out)")

	res = p.run("run", "--timeout=-1s", "nap2")
	assert.Equal(t, 1, res.code())
	assert.Contains(t, res.err.Error(), "must not be negative")
}

func TestRunModule_NotFound(t *testing.T) {
	p := newProject(t)

	res := p.run("run-module", "nosuch/thing")
	assert.Equal(t, 1, res.code())
	assert.Contains(t, res.stderr, "thing not found")
}

func TestRunModule_InvalidID(t *testing.T) {
	p := newProject(t)
	res := p.run("run-module", "lonely")
	assert.Equal(t, 1, res.code())
	assert.Contains(t, res.err.Error(), "lonely")
}

func TestList_Category(t *testing.T) {
	p := newProject(t)
	p.module("security", "secrets", 0, "")
	p.module("security", "audit", 0, "")
	p.module("git", "status", 0, "")

	res := p.run("list", "security")
	require.NoError(t, res.err)
	assert.Equal(t, "security/audit\nsecurity/secrets\n", res.stdout)

	res = p.run("list")
	require.NoError(t, res.err)
	assert.Equal(t, "git/status\nsecurity/audit\nsecurity/secrets\n", res.stdout)

	res = p.run("list", "nosuch")
	require.NoError(t, res.err)
	assert.Empty(t, res.stdout)
}

func TestList_JSON(t *testing.T) {
	p := newProject(t)
	p.module("git", "status", 0, "")

	res := p.run("list", "--json")
	require.NoError(t, res.err)
	var doc struct {
		Modules []string `json:"modules"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &doc))
	assert.Equal(t, []string{"git/status"}, doc.Modules)
}

func TestCompositions(t *testing.T) {
	p := newProject(t)
	p.composition("preflight.yaml", "description: before push\nsteps:\n  - module: git/status\n")
	p.composition("quick.oos", "env/op\n")
	p.composition("broken.toml", "steps = 3\n")

	res := p.run("compositions")
	require.NoError(t, res.err)
	assert.Equal(t, "broken     (invalid)\npreflight  before push\nquick\n", res.stdout)
}

func TestValidate(t *testing.T) {
	p := newProject(t)
	p.module("git", "status", 0, "")
	p.composition("good.yaml", "steps:\n  - module: git/status\n")
	p.composition("bad.yaml", "steps:\n  - module: git/status\n  - module: nosuch/thing\n")

	res := p.run("validate", "good")
	require.NoError(t, res.err)
	assert.Equal(t, "good: ok (1 steps)\n", res.stdout)

	res = p.run("validate")
	assert.Equal(t, 1, res.code())
	assert.Contains(t, res.stdout, "bad: step 2: nosuch/thing: module not found\n")
	assert.Contains(t, res.stdout, "good: ok (1 steps)\n")
	assert.Contains(t, res.err.Error(), "1 of 2 compositions have problems")
}

func TestReportAndReset(t *testing.T) {
	p := newProject(t)
	p.module("git", "status", 1, "dirty")
	p.composition("preflight.yaml", "steps:\n  - module: git/status\n")

	res := p.run("report")
	require.NoError(t, res.err)
	assert.Equal(t, "No recorded run.\n", res.stdout)

	runRes := p.run("run", "preflight")
	require.Equal(t, 1, runRes.code())

	res = p.run("report")
	require.NoError(t, res.err)
	assert.Equal(t, runRes.stdout, res.stdout)

	res = p.run("report", "preflight")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Failed: git/status\n")

	res = p.run("reset")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Cleared run state")

	res = p.run("report")
	require.NoError(t, res.err)
	assert.Equal(t, "No recorded run.\n", res.stdout)
}

func TestResume(t *testing.T) {
	p := newProject(t)
	p.module("git", "status", 0, "clean")
	p.module("test", "unit", 1, "3 tests failed")
	p.composition("release.yaml", "steps:\n  - module: git/status\n  - module: test/unit\n")

	res := p.run("resume", "release")
	assert.Equal(t, 1, res.code())
	assert.Contains(t, res.err.Error(), "nothing to resume")

	require.Equal(t, 1, p.run("run", "release").code())

	// Fix the failing module; git/status is made to fail so a rerun would show it.
	p.module("test", "unit", 0, "all tests pass")
	p.module("git", "status", 1, "should not run")

	res = p.run("resume", "release")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "all tests pass")
	assert.Contains(t, res.stdout, "clean")
	assert.NotContains(t, res.stdout, "should not run")
	assert.Contains(t, res.stdout, "Verdict: PASS\n")

	res = p.run("resume", "release")
	require.NoError(t, res.err)
	assert.Equal(t, "Last run of release passed; nothing to resume.\n", res.stdout)
}

func TestInit(t *testing.T) {
	p := newProject(t)

	res := p.run("init")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "created "+filepath.Join("modules", "git", "clean.sh"))
	assert.Contains(t, res.stdout, "created "+filepath.Join("compositions", "preflight.yaml"))

	info, err := os.Stat(filepath.Join(p.root, "modules", "git", "clean.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100)

	res = p.run("validate")
	require.NoError(t, res.err)

	res = p.run("init")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "exists  "+filepath.Join("modules", "git", "clean.sh"))

	// quick only has an advisory step, so it never fails.
	res = p.run("run", "quick")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "env/tools")
}

func TestVersion(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "oos version "+Version+"\n", out.String())
}

func TestRunHelp(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"run", "--help"})
	require.NoError(t, cmd.Execute())

	help := out.String()
	assert.Contains(t, help, "Usage:")
	for _, flag := range []string{"--stop-on-failure", "--timeout", "--json", "--watch", "--root", "--config"} {
		assert.True(t, strings.Contains(help, flag), "help should mention %s", flag)
	}
}
