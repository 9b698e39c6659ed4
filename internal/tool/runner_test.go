package tool

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/phrazzld/orchestrator/internal/platform/logger"
	"github.com/phrazzld/orchestrator/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell commands")
	}
}

// newCountingRunner returns a runner whose spawn count the test can observe.
func newCountingRunner(t *testing.T, commands []string, cfg Config) (*Runner, *atomic.Int32) {
	t.Helper()
	r, err := NewRunner(commands, cfg, logger.Discard())
	require.NoError(t, err)
	var spawned atomic.Int32
	r.commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		spawned.Add(1)
		return exec.CommandContext(ctx, name, args...)
	}
	return r, &spawned
}

func TestRunRejectsCommandOutsideAllowlist(t *testing.T) {
	t.Parallel()
	r, spawned := newCountingRunner(t, []string{"echo"}, Config{AllowedRoots: []string{t.TempDir()}})

	res := r.Run(context.Background(), Call{Command: "rm", Args: []string{"-rf", "/"}})
	assert.False(t, res.Success)
	assert.True(t, res.Rejected())
	assert.Equal(t, task.CodeCommandNotAllowed, res.Code)
	assert.Zero(t, spawned.Load())
}

func TestRunRejectsCwdOutsideRoots(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	outside := t.TempDir()
	r, spawned := newCountingRunner(t, []string{"echo"}, Config{AllowedRoots: []string{root}})

	for _, cwd := range []string{outside, filepath.Join(root, ".."), "/", filepath.Join(root, "does-not-exist")} {
		res := r.Run(context.Background(), Call{Command: "echo", Cwd: cwd})
		assert.Equal(t, task.CodeCwdNotAllowed, res.Code, cwd)
		assert.True(t, res.Rejected())
	}
	assert.Zero(t, spawned.Load())
}

func TestRunRejectsSymlinkEscape(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	require.NoError(t, os.Symlink(outside, link))
	r, spawned := newCountingRunner(t, []string{"echo"}, Config{AllowedRoots: []string{root}})

	res := r.Run(context.Background(), Call{Command: "echo", Cwd: link})
	assert.Equal(t, task.CodeCwdNotAllowed, res.Code)
	res = r.Run(context.Background(), Call{Command: "echo", Cwd: "escape"})
	assert.Equal(t, task.CodeCwdNotAllowed, res.Code, "relative paths resolve against the first root")
	assert.Zero(t, spawned.Load())
}

func TestRunSuccessInSubdirectory(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()
	root := t.TempDir()
	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	r, spawned := newCountingRunner(t, []string{"pwd", "echo"}, Config{AllowedRoots: []string{root}})

	res := r.Run(context.Background(), Call{Command: "pwd", Cwd: "pkg"})
	require.True(t, res.Success, res.Error)
	resolvedSub, err := filepath.EvalSymlinks(sub)
	require.NoError(t, err)
	assert.Equal(t, resolvedSub, strings.TrimSpace(res.Stdout))
	assert.Zero(t, res.ExitCode)
	assert.False(t, res.Killed)

	res = r.Run(context.Background(), Call{Command: "echo", Args: []string{"hello"}})
	require.True(t, res.Success)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.EqualValues(t, 2, spawned.Load())

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"duration_ms":`)
	assert.Equal(t, res.Duration.Milliseconds(), res.DurationMS)
}

func TestRunReportsFailureVersusKill(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()
	r, _ := newCountingRunner(t, []string{"sh", "sleep"}, Config{AllowedRoots: []string{t.TempDir()}})

	failed := r.Run(context.Background(), Call{Command: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}})
	assert.False(t, failed.Success)
	assert.False(t, failed.Killed)
	assert.Equal(t, 3, failed.ExitCode)
	assert.NotEmpty(t, failed.Error)
	assert.Equal(t, "oops\n", failed.Stderr)

	killed := r.Run(context.Background(), Call{Command: "sleep", Args: []string{"5"}, TimeoutMS: 50})
	assert.False(t, killed.Success)
	assert.True(t, killed.Killed)
	assert.Contains(t, killed.Error, "timeout")
}

func TestRunTruncatesOutput(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()
	r, _ := newCountingRunner(t, []string{"sh"}, Config{AllowedRoots: []string{t.TempDir()}, MaxOutputChars: 4})

	res := r.Run(context.Background(), Call{Command: "sh", Args: []string{"-c", "printf abcdefghij"}})
	require.True(t, res.Success)
	assert.True(t, res.Truncated)
	assert.True(t, strings.HasPrefix(res.Stdout, "abcd"))
	assert.Contains(t, res.Stdout, "[truncated]")
}

func TestRunRejectsExecStyleArguments(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()
	root := t.TempDir()
	marker := filepath.Join(root, "marker")
	r, spawned := newCountingRunner(t, []string{"find", "git", "go"}, Config{AllowedRoots: []string{root}})

	tests := []struct {
		name string
		call Call
	}{
		{"find -exec", Call{Command: "find", Args: []string{".", "-maxdepth", "0", "-exec", "sh", "-c", "echo x > " + marker, ";"}}},
		{"find -execdir", Call{Command: "find", Args: []string{".", "-execdir", "sh", ";"}}},
		{"find -ok", Call{Command: "find", Args: []string{".", "-ok", "rm", "{}", ";"}}},
		{"find -delete", Call{Command: "find", Args: []string{".", "-delete"}}},
		{"find -fprint", Call{Command: "find", Args: []string{".", "-fprint", marker}}},
		{"git global config", Call{Command: "git", Args: []string{"-c", "core.pager=sh", "log"}}},
		{"git -C", Call{Command: "git", Args: []string{"-C", "/", "status"}}},
		{"git write subcommand", Call{Command: "git", Args: []string{"commit", "-m", "x"}}},
		{"git upload-pack", Call{Command: "git", Args: []string{"ls-remote", "--upload-pack=sh", "origin"}}},
		{"git upload-pack on allowed subcommand", Call{Command: "git", Args: []string{"log", "--upload-pack=sh"}}},
		{"git ext-diff", Call{Command: "git", Args: []string{"diff", "--ext-diff"}}},
		{"git grep pager", Call{Command: "git", Args: []string{"grep", "-Osh", "needle"}}},
		{"git no subcommand", Call{Command: "git"}},
		{"go run", Call{Command: "go", Args: []string{"run", "."}}},
		{"go generate", Call{Command: "go", Args: []string{"generate", "./..."}}},
		{"go test -exec", Call{Command: "go", Args: []string{"test", "-exec=sh", "./..."}}},
		{"go test --exec", Call{Command: "go", Args: []string{"test", "--exec", "sh", "./..."}}},
		{"go vet -vettool", Call{Command: "go", Args: []string{"vet", "-vettool=/bin/sh", "./..."}}},
		{"go build -toolexec", Call{Command: "go", Args: []string{"build", "-toolexec", "sh", "./..."}}},
	}
	for _, tt := range tests {
		res := r.Run(context.Background(), tt.call)
		assert.False(t, res.Success, tt.name)
		assert.True(t, res.Rejected(), tt.name)
		assert.Equal(t, task.CodeCommandNotAllowed, res.Code, tt.name)
	}
	assert.Zero(t, spawned.Load())
	assert.NoFileExists(t, marker)
}

func TestCheckArgsAllowsReadOnlyUse(t *testing.T) {
	t.Parallel()
	allowed := []Call{
		{Command: "find", Args: []string{".", "-name", "*.go", "-type", "f"}},
		{Command: "git", Args: []string{"log", "--oneline", "-n", "5"}},
		{Command: "git", Args: []string{"diff", "HEAD~1", "--stat"}},
		{Command: "go", Args: []string{"test", "-run", "TestX", "./..."}},
		{Command: "go", Args: []string{"vet", "./..."}},
		{Command: "ls", Args: []string{"-la"}},
	}
	for _, c := range allowed {
		assert.NoError(t, checkArgs(c.Command, c.Args), "%s %v", c.Command, c.Args)
	}

	err := checkArgs("find", []string{".", "-exec", "id", ";"})
	assert.ErrorIs(t, err, task.ErrCommandNotAllowed)
}

func TestForRole(t *testing.T) {
	t.Parallel()
	cfg := Config{AllowedRoots: []string{t.TempDir()}}

	for _, role := range []task.Role{task.RoleWriter, task.RoleResearcher, task.RoleTriage, task.RoleMaintenance} {
		r, err := ForRole(role, cfg, logger.Discard())
		require.NoError(t, err)
		assert.Nil(t, r, "text-only role %s gets no runner", role)
	}

	dev, err := ForRole(task.RoleDeveloper, cfg, logger.Discard())
	require.NoError(t, err)
	require.NotNil(t, dev)
	tools := dev.ListTools()
	require.NotEmpty(t, tools)
	for i := 1; i < len(tools); i++ {
		assert.Less(t, tools[i-1].Name, tools[i].Name)
	}
	assert.NotEmpty(t, tools[0].Description)

	rev, err := ForRole(task.RoleReviewer, cfg, logger.Discard())
	require.NoError(t, err)
	for _, d := range rev.ListTools() {
		assert.NotEqual(t, "go", d.Name, "reviewers cannot run the toolchain")
	}
}

func TestNewRunnerRejectsMissingRoot(t *testing.T) {
	t.Parallel()
	_, err := NewRunner([]string{"echo"}, Config{AllowedRoots: []string{filepath.Join(t.TempDir(), "nope")}}, logger.Discard())
	assert.Error(t, err)
}
