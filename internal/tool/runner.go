package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/phrazzld/orchestrator/internal/task"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputChars = 8000
)

// Config holds sandbox settings shared by every role's runner.
type Config struct {
	// AllowedRoots are the directories commands may run in (or below).
	AllowedRoots   []string
	DefaultTimeout time.Duration
	MaxOutputChars int
}

// Runner runs allowlisted commands inside allowed roots.
type Runner struct {
	commands map[string]struct{}
	roots    []string
	timeout  time.Duration
	maxChars int
	logger   *slog.Logger

	// commandContext is exec.CommandContext outside tests.
	commandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewRunner creates a Runner for the given command allowlist. Roots are
// resolved through symlinks once, up front.
func NewRunner(commands []string, cfg Config, logger *slog.Logger) (*Runner, error) {
	r := &Runner{
		commands:       make(map[string]struct{}, len(commands)),
		timeout:        cfg.DefaultTimeout,
		maxChars:       cfg.MaxOutputChars,
		logger:         logger.With("component", "tool_runner"),
		commandContext: exec.CommandContext,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.maxChars <= 0 {
		r.maxChars = DefaultMaxOutputChars
	}
	for _, c := range commands {
		r.commands[c] = struct{}{}
	}
	for _, root := range cfg.AllowedRoots {
		resolved, err := resolveDir(root)
		if err != nil {
			return nil, fmt.Errorf("allowed root %q: %w", root, err)
		}
		r.roots = append(r.roots, resolved)
	}
	return r, nil
}

// ListTools describes the allowlisted commands, sorted by name.
func (r *Runner) ListTools() []Definition {
	defs := make([]Definition, 0, len(r.commands))
	for name := range r.commands {
		desc := descriptions[name]
		if desc == "" {
			desc = "Run " + name + "."
		}
		defs = append(defs, Definition{Name: name, Description: desc})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Run validates call against the sandbox and executes it. Rejected calls are
// never spawned; their Result carries command_not_allowed or cwd_not_allowed.
func (r *Runner) Run(ctx context.Context, call Call) Result {
	res := Result{Command: call.Command}
	log := r.logger.With("command", call.Command)

	if _, ok := r.commands[call.Command]; !ok {
		res.Code = task.CodeCommandNotAllowed
		res.Error = fmt.Sprintf("command %q is not allowed", call.Command)
		res.ExitCode = -1
		log.Warn("tool call rejected", "code", res.Code)
		return res
	}

	if err := checkArgs(call.Command, call.Args); err != nil {
		res.Code = task.CodeCommandNotAllowed
		res.Error = err.Error()
		res.ExitCode = -1
		log.Warn("tool call rejected", "code", res.Code, "args", call.Args)
		return res
	}

	dir, err := r.workingDir(call.Cwd)
	if err != nil {
		res.Code = task.CodeCwdNotAllowed
		res.Error = err.Error()
		res.ExitCode = -1
		log.Warn("tool call rejected", "code", res.Code, "cwd", call.Cwd)
		return res
	}

	timeout := r.timeout
	if call.TimeoutMS > 0 {
		timeout = time.Duration(call.TimeoutMS) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := r.commandContext(runCtx, call.Command, call.Args...)
	cmd.Dir = dir
	outW := &capWriter{buf: &stdout, max: r.maxChars * utf8.UTFMax}
	errW := &capWriter{buf: &stderr, max: r.maxChars * utf8.UTFMax}
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	res.Duration = time.Since(start)
	res.DurationMS = res.Duration.Milliseconds()

	var truncOut, truncErr bool
	res.Stdout, truncOut = truncate(stdout.String(), r.maxChars)
	res.Stderr, truncErr = truncate(stderr.String(), r.maxChars)
	res.Truncated = truncOut || truncErr || outW.overflow || errW.overflow

	switch {
	case runErr == nil:
		res.Success = true
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Killed = true
		res.ExitCode = -1
		res.Error = fmt.Sprintf("killed after %s timeout", timeout)
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		res.Error = runErr.Error()
	}

	log.Debug("tool call finished",
		"exit_code", res.ExitCode,
		"killed", res.Killed,
		"duration_ms", res.Duration.Milliseconds())
	return res
}

// workingDir resolves cwd and checks it lies under an allowed root. An empty
// cwd runs in the first root.
func (r *Runner) workingDir(cwd string) (string, error) {
	if len(r.roots) == 0 {
		return "", fmt.Errorf("%w: no allowed roots configured", task.ErrCwdNotAllowed)
	}
	if cwd == "" {
		return r.roots[0], nil
	}
	if !filepath.IsAbs(cwd) {
		cwd = filepath.Join(r.roots[0], cwd)
	}
	dir, err := resolveDir(cwd)
	if err != nil {
		return "", fmt.Errorf("%w: %v", task.ErrCwdNotAllowed, err)
	}
	for _, root := range r.roots {
		if within(root, dir) {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: %s is outside the allowed roots", task.ErrCwdNotAllowed, cwd)
}

func resolveDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", path)
	}
	return resolved, nil
}

func within(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// truncate keeps at most max runes and marks the cut.
func truncate(s string, max int) (string, bool) {
	if utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:max]) + "\n...[truncated]", true
}

// capWriter stops buffering after max bytes but keeps accepting writes so the
// child never blocks on a full pipe.
type capWriter struct {
	buf      *bytes.Buffer
	max      int
	overflow bool
}

func (w *capWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
			w.overflow = true
		} else {
			w.buf.Write(p)
		}
	} else if len(p) > 0 {
		w.overflow = true
	}
	return len(p), nil
}
