package tool

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/phrazzld/orchestrator/internal/task"
)

// descriptions documents every command any role may be granted.
var descriptions = map[string]string{
	"git":  "Inspect repository history and state (log, diff, show, status).",
	"ls":   "List directory contents.",
	"cat":  "Print file contents.",
	"grep": "Search file contents for a pattern.",
	"find": "Locate files by name or type.",
	"head": "Print the first lines of a file.",
	"wc":   "Count lines, words and bytes.",
	"diff": "Compare two files line by line.",
	"go":   "Run Go tooling such as go test or go vet.",
}

// roleCommands is the static capability table. Roles absent from it, or with
// an empty set, run text-only.
var roleCommands = map[task.Role][]string{
	task.RoleDeveloper: {"git", "ls", "cat", "grep", "find", "head", "wc", "diff", "go"},
	task.RoleReviewer:  {"git", "ls", "cat", "grep", "find", "head", "wc", "diff"},
}

// CommandsForRole returns the commands role may run, or nil.
func CommandsForRole(role task.Role) []string {
	cmds := roleCommands[role]
	if len(cmds) == 0 {
		return nil
	}
	return append([]string(nil), cmds...)
}

// ForRole builds a Runner for role. It returns nil for text-only roles, which
// must never be handed a runner.
func ForRole(role task.Role, cfg Config, logger *slog.Logger) (*Runner, error) {
	cmds := CommandsForRole(role)
	if cmds == nil {
		return nil, nil
	}
	return NewRunner(cmds, cfg, logger.With("role", role))
}

// argumentChecks vet the arguments of allowlisted commands that can start
// other programs or write files through their flags.
var argumentChecks = map[string]func(args []string) error{
	"find": checkFindArgs,
	"git":  checkGitArgs,
	"go":   checkGoArgs,
}

var (
	findDeniedFlags = set("exec", "execdir", "ok", "okdir", "delete", "fprint", "fprint0", "fprintf", "fls")

	gitSubcommands = set("log", "diff", "show", "status", "blame", "ls-files", "ls-tree",
		"rev-parse", "grep", "shortlog", "describe")
	gitDeniedFlags = set("upload-pack", "receive-pack", "exec", "ext-diff", "textconv",
		"filters", "output", "open-files-in-pager")

	goSubcommands = set("test", "vet", "build")
	goDeniedFlags = set("exec", "toolexec", "vettool", "overlay")
)

// checkArgs applies the argument check registered for command, if any. The
// error wraps task.ErrCommandNotAllowed.
func checkArgs(command string, args []string) error {
	check, ok := argumentChecks[command]
	if !ok {
		return nil
	}
	if err := check(args); err != nil {
		return fmt.Errorf("%w: %s: %v", task.ErrCommandNotAllowed, command, err)
	}
	return nil
}

func checkFindArgs(args []string) error {
	return denyFlags(args, findDeniedFlags)
}

// checkGitArgs allows read-only subcommands only. Global options such as -c
// or -C must not precede the subcommand.
func checkGitArgs(args []string) error {
	if len(args) == 0 || !gitSubcommands[args[0]] {
		return fmt.Errorf("subcommand must be one of %s", keys(gitSubcommands))
	}
	for _, arg := range args[1:] {
		if strings.HasPrefix(arg, "-O") {
			return fmt.Errorf("argument %q is not allowed", arg)
		}
	}
	return denyFlags(args[1:], gitDeniedFlags)
}

func checkGoArgs(args []string) error {
	if len(args) == 0 || !goSubcommands[args[0]] {
		return fmt.Errorf("subcommand must be one of %s", keys(goSubcommands))
	}
	return denyFlags(args[1:], goDeniedFlags)
}

// denyFlags rejects any argument naming a denied flag, in single or double
// dash form and with or without an =value suffix.
func denyFlags(args []string, denied map[string]bool) error {
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name, _, _ := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if denied[name] {
			return fmt.Errorf("argument %q is not allowed", arg)
		}
	}
	return nil
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

func keys(m map[string]bool) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
