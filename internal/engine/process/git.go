package process

import (
	"slices"
	"strings"

	"zira/internal/core/errors"
	"zira/internal/core/ports"
)

// safeGitCommands never modify the repository.
var safeGitCommands = map[string]bool{
	"status":    true,
	"log":       true,
	"diff":      true,
	"show":      true,
	"branch":    true,
	"rev-parse": true,
	"blame":     true,
	"ls-files":  true,
}

// branch flags that rewrite refs.
var mutatingBranchFlags = map[string]bool{
	"-d": true, "-D": true, "--delete": true,
	"-m": true, "-M": true, "--move": true,
	"-c": true, "-C": true, "--copy": true,
	"-f": true, "--force": true,
	"-u": true, "--set-upstream-to": true, "--unset-upstream": true,
}

// Actions of configurable subcommands that only read. The empty action is
// the bare invocation.
var readOnlyGitActions = map[string]map[string]bool{
	"stash":    {"list": true, "show": true},
	"remote":   {"": true, "show": true, "get-url": true},
	"worktree": {"list": true},
	"notes":    {"": true, "list": true, "show": true},
	"reflog":   {"": true, "show": true},
}

// Arguments that make an otherwise read-only subcommand write.
var mutatingGitArgs = map[string]bool{
	"-d": true, "-D": true, "--delete": true,
	"-f": true, "--force": true,
	"-a": true, "--annotate": true, "-s": true, "--sign": true,
	"-m": true, "--message": true,
	"--add": true, "--unset": true, "--unset-all": true, "--replace-all": true,
	"--remove-section": true, "--rename-section": true, "--edit": true,
	"--prune": true,
}

// GitSubcommand returns the first non-option argument.
func GitSubcommand(args []string) string {
	if i := subcommandIndex(args); i >= 0 {
		return args[i]
	}
	return ""
}

func subcommandIndex(args []string) int {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "-C" || a == "-c" || a == "--git-dir" || a == "--work-tree" {
			i++
			continue
		}
		if strings.HasPrefix(a, "-") {
			continue
		}
		return i
	}
	return -1
}

// IsSafeGitCommand reports whether args can run without confirmation.
// extra names additional subcommands that are trusted only in their
// read-only forms.
func IsSafeGitCommand(args []string, extra ...string) bool {
	sub := GitSubcommand(args)
	if !safeGitCommands[sub] {
		return sub != "" && slices.Contains(extra, sub) && onlyReads(args)
	}
	if sub == "branch" {
		for _, a := range args {
			flag, _, _ := strings.Cut(a, "=")
			if mutatingBranchFlags[flag] {
				return false
			}
		}
		// "git branch <name>" creates a branch.
		seen := false
		for _, a := range args {
			if strings.HasPrefix(a, "-") {
				continue
			}
			if seen {
				return false
			}
			seen = a == "branch"
		}
	}
	return true
}

// onlyReads reports whether a configured subcommand is invoked in a form
// that cannot write to the repository.
func onlyReads(args []string) bool {
	i := subcommandIndex(args)
	sub, rest := args[i], args[i+1:]
	var positional []string
	listing := false
	for _, a := range rest {
		flag, _, _ := strings.Cut(a, "=")
		if mutatingGitArgs[flag] {
			return false
		}
		switch {
		case flag == "-l" || flag == "--list" || strings.HasPrefix(flag, "--get"):
			listing = true
		case !strings.HasPrefix(a, "-"):
			positional = append(positional, a)
		}
	}
	action := ""
	if len(positional) > 0 {
		action = positional[0]
	}
	switch sub {
	case "tag":
		// "git tag <name>" creates a tag.
		return listing || len(positional) == 0
	case "config":
		return listing
	}
	if actions, ok := readOnlyGitActions[sub]; ok {
		return actions[action]
	}
	return true
}

// GitCommand builds the git invocation for dir. Unconfirmed commands
// outside the read-only set are rejected with PERMISSION_DENIED.
func GitCommand(dir string, args []string, confirmed bool) (ports.Command, error) {
	if GitSubcommand(args) == "" {
		return ports.Command{}, errors.New(errors.CodeValidationError, "git command is empty")
	}
	if !confirmed && !IsSafeGitCommand(args) {
		return ports.Command{}, errors.AddContext(
			errors.New(errors.CodePermissionDenied, "git "+GitSubcommand(args)+" requires confirmation"),
			errors.CtxOperation, "git "+strings.Join(args, " "))
	}
	return ports.Command{
		Name: "git",
		Args: append([]string(nil), args...),
		Dir:  dir,
		Env:  []string{"GIT_TERMINAL_PROMPT=0"},
	}, nil
}
