package process

import (
	"context"
	"runtime"
	"testing"
	"time"

	"zira/internal/core/errors"
	"zira/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestRunner_NonZeroExitIsNotAnError(t *testing.T) {
	requireShell(t)
	r := NewRunner(time.Second, nil)

	out, err := r.Run(context.Background(), ports.Command{Name: "sh", Args: []string{"-c", "echo hi; echo oops >&2; exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "hi\n", out.Stdout)
	assert.Equal(t, "oops\n", out.Stderr)
}

func TestRunner_StdinAndEnv(t *testing.T) {
	requireShell(t)
	r := NewRunner(0, nil)

	out, err := r.Run(context.Background(), ports.Command{
		Name:  "sh",
		Args:  []string{"-c", "cat; printf %s \"$ZIRA_TEST\""},
		Env:   []string{"ZIRA_TEST=value"},
		Stdin: []byte("in-"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)
	assert.Equal(t, "in-value", out.Stdout)
}

func TestRunner_MissingProgram(t *testing.T) {
	r := NewRunner(0, nil)
	_, err := r.Run(context.Background(), ports.Command{Name: "zira-definitely-not-installed"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
}

func TestRunner_CancelInterruptsChild(t *testing.T) {
	requireShell(t)
	r := NewRunner(500*time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := r.Run(ctx, ports.Command{Name: "sleep", Args: []string{"10"}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestRunner_EmptyName(t *testing.T) {
	_, err := NewRunner(0, nil).Run(context.Background(), ports.Command{})
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestGitSafety(t *testing.T) {
	tests := []struct {
		args []string
		safe bool
	}{
		{[]string{"status", "--short"}, true},
		{[]string{"-C", "repo", "log", "-n", "5"}, true},
		{[]string{"diff", "HEAD~1"}, true},
		{[]string{"blame", "main.go"}, true},
		{[]string{"branch"}, true},
		{[]string{"branch", "-a"}, true},
		{[]string{"branch", "-D", "old"}, false},
		{[]string{"branch", "feature"}, false},
		{[]string{"push", "origin", "main"}, false},
		{[]string{"reset", "--hard"}, false},
		{[]string{"--no-pager"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.safe, IsSafeGitCommand(tt.args), "%v", tt.args)
	}
}

func TestGitSafety_ConfiguredSubcommands(t *testing.T) {
	extra := []string{"stash", "tag", "config", "remote", "fetch"}
	tests := []struct {
		args []string
		safe bool
	}{
		{[]string{"stash", "list"}, true},
		{[]string{"stash", "show", "-p", "stash@{0}"}, true},
		{[]string{"stash"}, false},
		{[]string{"stash", "clear"}, false},
		{[]string{"stash", "drop", "stash@{1}"}, false},
		{[]string{"stash", "pop"}, false},
		{[]string{"tag"}, true},
		{[]string{"tag", "-l", "v1.*"}, true},
		{[]string{"tag", "v2.0"}, false},
		{[]string{"tag", "-d", "v1.0"}, false},
		{[]string{"config", "--get", "user.name"}, true},
		{[]string{"config", "user.name", "x"}, false},
		{[]string{"remote", "-v"}, true},
		{[]string{"remote", "remove", "origin"}, false},
		{[]string{"fetch", "origin"}, true},
		{[]string{"fetch", "--prune"}, false},
		{[]string{"notes", "list"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.safe, IsSafeGitCommand(tt.args, extra...), "%v", tt.args)
	}
}

func TestGitCommand(t *testing.T) {
	_, err := GitCommand("/repo", []string{"push"}, false)
	assert.True(t, errors.IsCode(err, errors.CodePermissionDenied))

	cmd, err := GitCommand("/repo", []string{"push"}, true)
	require.NoError(t, err)
	assert.Equal(t, "git", cmd.Name)
	assert.Equal(t, "/repo", cmd.Dir)
	assert.Equal(t, []string{"push"}, cmd.Args)

	_, err = GitCommand("/repo", nil, true)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}
