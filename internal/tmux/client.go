// Package tmux wraps the tmux CLI operations vtm needs: session and pane
// discovery, pane capture, and keystroke injection. Any multiplexer that
// can answer these four questions would do; tmux is the one we ship.
package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrPaneGone is returned when a pane target no longer exists.
var ErrPaneGone = errors.New("pane gone")

// Runner executes a tmux invocation and returns trimmed stdout.
// Overridable for tests; nil means real tmux (local or via ssh).
type Runner func(args ...string) (string, error)

// Client handles tmux operations, optionally on a remote host.
type Client struct {
	Remote string // "user@host" or empty for local
	Runner Runner
}

// NewClient creates a new tmux client.
func NewClient(remote string) *Client {
	return &Client{Remote: remote}
}

// DefaultClient is the default local client.
var DefaultClient = NewClient("")

// Run executes a tmux command and returns stdout.
func (c *Client) Run(args ...string) (string, error) {
	if c.Runner != nil {
		return c.Runner(args...)
	}
	if c.Remote == "" {
		return runLocal(args...)
	}
	sshArgs := append([]string{c.Remote, "tmux"}, args...)
	return runSSH(sshArgs...)
}

// RunSilent executes a tmux command ignoring output.
func (c *Client) RunSilent(args ...string) error {
	_, err := c.Run(args...)
	return err
}

func runLocal(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

func runSSH(args ...string) (string, error) {
	cmd := exec.Command("ssh", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", fmt.Errorf("ssh %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsInstalled checks if tmux is available on the target host.
func (c *Client) IsInstalled() bool {
	if c.Remote == "" {
		_, err := exec.LookPath("tmux")
		return err == nil
	}
	return c.RunSilent("-V") == nil
}

// InTmux returns true if currently inside a tmux session.
func InTmux() bool {
	return os.Getenv("TMUX") != ""
}

// isGoneError recognizes tmux error messages for missing targets.
func isGoneError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "can't find pane") ||
		strings.Contains(msg, "can't find session") ||
		strings.Contains(msg, "can't find window") ||
		strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "session not found")
}
