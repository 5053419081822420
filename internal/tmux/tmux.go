// Package tmux wraps the tmux binary behind a small capability set:
// sessions, windows, pane splits, send-keys, liveness, and tail capture.
// The core never shells out to tmux directly, so tests can substitute a
// fake Runner.
package tmux

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Runner executes one tmux invocation and returns its combined output.
type Runner interface {
	Run(args ...string) (string, error)
}

// ExecRunner shells out to the tmux binary.
type ExecRunner struct {
	Binary string // default "tmux"
}

func (r ExecRunner) Run(args ...string) (string, error) {
	bin := r.Binary
	if bin == "" {
		bin = "tmux"
	}
	cmd := exec.Command(bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w\noutput: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Client is the terminal adapter used by the provisioner, dispatcher, and
// healthcheck engine.
type Client struct {
	runner Runner
	logger *zap.Logger
}

// NewClient returns a Client backed by the given runner.
func NewClient(runner Runner, logger *zap.Logger) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{runner: runner, logger: logger}
}

// Target formats a pane target string.
func Target(session string, window, pane int) string {
	return fmt.Sprintf("%s:%d.%d", session, window, pane)
}

// HasSession reports whether a named session exists.
func (c *Client) HasSession(session string) bool {
	_, err := c.runner.Run("has-session", "-t", session)
	return err == nil
}

// NewSession creates a detached session with its first window rooted at dir.
func (c *Client) NewSession(session, windowName, dir string) error {
	args := []string{"new-session", "-d", "-s", session, "-n", windowName}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	if _, err := c.runner.Run(args...); err != nil {
		return err
	}
	// Pane addressing must not depend on the user's global base-index.
	_, _ = c.runner.Run("set-option", "-t", session, "base-index", "0")
	_, _ = c.runner.Run("set-window-option", "-t", session+":0", "pane-base-index", "0")
	return nil
}

// KillSession destroys a session. Missing sessions are not an error.
func (c *Client) KillSession(session string) error {
	if !c.HasSession(session) {
		return nil
	}
	_, err := c.runner.Run("kill-session", "-t", session)
	return err
}

// NewWindow appends a named window and returns its index.
func (c *Client) NewWindow(session, name string) (int, error) {
	if _, err := c.runner.Run("new-window", "-t", session, "-n", name); err != nil {
		return 0, err
	}
	target := session + ":" + name
	_, _ = c.runner.Run("set-window-option", "-t", target, "pane-base-index", "0")
	windows, err := c.ListWindows(session)
	if err != nil || len(windows) == 0 {
		return 0, fmt.Errorf("window index after create: %w", err)
	}
	return windows[len(windows)-1], nil
}

// ListWindows returns the window indices of a session in order.
func (c *Client) ListWindows(session string) ([]int, error) {
	out, err := c.runner.Run("list-windows", "-t", session, "-F", "#{window_index}")
	if err != nil {
		return nil, err
	}
	var indices []int
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		indices = append(indices, n)
	}
	return indices, nil
}

// SplitPane splits the target pane. horizontal=true means side-by-side
// (tmux -h). percent<=0 uses tmux's default 50%.
func (c *Client) SplitPane(target string, horizontal bool, percent int) error {
	dir := "-v"
	if horizontal {
		dir = "-h"
	}
	args := []string{"split-window", dir, "-t", target}
	if percent > 0 {
		args = append(args, "-p", strconv.Itoa(percent))
	}
	_, err := c.runner.Run(args...)
	return err
}

// SelectLayout applies a named layout to a window.
func (c *Client) SelectLayout(target, layout string) error {
	_, err := c.runner.Run("select-layout", "-t", target, layout)
	return err
}

// PaneCount returns the number of panes in a window.
func (c *Client) PaneCount(session string, window int) (int, error) {
	out, err := c.runner.Run("list-panes", "-t", fmt.Sprintf("%s:%d", session, window), "-F", "#{pane_index}")
	if err != nil {
		return 0, err
	}
	return len(strings.Fields(out)), nil
}

// PaneAlive reports whether the pane exists (its session and window too).
func (c *Client) PaneAlive(session string, window, pane int) bool {
	out, err := c.runner.Run("list-panes", "-t", fmt.Sprintf("%s:%d", session, window), "-F", "#{pane_index}")
	if err != nil {
		return false
	}
	want := strconv.Itoa(pane)
	for _, idx := range strings.Fields(out) {
		if idx == want {
			return true
		}
	}
	return false
}

// SendKeys types a command into a pane and presses Enter. The input buffer
// is cleared with C-u first (C-c would interrupt a running CLI) unless
// clearInput is false, so notifications do not disturb in-flight work.
func (c *Client) SendKeys(target, command string, clearInput bool) error {
	if clearInput {
		if _, err := c.runner.Run("send-keys", "-t", target, "C-u"); err != nil {
			return err
		}
	}
	if _, err := c.runner.Run("send-keys", "-t", target, "-l", command); err != nil {
		return err
	}
	// Enter goes separately; bundling it with -l would type a literal newline.
	_, err := c.runner.Run("send-keys", "-t", target, "Enter")
	return err
}

// SendInterrupt sends C-c then C-u to a pane, used by soft recovery to
// unwedge a stalled CLI.
func (c *Client) SendInterrupt(target string) error {
	if _, err := c.runner.Run("send-keys", "-t", target, "C-c"); err != nil {
		return err
	}
	_, err := c.runner.Run("send-keys", "-t", target, "C-u")
	return err
}

// CapturePane returns the last n lines of a pane's visible output.
func (c *Client) CapturePane(target string, lines int) (string, error) {
	if lines <= 0 {
		lines = 50
	}
	out, err := c.runner.Run("capture-pane", "-p", "-t", target, "-S", "-"+strconv.Itoa(lines))
	if err != nil {
		return "", err
	}
	return out, nil
}

// SetPaneTitle labels a pane for the human watching the session.
func (c *Client) SetPaneTitle(target, title string) error {
	_, err := c.runner.Run("select-pane", "-t", target, "-T", title)
	return err
}
