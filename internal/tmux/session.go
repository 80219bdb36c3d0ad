package tmux

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// roleTitleRegex matches the vtm pane naming convention: session__role.
// The role part is free-form (letters, digits, dash, underscore).
var roleTitleRegex = regexp.MustCompile(`^.+__([A-Za-z0-9][A-Za-z0-9_-]*)$`)

// Session represents a tmux session.
type Session struct {
	Name     string
	Windows  int
	Attached bool
	Created  string
}

// Pane represents a tmux pane within a session.
type Pane struct {
	ID     string // tmux pane id, e.g. "%3"
	Window int
	Index  int // pane index, restarts at 0 per window
	Title  string
	Role   string // parsed from title tag, empty if untagged
	Width  int
	Height int
	Active bool
}

// Target returns the pane target for tmux commands. The pane id is
// preferred: it is globally unique, while "session:N" names a window,
// not a pane.
func (p Pane) Target(session string) string {
	if p.ID != "" {
		return p.ID
	}
	return fmt.Sprintf("%s:%d.%d", session, p.Window, p.Index)
}

// parseRoleFromTitle extracts the role tag from a pane title.
// Title format: {session}__{role}. Returns "" for untagged panes.
func parseRoleFromTitle(title string) string {
	matches := roleTitleRegex.FindStringSubmatch(title)
	if matches == nil {
		return ""
	}
	return matches[1]
}

// ListSessions returns all tmux sessions.
func (c *Client) ListSessions() ([]Session, error) {
	output, err := c.Run("list-sessions", "-F", "#{session_name}:#{session_windows}:#{session_attached}:#{session_created_string}")
	if err != nil {
		// No sessions is not an error - handle various tmux error messages
		errMsg := err.Error()
		if strings.Contains(errMsg, "no server running") ||
			strings.Contains(errMsg, "no sessions") ||
			strings.Contains(errMsg, "No such file or directory") ||
			strings.Contains(errMsg, "error connecting to") {
			return nil, nil
		}
		return nil, err
	}

	if output == "" {
		return nil, nil
	}

	var sessions []Session
	for _, line := range strings.Split(output, "\n") {
		parts := strings.SplitN(line, ":", 4)
		if len(parts) < 4 {
			continue
		}

		windows, _ := strconv.Atoi(parts[1])
		attached := parts[2] == "1"

		sessions = append(sessions, Session{
			Name:     parts[0],
			Windows:  windows,
			Attached: attached,
			Created:  parts[3],
		})
	}

	return sessions, nil
}

// SessionExists checks if a session exists.
func (c *Client) SessionExists(name string) bool {
	return c.RunSilent("has-session", "-t", name) == nil
}

// ListPanes returns all panes in a session, in pane-index order.
func (c *Client) ListPanes(session string) ([]Pane, error) {
	sep := "|#|"
	format := fmt.Sprintf("#{pane_id}%[1]s#{window_index}%[1]s#{pane_index}%[1]s#{pane_title}%[1]s#{pane_width}%[1]s#{pane_height}%[1]s#{pane_active}", sep)
	output, err := c.Run("list-panes", "-s", "-t", session, "-F", format)
	if err != nil {
		if isGoneError(err) {
			return nil, fmt.Errorf("list panes for %s: %w", session, ErrPaneGone)
		}
		return nil, err
	}

	var panes []Pane
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}

		parts := strings.Split(line, sep)
		if len(parts) < 7 {
			continue
		}

		window, _ := strconv.Atoi(parts[1])
		index, _ := strconv.Atoi(parts[2])
		width, _ := strconv.Atoi(parts[4])
		height, _ := strconv.Atoi(parts[5])
		active := parts[6] == "1"

		panes = append(panes, Pane{
			ID:     parts[0],
			Window: window,
			Index:  index,
			Title:  parts[3],
			Role:   parseRoleFromTitle(parts[3]),
			Width:  width,
			Height: height,
			Active: active,
		})
	}

	return panes, nil
}

// CapturePane captures the visible content of a pane, returning at most
// maxLines lines. Truncation keeps the tail; the most recent output wins.
func (c *Client) CapturePane(target string, maxLines int) ([]string, error) {
	output, err := c.Run("capture-pane", "-t", target, "-p", "-S", fmt.Sprintf("-%d", maxLines))
	if err != nil {
		if isGoneError(err) {
			return nil, fmt.Errorf("capture %s: %w", target, ErrPaneGone)
		}
		return nil, err
	}

	lines := strings.Split(output, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, nil
}

// SendKeys sends literal keys to a pane, optionally followed by Enter.
func (c *Client) SendKeys(target, keys string, enter bool) error {
	if err := c.RunSilent("send-keys", "-t", target, "-l", "--", keys); err != nil {
		if isGoneError(err) {
			return fmt.Errorf("send-keys %s: %w", target, ErrPaneGone)
		}
		return err
	}
	if enter {
		if err := c.RunSilent("send-keys", "-t", target, "C-m"); err != nil {
			if isGoneError(err) {
				return fmt.Errorf("send-keys %s: %w", target, ErrPaneGone)
			}
			return err
		}
	}
	return nil
}

// SetPaneTitle sets the title of a pane. Used to bind a role tag.
func (c *Client) SetPaneTitle(target, title string) error {
	return c.RunSilent("select-pane", "-t", target, "-T", title)
}

// ValidateSessionName checks if a session name is valid.
func ValidateSessionName(name string) error {
	if name == "" {
		return fmt.Errorf("session name cannot be empty")
	}
	if strings.ContainsAny(name, ":.") {
		return fmt.Errorf("session name cannot contain ':' or '.'")
	}
	return nil
}
