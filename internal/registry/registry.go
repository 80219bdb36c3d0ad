// Package registry maps team identifiers to tmux sessions and role
// identifiers to pane handles. It is the source of truth for what panes
// exist; every lookup re-queries the live multiplexer so new and closed
// sessions are visible immediately.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Dicklesworthstone/vtm/internal/tmux"
)

// ErrNotFound is returned for unknown team or role identifiers.
var ErrNotFound = errors.New("not found")

// PaneRef is an opaque handle for a live pane.
type PaneRef struct {
	Session string
	Window  int
	Index   int    // pane index within the window
	PaneID  string // tmux pane id (%N)
}

// Target returns the tmux target string for the pane. The pane id wins
// when known: "session:N" would address a window, and pane indexes are
// only unique within one window.
func (p PaneRef) Target() string {
	if p.PaneID != "" {
		return p.PaneID
	}
	return fmt.Sprintf("%s:%d.%d", p.Session, p.Window, p.Index)
}

// Role is one addressable pane within a team.
type Role struct {
	ID     string // tag name if bound, else "pane-<index>"
	TeamID string
	Tagged bool
	Pane   PaneRef
}

// Team is a logical group of roles backed by one tmux session.
type Team struct {
	ID       string
	Attached bool
	Roles    []Role
}

// Registry resolves teams and roles against the live multiplexer.
type Registry struct {
	client *tmux.Client
	layout *Layout // optional declared role ordering, may be nil
}

// New creates a registry over the given tmux client.
func New(client *tmux.Client, layout *Layout) *Registry {
	if client == nil {
		client = tmux.DefaultClient
	}
	return &Registry{client: client, layout: layout}
}

// Client exposes the underlying tmux client for collaborators that need
// raw pane operations (capture, send-keys).
func (r *Registry) Client() *tmux.Client {
	return r.client
}

// ListTeams returns all teams, one per live tmux session, ordered by name.
func (r *Registry) ListTeams() ([]Team, error) {
	sessions, err := r.client.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	teams := make([]Team, 0, len(sessions))
	for _, s := range sessions {
		roles, err := r.rolesForSession(s.Name)
		if err != nil {
			// Session vanished between list-sessions and list-panes.
			if errors.Is(err, tmux.ErrPaneGone) {
				continue
			}
			return nil, err
		}
		teams = append(teams, Team{ID: s.Name, Attached: s.Attached, Roles: roles})
	}

	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

// ListRoles returns the ordered roles of a team.
func (r *Registry) ListRoles(teamID string) ([]Role, error) {
	if !r.client.SessionExists(teamID) {
		return nil, fmt.Errorf("team %q: %w", teamID, ErrNotFound)
	}
	return r.rolesForSession(teamID)
}

// ResolvePane resolves a (team, role) pair to a live pane handle.
func (r *Registry) ResolvePane(teamID, roleID string) (PaneRef, error) {
	roles, err := r.ListRoles(teamID)
	if err != nil {
		return PaneRef{}, err
	}
	for _, role := range roles {
		if role.ID == roleID {
			return role.Pane, nil
		}
	}
	return PaneRef{}, fmt.Errorf("role %q in team %q: %w", roleID, teamID, ErrNotFound)
}

// rolesForSession builds the role list for one session. Panes are ordered
// by index; when a layout declares role names for the team, the declared
// order takes precedence for the tagged roles it names.
func (r *Registry) rolesForSession(session string) ([]Role, error) {
	panes, err := r.client.ListPanes(session)
	if err != nil {
		return nil, err
	}

	sort.Slice(panes, func(i, j int) bool {
		if panes[i].Window != panes[j].Window {
			return panes[i].Window < panes[j].Window
		}
		return panes[i].Index < panes[j].Index
	})

	// Pane indexes restart at 0 in every window, so positional names
	// carry the window index once the session has more than one.
	multiWindow := false
	for _, p := range panes {
		if p.Window != panes[0].Window {
			multiWindow = true
			break
		}
	}

	seen := make(map[string]bool, len(panes))
	roles := make([]Role, 0, len(panes))
	for _, p := range panes {
		role := Role{
			TeamID: session,
			Pane:   PaneRef{Session: session, Window: p.Window, Index: p.Index, PaneID: p.ID},
		}
		// Tag binding is authoritative over positional index, but a
		// duplicate tag falls back to the positional name so role ids
		// stay unique within the team.
		if p.Role != "" && !seen[p.Role] {
			role.ID = p.Role
			role.Tagged = true
		} else if multiWindow {
			role.ID = fmt.Sprintf("pane-%d.%d", p.Window, p.Index)
		} else {
			role.ID = fmt.Sprintf("pane-%d", p.Index)
		}
		seen[role.ID] = true
		roles = append(roles, role)
	}

	if r.layout != nil {
		roles = r.layout.Reorder(session, roles)
	}
	return roles, nil
}
