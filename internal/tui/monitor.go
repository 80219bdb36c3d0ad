// Package tui renders a live terminal dashboard for one team: the role
// list with activity badges on the left, the selected pane's tail on
// the right, fed by the streaming hub.
package tui

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/vtm/internal/monitor"
	"github.com/Dicklesworthstone/vtm/internal/registry"
)

// roleUpdateMsg carries one hub update for a role into the event loop.
type roleUpdateMsg struct {
	role   string
	update monitor.Update
}

// connectedMsg reports the roles discovered at startup.
type connectedMsg struct {
	roles []registry.Role
	err   error
}

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

var monitorKeys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

// roleView is what the dashboard knows about one role.
type roleView struct {
	role     registry.Role
	activity monitor.ActivityState
	tail     string
	gone     bool
	lastSeen time.Time
}

// Model is the team dashboard.
type Model struct {
	team     string
	reg      *registry.Registry
	hub      *monitor.Hub
	interval time.Duration

	roles  []string
	views  map[string]*roleView
	subs   []*monitor.Subscription
	update chan roleUpdateMsg

	cursor   int
	width    int
	height   int
	ready    bool
	quitting bool
	err      error

	spinner  spinner.Model
	viewport viewport.Model
}

// New creates a dashboard for team. The hub drives snapshot delivery at
// interval (zero picks the hub default).
func New(reg *registry.Registry, hub *monitor.Hub, team string, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	w, h := 80, 24
	if tw, th, err := term.GetSize(int(os.Stdout.Fd())); err == nil && tw > 0 {
		w, h = tw, th
	}

	return Model{
		team:     team,
		reg:      reg,
		hub:      hub,
		interval: interval,
		views:    make(map[string]*roleView),
		update:   make(chan roleUpdateMsg, 64),
		width:    w,
		height:   h,
		spinner:  sp,
		viewport: viewport.New(w/2, h-6),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.connect())
}

// connect resolves the team's roles and opens one hub subscription per
// role, pumping every update onto the shared channel.
func (m Model) connect() tea.Cmd {
	return func() tea.Msg {
		roles, err := m.reg.ListRoles(m.team)
		if err != nil {
			return connectedMsg{err: err}
		}
		return connectedMsg{roles: roles}
	}
}

func (m *Model) subscribe(roles []registry.Role) error {
	for _, role := range roles {
		sub, err := m.hub.Subscribe(m.team, role.ID, m.interval)
		if err != nil {
			return fmt.Errorf("subscribe %s/%s: %w", m.team, role.ID, err)
		}
		m.subs = append(m.subs, sub)
		go func(id string, c <-chan monitor.Update) {
			for u := range c {
				m.update <- roleUpdateMsg{role: id, update: u}
			}
		}(role.ID, sub.C)
	}
	return nil
}

// waitForUpdate blocks on the shared channel for the next hub update.
func (m Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		return <-m.update
	}
}

// Close tears down all hub subscriptions.
func (m *Model) Close() {
	for _, sub := range m.subs {
		sub.Close()
	}
	m.subs = nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()
		return m, nil

	case connectedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		for _, role := range msg.roles {
			m.roles = append(m.roles, role.ID)
			m.views[role.ID] = &roleView{role: role, activity: monitor.StateIdle}
		}
		sort.Strings(m.roles)
		if err := m.subscribe(msg.roles); err != nil {
			m.err = err
			return m, nil
		}
		m.ready = true
		m.resizeViewport()
		return m, m.waitForUpdate()

	case roleUpdateMsg:
		m.apply(msg)
		return m, m.waitForUpdate()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, monitorKeys.Quit):
			m.quitting = true
			m.Close()
			return m, tea.Quit

		case key.Matches(msg, monitorKeys.Up):
			if m.cursor > 0 {
				m.cursor--
				m.syncViewport()
			}

		case key.Matches(msg, monitorKeys.Down):
			if m.cursor < len(m.roles)-1 {
				m.cursor++
				m.syncViewport()
			}

		case key.Matches(msg, monitorKeys.Refresh):
			m.syncViewport()
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) apply(msg roleUpdateMsg) {
	v, ok := m.views[msg.role]
	if !ok {
		return
	}
	u := msg.update
	switch u.Kind {
	case monitor.UpdateSnapshot:
		if u.Snapshot != nil {
			v.tail = u.Snapshot.Text()
		}
		v.activity = u.Activity
		v.lastSeen = u.Timestamp
	case monitor.UpdateKeepalive:
		v.lastSeen = u.Timestamp
	case monitor.UpdateGone:
		v.gone = true
	}
	if m.selectedRole() == msg.role {
		m.syncViewport()
	}
}

func (m *Model) selectedRole() string {
	if m.cursor < 0 || m.cursor >= len(m.roles) {
		return ""
	}
	return m.roles[m.cursor]
}

func (m *Model) resizeViewport() {
	w := m.width - m.listWidth() - 6
	if w < 20 {
		w = 20
	}
	h := m.height - 6
	if h < 4 {
		h = 4
	}
	m.viewport.Width = w
	m.viewport.Height = h
	m.syncViewport()
}

func (m *Model) syncViewport() {
	role := m.selectedRole()
	if role == "" {
		return
	}
	v := m.views[role]
	content := v.tail
	if v.gone {
		content = errorStyle.Render("pane is gone") + "\n\n" + content
	}
	m.viewport.SetContent(wordwrap.String(content, m.viewport.Width))
	m.viewport.GotoBottom()
}

// listWidth sizes the role column to the widest entry plus its badge.
func (m *Model) listWidth() int {
	w := 16
	for _, id := range m.roles {
		if rw := runewidth.StringWidth(id) + 12; rw > w {
			w = rw
		}
	}
	return w
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("team "+m.team) + "\n\n")

	if m.err != nil {
		b.WriteString("  " + errorStyle.Render("error: "+m.err.Error()) + "\n")
		b.WriteString("\n" + helpStyle.Render("q quit") + "\n")
		return b.String()
	}
	if !m.ready {
		b.WriteString("  " + m.spinner.View() + " connecting...\n")
		return b.String()
	}
	if len(m.roles) == 0 {
		b.WriteString("  " + dimStyle.Render("no roles in this team") + "\n")
		b.WriteString("\n" + helpStyle.Render("q quit") + "\n")
		return b.String()
	}

	list := m.renderRoleList()
	pane := paneBorder.Render(m.viewport.View())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, list, " ", pane))
	b.WriteString("\n" + helpStyle.Render("↑/↓ select · r refresh · q quit") + "\n")
	return b.String()
}

func (m Model) renderRoleList() string {
	var rows []string
	for i, id := range m.roles {
		v := m.views[id]

		var badge string
		switch {
		case v.gone:
			badge = goneBadge.Render("gone")
		case v.activity == monitor.StateActive:
			badge = activeBadge.Render("active")
		default:
			badge = idleBadge.Render("idle")
		}

		name := runewidth.FillRight(id, m.listWidth()-10)
		if i == m.cursor {
			name = selectedStyle.Render("> " + name)
		} else {
			name = "  " + name
		}
		rows = append(rows, name+" "+badge)
	}
	return strings.Join(rows, "\n")
}

// Run starts the dashboard in the alternate screen and blocks until the
// user quits.
func Run(reg *registry.Registry, hub *monitor.Hub, team string, interval time.Duration) error {
	m := New(reg, hub, team, interval)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
