// Package dispatch injects commands into role panes. It resolves the
// target through the registry, types the text as if the user had, and
// returns an Ack carrying the settle delay callers should wait before
// trusting pane content again.
package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/Dicklesworthstone/vtm/internal/events"
	"github.com/Dicklesworthstone/vtm/internal/registry"
)

// ErrDispatchFailed wraps injection failures. The underlying cause
// (e.g. tmux.ErrPaneGone) stays reachable through errors.Is/As.
var ErrDispatchFailed = errors.New("dispatch failed")

// Ack acknowledges an accepted command.
type Ack struct {
	Team        string        `json:"team"`
	Role        string        `json:"role"`
	Target      string        `json:"target"`
	SettleDelay time.Duration `json:"settle_delay"`
	SentAt      time.Time     `json:"sent_at"`
}

// Dispatcher sends commands to panes. It performs no polling and no
// retries; reading post-send state is the caller's business.
type Dispatcher struct {
	reg         *registry.Registry
	emitter     *events.EventEmitter
	settleDelay time.Duration
}

// New creates a dispatcher. settleDelay is the recommended wait after a
// send during which pane content is expected to still be changing.
func New(reg *registry.Registry, emitter *events.EventEmitter, settleDelay time.Duration) *Dispatcher {
	if settleDelay <= 0 {
		settleDelay = 5 * time.Second
	}
	if emitter == nil {
		emitter = events.DefaultEmitter()
	}
	return &Dispatcher{reg: reg, emitter: emitter, settleDelay: settleDelay}
}

// Send injects text into the pane bound to (team, role), followed by a
// carriage return. Unknown identifiers fail with registry.ErrNotFound
// before anything is typed; injection failures surface once as
// ErrDispatchFailed wrapping the cause.
func (d *Dispatcher) Send(team, role, text string) (Ack, error) {
	pane, err := d.reg.ResolvePane(team, role)
	if err != nil {
		return Ack{}, err
	}

	if err := d.reg.Client().SendKeys(pane.Target(), text, true); err != nil {
		return Ack{}, fmt.Errorf("send to %s/%s: %w: %w", team, role, ErrDispatchFailed, err)
	}

	ack := Ack{
		Team:        team,
		Role:        role,
		Target:      pane.Target(),
		SettleDelay: d.settleDelay,
		SentAt:      time.Now().UTC(),
	}
	d.emitter.Emit(events.NewRoleEvent(events.CommandDispatched, team, role, text, map[string]string{
		"settle_ms": fmt.Sprintf("%d", d.settleDelay.Milliseconds()),
	}))
	return ack, nil
}
