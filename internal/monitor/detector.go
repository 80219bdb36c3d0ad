package monitor

import (
	"sync"
	"time"
)

// ActivityState classifies a role as busy or idle.
type ActivityState string

const (
	StateIdle   ActivityState = "idle"
	StateActive ActivityState = "active"
)

// Transition describes a single activity state change.
type Transition struct {
	From ActivityState
	To   ActivityState
	At   time.Time
}

// Detector is the per-role activity state machine:
//
//	idle --(snapshot hash changed)--> active --(no change for quiet)--> idle
//
// Only a content hash change resets the quiet timer; no-op polls never
// do, so high-frequency polling cannot cause flapping. One instance per
// (team, role), owned by the stream loop for that key.
type Detector struct {
	mu sync.Mutex

	quiet time.Duration

	state          ActivityState
	seeded         bool
	lastHash       uint64
	lastChange     time.Time
	lastTransition time.Time
}

// NewDetector creates a detector with the given quiet period.
func NewDetector(quiet time.Duration) *Detector {
	if quiet <= 0 {
		quiet = 2500 * time.Millisecond
	}
	return &Detector{quiet: quiet, state: StateIdle}
}

// Observe feeds one snapshot into the state machine. The returned
// transition is non-nil only when the state actually changed; no-change
// polls produce nothing.
func (d *Detector) Observe(snap Snapshot, now time.Time) (ActivityState, *Transition) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hash := snap.Hash()

	// First observation seeds the baseline without signaling activity:
	// existing scrollback is not new output.
	if !d.seeded {
		d.seeded = true
		d.lastHash = hash
		d.lastChange = now
		return d.state, nil
	}

	if hash != d.lastHash {
		d.lastHash = hash
		d.lastChange = now
		if d.state != StateActive {
			return d.transitionLocked(StateActive, now), d.lastTransitionRecord(now, StateIdle, StateActive)
		}
		return d.state, nil
	}

	if d.state == StateActive && now.Sub(d.lastChange) >= d.quiet {
		return d.transitionLocked(StateIdle, now), d.lastTransitionRecord(now, StateActive, StateIdle)
	}

	return d.state, nil
}

// State returns the current activity classification.
func (d *Detector) State() ActivityState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastTransition returns when the state last changed.
func (d *Detector) LastTransition() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTransition
}

func (d *Detector) transitionLocked(to ActivityState, now time.Time) ActivityState {
	d.state = to
	d.lastTransition = now
	return to
}

func (d *Detector) lastTransitionRecord(at time.Time, from, to ActivityState) *Transition {
	return &Transition{From: from, To: to, At: at}
}
