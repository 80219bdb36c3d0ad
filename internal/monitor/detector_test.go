package monitor

import (
	"testing"
	"time"
)

func snapOf(lines ...string) Snapshot {
	return Snapshot{Team: "alpha", Role: "PM", Lines: lines, CapturedAt: time.Now()}
}

func TestDetector_SeedDoesNotActivate(t *testing.T) {
	d := NewDetector(100 * time.Millisecond)
	now := time.Now()

	state, trans := d.Observe(snapOf("existing", "scrollback"), now)
	if state != StateIdle || trans != nil {
		t.Errorf("first observation must seed silently, got state=%s trans=%v", state, trans)
	}
}

func TestDetector_ChangeActivatesOnce(t *testing.T) {
	d := NewDetector(100 * time.Millisecond)
	now := time.Now()

	d.Observe(snapOf("a"), now)
	state, trans := d.Observe(snapOf("a", "b"), now.Add(10*time.Millisecond))
	if state != StateActive || trans == nil || trans.To != StateActive {
		t.Fatalf("expected idle->active, got state=%s trans=%v", state, trans)
	}

	// Further changes keep it active without re-transitioning.
	state, trans = d.Observe(snapOf("a", "b", "c"), now.Add(20*time.Millisecond))
	if state != StateActive || trans != nil {
		t.Errorf("expected no duplicate transition, got state=%s trans=%v", state, trans)
	}
}

func TestDetector_QuietPeriodReturnsToIdle(t *testing.T) {
	d := NewDetector(100 * time.Millisecond)
	now := time.Now()

	d.Observe(snapOf("a"), now)
	d.Observe(snapOf("b"), now.Add(10*time.Millisecond))

	// Identical polls inside the quiet period change nothing.
	state, trans := d.Observe(snapOf("b"), now.Add(50*time.Millisecond))
	if state != StateActive || trans != nil {
		t.Errorf("still quiet, expected active with no transition")
	}

	// Quiet period elapsed with no change: back to idle, exactly once.
	state, trans = d.Observe(snapOf("b"), now.Add(120*time.Millisecond))
	if state != StateIdle || trans == nil || trans.To != StateIdle {
		t.Fatalf("expected active->idle, got state=%s trans=%v", state, trans)
	}
	state, trans = d.Observe(snapOf("b"), now.Add(200*time.Millisecond))
	if state != StateIdle || trans != nil {
		t.Errorf("expected stable idle, got state=%s trans=%v", state, trans)
	}
}

// A sequence of identical snapshots never produces more than one
// idle->active then one active->idle, no matter how often we poll.
func TestDetector_NoFlappingOnNoopPolls(t *testing.T) {
	d := NewDetector(100 * time.Millisecond)
	now := time.Now()

	d.Observe(snapOf("base"), now)
	d.Observe(snapOf("output"), now.Add(time.Millisecond))

	var toActive, toIdle int
	for i := 0; i < 500; i++ {
		_, trans := d.Observe(snapOf("output"), now.Add(time.Duration(i)*time.Millisecond))
		if trans != nil {
			switch trans.To {
			case StateActive:
				toActive++
			case StateIdle:
				toIdle++
			}
		}
	}

	if toActive != 0 {
		t.Errorf("no-op polls produced %d activations", toActive)
	}
	if toIdle != 1 {
		t.Errorf("expected exactly one active->idle, got %d", toIdle)
	}
}

func TestDetector_WhitespaceSensitiveHash(t *testing.T) {
	a := snapOf("spinner |")
	b := snapOf("spinner  |")
	if a.Hash() == b.Hash() {
		t.Error("hash must be whitespace-sensitive")
	}

	// Line-boundary sensitivity: ["ab"] vs ["a","b"].
	if snapOf("ab").Hash() == snapOf("a", "b").Hash() {
		t.Error("hash must distinguish line boundaries")
	}
}

func TestDetector_ReactivationAfterIdle(t *testing.T) {
	d := NewDetector(50 * time.Millisecond)
	now := time.Now()

	d.Observe(snapOf("a"), now)
	d.Observe(snapOf("b"), now.Add(time.Millisecond))
	d.Observe(snapOf("b"), now.Add(100*time.Millisecond)) // -> idle

	state, trans := d.Observe(snapOf("c"), now.Add(150*time.Millisecond))
	if state != StateActive || trans == nil {
		t.Errorf("new output after idle must reactivate, got %s %v", state, trans)
	}
}
