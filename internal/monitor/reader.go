// Package monitor implements pane observation: on-demand snapshots,
// busy/idle activity detection from output deltas, and the per-role
// streaming hub that fans captures out to connected observers.
package monitor

import (
	"hash/fnv"
	"strings"
	"time"

	"github.com/Dicklesworthstone/vtm/internal/registry"
	"github.com/Dicklesworthstone/vtm/internal/tmux"
)

// Snapshot is a point-in-time capture of a pane's visible text.
// Immutable once created; the next capture supersedes it.
type Snapshot struct {
	Team       string    `json:"team"`
	Role       string    `json:"role"`
	Lines      []string  `json:"lines"`
	CapturedAt time.Time `json:"captured_at"`
}

// Hash returns a content hash of the snapshot. Whitespace-sensitive:
// a spinner redraw that changes nothing but padding still counts as a
// change, which is what the activity detector wants.
func (s Snapshot) Hash() uint64 {
	h := fnv.New64a()
	for _, line := range s.Lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return h.Sum64()
}

// Text returns the snapshot as a single string.
func (s Snapshot) Text() string {
	return strings.Join(s.Lines, "\n")
}

// Reader captures pane snapshots. Pure and stateless; it fails only when
// the pane no longer exists (tmux.ErrPaneGone).
type Reader struct {
	client   *tmux.Client
	maxLines int
}

// NewReader creates a reader capturing at most maxLines per snapshot.
func NewReader(client *tmux.Client, maxLines int) *Reader {
	if client == nil {
		client = tmux.DefaultClient
	}
	if maxLines <= 0 {
		maxLines = 50
	}
	return &Reader{client: client, maxLines: maxLines}
}

// Capture reads the current visible content of a pane.
func (r *Reader) Capture(team, role string, pane registry.PaneRef) (Snapshot, error) {
	lines, err := r.client.CapturePane(pane.Target(), r.maxLines)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Team:       team,
		Role:       role,
		Lines:      lines,
		CapturedAt: time.Now().UTC(),
	}, nil
}
