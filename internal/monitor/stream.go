package monitor

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Dicklesworthstone/vtm/internal/events"
	"github.com/Dicklesworthstone/vtm/internal/registry"
	"github.com/Dicklesworthstone/vtm/internal/tmux"
)

// UpdateKind discriminates stream updates.
type UpdateKind string

const (
	UpdateSnapshot  UpdateKind = "snapshot"
	UpdateKeepalive UpdateKind = "keepalive"
	UpdateGone      UpdateKind = "gone"
)

// Update is one record pushed to a stream subscriber.
type Update struct {
	Kind      UpdateKind    `json:"kind"`
	Snapshot  *Snapshot     `json:"snapshot,omitempty"`
	Activity  ActivityState `json:"activity,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// HubConfig tunes the stream hub.
type HubConfig struct {
	// Intervals are the supported polling intervals, ascending.
	Intervals []time.Duration

	// DefaultInterval is used when a subscriber does not request one.
	DefaultInterval time.Duration

	// Keepalive is the keepalive period. A subscriber that cannot accept
	// MissedKeepalives consecutive keepalives is presumed disconnected.
	Keepalive        time.Duration
	MissedKeepalives int

	// QuietPeriod is handed to each role's activity detector.
	QuietPeriod time.Duration

	// Buffer is the per-subscriber channel depth.
	Buffer int
}

// DefaultHubConfig returns the stock tuning.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		Intervals:        []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second},
		DefaultInterval:  time.Second,
		Keepalive:        30 * time.Second,
		MissedKeepalives: 2,
		QuietPeriod:      2500 * time.Millisecond,
		Buffer:           16,
	}
}

func (c *HubConfig) applyDefaults() {
	d := DefaultHubConfig()
	if len(c.Intervals) == 0 {
		c.Intervals = d.Intervals
	}
	sort.Slice(c.Intervals, func(i, j int) bool { return c.Intervals[i] < c.Intervals[j] })
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = d.DefaultInterval
	}
	if c.Keepalive <= 0 {
		c.Keepalive = d.Keepalive
	}
	if c.MissedKeepalives <= 0 {
		c.MissedKeepalives = d.MissedKeepalives
	}
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = d.QuietPeriod
	}
	if c.Buffer <= 0 {
		c.Buffer = d.Buffer
	}
}

// snap clamps a requested interval to the nearest supported one.
func (c HubConfig) snap(requested time.Duration) time.Duration {
	if requested <= 0 {
		return c.DefaultInterval
	}
	best := c.Intervals[0]
	bestDiff := absDuration(requested - best)
	for _, iv := range c.Intervals[1:] {
		if diff := absDuration(requested - iv); diff < bestDiff {
			best, bestDiff = iv, diff
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Subscription is one observer's view of a (team, role) stream.
type Subscription struct {
	C <-chan Update

	hub       *Hub
	key       string
	id        int
	closeOnce sync.Once
}

// Close detaches the subscriber. The last observer leaving a (team, role)
// tears the polling loop down.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.unsubscribe(s.key, s.id)
	})
}

// Hub owns one polling loop and one activity detector per (team, role)
// with at least one subscriber. Loops start on the first subscriber and
// stop on the last; with zero subscribers nothing polls.
type Hub struct {
	reg     *registry.Registry
	reader  *Reader
	emitter *events.EventEmitter
	cfg     HubConfig

	mu        sync.Mutex
	loops     map[string]*streamLoop
	detectors map[string]*Detector
}

// NewHub creates a stream hub.
func NewHub(reg *registry.Registry, reader *Reader, emitter *events.EventEmitter, cfg HubConfig) *Hub {
	cfg.applyDefaults()
	if emitter == nil {
		emitter = events.DefaultEmitter()
	}
	return &Hub{
		reg:       reg,
		reader:    reader,
		emitter:   emitter,
		cfg:       cfg,
		loops:     make(map[string]*streamLoop),
		detectors: make(map[string]*Detector),
	}
}

func streamKey(team, role string) string {
	return team + "\x00" + role
}

// Subscribe attaches an observer to a (team, role) stream at the given
// polling interval (clamped to the supported set). Fails with
// registry.ErrNotFound when the pair is unknown. The observer receives
// only live updates; there is no replay.
func (h *Hub) Subscribe(team, role string, interval time.Duration) (*Subscription, error) {
	pane, err := h.reg.ResolvePane(team, role)
	if err != nil {
		return nil, err
	}

	interval = h.cfg.snap(interval)
	key := streamKey(team, role)

	// A loop can tear down between the map lookup and addSubscriber;
	// retry against a fresh loop instead of surfacing the race.
	for attempt := 0; attempt < 3; attempt++ {
		h.mu.Lock()
		loop, ok := h.loops[key]
		if !ok {
			loop = newStreamLoop(h, key, team, role, pane, h.detectorLocked(key))
			h.loops[key] = loop
			loop.start()
		}
		h.mu.Unlock()

		sub, ch := loop.addSubscriber(interval, h.cfg.Buffer)
		if sub != nil {
			return &Subscription{C: ch, hub: h, key: key, id: sub.id}, nil
		}
	}
	return nil, fmt.Errorf("subscribe %s/%s: %w", team, role, tmux.ErrPaneGone)
}

// State returns the current snapshot and activity for a role on demand,
// without subscribing. When a polling loop is live it owns the activity
// state; otherwise the detector observes this capture directly.
func (h *Hub) State(team, role string) (Snapshot, ActivityState, error) {
	pane, err := h.reg.ResolvePane(team, role)
	if err != nil {
		return Snapshot{}, "", err
	}

	snap, err := h.reader.Capture(team, role, pane)
	if err != nil {
		return Snapshot{}, "", err
	}

	key := streamKey(team, role)
	h.mu.Lock()
	_, loopRunning := h.loops[key]
	detector := h.detectorLocked(key)
	h.mu.Unlock()

	if loopRunning {
		return snap, detector.State(), nil
	}
	state, _ := detector.Observe(snap, time.Now())
	return snap, state, nil
}

// ActiveStreams returns the (team, role) keys with live polling loops.
func (h *Hub) ActiveStreams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.loops)
}

// TeamActive reports whether any role of the team is currently active.
func (h *Hub) TeamActive(team string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	prefix := team + "\x00"
	for key, det := range h.detectors {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix && det.State() == StateActive {
			return true
		}
	}
	return false
}

func (h *Hub) detectorLocked(key string) *Detector {
	det, ok := h.detectors[key]
	if !ok {
		det = NewDetector(h.cfg.QuietPeriod)
		h.detectors[key] = det
	}
	return det
}

func (h *Hub) unsubscribe(key string, id int) {
	h.mu.Lock()
	loop, ok := h.loops[key]
	h.mu.Unlock()
	if !ok {
		return
	}
	if loop.removeSubscriber(id) == 0 {
		h.removeLoop(key, loop)
	}
}

func (h *Hub) removeLoop(key string, loop *streamLoop) {
	h.mu.Lock()
	if h.loops[key] == loop {
		delete(h.loops, key)
	}
	h.mu.Unlock()
	loop.stop()
}

// streamLoop is the background poller for one (team, role).
type streamLoop struct {
	hub      *Hub
	key      string
	team     string
	role     string
	pane     registry.PaneRef
	detector *Detector

	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	torn   bool

	resetCh  chan time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type subscriber struct {
	id       int
	ch       chan Update
	interval time.Duration
	missed   int
}

func newStreamLoop(h *Hub, key, team, role string, pane registry.PaneRef, det *Detector) *streamLoop {
	return &streamLoop{
		hub:      h,
		key:      key,
		team:     team,
		role:     role,
		pane:     pane,
		detector: det,
		subs:     make(map[int]*subscriber),
		resetCh:  make(chan time.Duration, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (l *streamLoop) start() {
	go l.run()
}

func (l *streamLoop) stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.done
}

// addSubscriber registers an observer; returns nil after teardown.
func (l *streamLoop) addSubscriber(interval time.Duration, buffer int) (*subscriber, chan Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.torn {
		return nil, nil
	}
	sub := &subscriber{
		id:       l.nextID,
		ch:       make(chan Update, buffer),
		interval: interval,
	}
	l.nextID++
	l.subs[sub.id] = sub
	l.requestResetLocked()
	return sub, sub.ch
}

// removeSubscriber detaches an observer and returns the remaining count.
// The last observer leaving marks the loop torn so a concurrent
// Subscribe cannot attach to it while it is shutting down.
func (l *streamLoop) removeSubscriber(id int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sub, ok := l.subs[id]; ok {
		delete(l.subs, id)
		close(sub.ch)
	}
	if len(l.subs) == 0 {
		l.torn = true
		return 0
	}
	l.requestResetLocked()
	return len(l.subs)
}

// fastestLocked returns the quickest interval any subscriber wants.
func (l *streamLoop) fastestLocked() time.Duration {
	fastest := l.hub.cfg.DefaultInterval
	first := true
	for _, sub := range l.subs {
		if first || sub.interval < fastest {
			fastest = sub.interval
			first = false
		}
	}
	return fastest
}

func (l *streamLoop) requestResetLocked() {
	select {
	case l.resetCh <- l.fastestLocked():
	default:
	}
}

func (l *streamLoop) run() {
	defer close(l.done)

	l.mu.Lock()
	interval := l.fastestLocked()
	l.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	keepalive := time.NewTicker(l.hub.cfg.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case next := <-l.resetCh:
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-keepalive.C:
			l.sendKeepalives()
		case <-ticker.C:
			if !l.poll() {
				return
			}
		}
	}
}

// poll captures once and fans out. Returns false when the loop must die.
func (l *streamLoop) poll() bool {
	snap, err := l.hub.reader.Capture(l.team, l.role, l.pane)
	if err != nil {
		if errors.Is(err, tmux.ErrPaneGone) {
			l.teardownGone()
			return false
		}
		log.Printf("monitor: capture error for %s/%s: %v", l.team, l.role, err)
		return true
	}

	now := time.Now()
	state, trans := l.detector.Observe(snap, now)
	if trans != nil {
		eventType := events.RoleActive
		if trans.To == StateIdle {
			eventType = events.RoleIdle
		}
		l.hub.emitter.Emit(events.NewRoleEvent(eventType, l.team, l.role, "", nil))
	}

	l.broadcast(Update{
		Kind:      UpdateSnapshot,
		Snapshot:  &snap,
		Activity:  state,
		Timestamp: now,
	})
	return true
}

// broadcast pushes an update to every subscriber, dropping for slow ones.
// Keepalive accounting handles presumed-dead observers.
func (l *streamLoop) broadcast(u Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sub := range l.subs {
		select {
		case sub.ch <- u:
		default:
		}
	}
}

// sendKeepalives delivers keepalive signals and drops subscribers that
// missed too many in a row.
func (l *streamLoop) sendKeepalives() {
	u := Update{Kind: UpdateKeepalive, Timestamp: time.Now()}

	l.mu.Lock()
	var dead []*subscriber
	for _, sub := range l.subs {
		select {
		case sub.ch <- u:
			sub.missed = 0
		default:
			sub.missed++
			if sub.missed >= l.hub.cfg.MissedKeepalives {
				dead = append(dead, sub)
			}
		}
	}
	for _, sub := range dead {
		delete(l.subs, sub.id)
		close(sub.ch)
		log.Printf("monitor: dropped unresponsive subscriber for %s/%s", l.team, l.role)
	}
	empty := len(l.subs) == 0 && !l.torn
	if empty {
		l.torn = true
	}
	l.mu.Unlock()

	if empty {
		l.hub.removeLoopAsync(l.key, l)
	}
}

// removeLoopAsync tears a loop down from inside its own goroutine.
func (h *Hub) removeLoopAsync(key string, loop *streamLoop) {
	h.mu.Lock()
	if h.loops[key] == loop {
		delete(h.loops, key)
	}
	h.mu.Unlock()
	loop.stopOnce.Do(func() { close(loop.stopCh) })
}

// teardownGone notifies subscribers once and shuts the loop down. The
// loop is not restarted; a fresh Subscribe re-resolves the pane.
func (l *streamLoop) teardownGone() {
	u := Update{Kind: UpdateGone, Timestamp: time.Now()}

	l.mu.Lock()
	l.torn = true
	for _, sub := range l.subs {
		select {
		case sub.ch <- u:
		default:
		}
		close(sub.ch)
	}
	l.subs = make(map[int]*subscriber)
	l.mu.Unlock()

	l.hub.emitter.Emit(events.NewRoleEvent(events.PaneGone, l.team, l.role, "pane disappeared", nil))
	l.hub.removeLoopAsync(l.key, l)
	log.Printf("monitor: pane gone for %s/%s, stream closed", l.team, l.role)
}
