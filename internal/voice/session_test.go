package voice

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/vtm/internal/audio"
	"github.com/Dicklesworthstone/vtm/internal/dispatch"
	"github.com/Dicklesworthstone/vtm/internal/events"
	"github.com/Dicklesworthstone/vtm/internal/transcribe"
)

type fakeStream struct {
	events  chan transcribe.Event
	waitErr error
}

func newFakeStream(evs ...transcribe.Event) *fakeStream {
	st := &fakeStream{events: make(chan transcribe.Event, len(evs)+1)}
	for _, e := range evs {
		st.events <- e
	}
	return st
}

// newDeadStream simulates a connection that drops without delivering a
// stop phrase.
func newDeadStream(err error, evs ...transcribe.Event) *fakeStream {
	st := newFakeStream(evs...)
	st.waitErr = err
	close(st.events)
	return st
}

func (s *fakeStream) SendAudio([]byte) error          { return nil }
func (s *fakeStream) CloseSend() error                { return nil }
func (s *fakeStream) Events() <-chan transcribe.Event { return s.events }
func (s *fakeStream) Wait() error                     { return s.waitErr }
func (s *fakeStream) Close() error                    { return s.waitErr }

type fakeProvider struct {
	mu      sync.Mutex
	streams []*fakeStream
	starts  int
}

func (p *fakeProvider) StartStreaming(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.starts >= len(p.streams) {
		return nil, errors.New("no stream available")
	}
	st := p.streams[p.starts]
	p.starts++
	return st, nil
}

func (p *fakeProvider) startCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

type fakeMic struct {
	stopCh   chan struct{}
	stopOnce sync.Once
}

func (m *fakeMic) Read(p []byte) (int, error) {
	<-m.stopCh
	return 0, io.EOF
}

func (m *fakeMic) Stop() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

type fakeCapture struct{}

func (fakeCapture) Start(ctx context.Context, cfg audio.Config) (audio.Session, error) {
	return &fakeMic{stopCh: make(chan struct{})}, nil
}

type sendCall struct {
	team, role, text string
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

func (s *fakeSender) Send(team, role, text string) (dispatch.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return dispatch.Ack{}, s.err
	}
	s.calls = append(s.calls, sendCall{team, role, text})
	return dispatch.Ack{Team: team, Role: role, SettleDelay: 5 * time.Second}, nil
}

func (s *fakeSender) sent() []sendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sendCall(nil), s.calls...)
}

type fakePlayer struct {
	mu    sync.Mutex
	plays int
}

func (p *fakePlayer) Play(ctx context.Context, wav []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return nil
}

type failingCorrector struct{}

func (failingCorrector) Correct(context.Context, string) (string, error) {
	return "", ErrCorrectionUnavailable
}

type rewritingCorrector struct{ out string }

func (c rewritingCorrector) Correct(context.Context, string) (string, error) {
	return c.out, nil
}

func testEmitter() *events.EventEmitter {
	return events.NewEventEmitter(events.NewEventBus(64), 64)
}

func newTestSession(p *fakeProvider, sender *fakeSender, corrector Corrector, cfg Config) *Session {
	return NewSession(fakeCapture{}, p, corrector, sender, &fakePlayer{}, testEmitter(), cfg)
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, stuck at %s (err: %v)", want, s.State(), s.Err())
}

func final(text string) transcribe.Event {
	return transcribe.Event{Kind: transcribe.KindFinal, Text: text}
}

func TestStopPhraseSplitAcrossFragments(t *testing.T) {
	provider := &fakeProvider{streams: []*fakeStream{
		newFakeStream(
			final("please build the login"),
			final("page thank"),
			final("you"),
		),
	}}
	sender := &fakeSender{}
	s := newTestSession(provider, sender, nil, Config{})

	if err := s.Start(context.Background(), "alpha", "CODER"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, s, StateIdle)

	calls := sender.sent()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", len(calls))
	}
	if calls[0].text != "please build the login page" {
		t.Errorf("submitted text = %q", calls[0].text)
	}
	if calls[0].team != "alpha" || calls[0].role != "CODER" {
		t.Errorf("routed to %s/%s", calls[0].team, calls[0].role)
	}
}

func TestStopPhraseCaseAndPunctuation(t *testing.T) {
	provider := &fakeProvider{streams: []*fakeStream{
		newFakeStream(final("run the tests, Thank You.")),
	}}
	sender := &fakeSender{}
	s := newTestSession(provider, sender, nil, Config{})

	if err := s.Start(context.Background(), "alpha", "pane-0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitState(t, s, StateIdle)

	calls := sender.sent()
	if len(calls) != 1 || calls[0].text != "run the tests" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestCorrectionApplied(t *testing.T) {
	provider := &fakeProvider{streams: []*fakeStream{
		newFakeStream(final("open dash board thank you")),
	}}
	sender := &fakeSender{}
	s := newTestSession(provider, sender, rewritingCorrector{out: "open dashboard"}, Config{})

	s.Start(context.Background(), "alpha", "pane-0")
	waitState(t, s, StateIdle)

	calls := sender.sent()
	if len(calls) != 1 || calls[0].text != "open dashboard" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestCorrectionUnavailableFallsBackToRaw(t *testing.T) {
	provider := &fakeProvider{streams: []*fakeStream{
		newFakeStream(final("restart the worker thank you")),
	}}
	sender := &fakeSender{}
	s := newTestSession(provider, sender, failingCorrector{}, Config{})

	s.Start(context.Background(), "alpha", "pane-0")
	waitState(t, s, StateIdle)

	calls := sender.sent()
	if len(calls) != 1 || calls[0].text != "restart the worker" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestDebounceSuppressesDuplicate(t *testing.T) {
	provider := &fakeProvider{streams: []*fakeStream{
		newFakeStream(final("deploy now thank you")),
		newFakeStream(final("deploy now thank you")),
		newFakeStream(), // stays open so the session keeps listening
	}}
	sender := &fakeSender{}
	s := newTestSession(provider, sender, nil, Config{HandsFree: true, Debounce: time.Hour})

	fixed := time.Now()
	s.now = func() time.Time { return fixed }

	s.Start(context.Background(), "alpha", "pane-1")
	waitState(t, s, StateListening)

	deadline := time.Now().Add(2 * time.Second)
	for provider.startCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	s.Stop()

	if calls := sender.sent(); len(calls) != 1 {
		t.Fatalf("expected one dispatch within debounce window, got %d", len(calls))
	}
}

func TestReconnectOnceThenError(t *testing.T) {
	dropErr := errors.New("socket reset")
	provider := &fakeProvider{streams: []*fakeStream{
		newDeadStream(dropErr),
		newDeadStream(dropErr),
	}}
	sender := &fakeSender{}
	s := newTestSession(provider, sender, nil, Config{})

	s.Start(context.Background(), "alpha", "pane-0")
	waitState(t, s, StateError)

	if provider.startCount() != 2 {
		t.Errorf("expected exactly one reconnect attempt, saw %d connects", provider.startCount())
	}
	if !errors.Is(s.Err(), ErrConnectionLost) {
		t.Errorf("expected ErrConnectionLost, got %v", s.Err())
	}
	if len(sender.sent()) != 0 {
		t.Error("no dispatch expected after connection loss")
	}

	s.Acknowledge()
	if s.State() != StateIdle {
		t.Errorf("acknowledge should clear to idle, got %s", s.State())
	}
}

func TestReconnectRecovers(t *testing.T) {
	provider := &fakeProvider{streams: []*fakeStream{
		newDeadStream(errors.New("blip")),
		newFakeStream(final("status thank you")),
	}}
	sender := &fakeSender{}
	s := newTestSession(provider, sender, nil, Config{})

	s.Start(context.Background(), "alpha", "pane-0")
	waitState(t, s, StateIdle)

	calls := sender.sent()
	if len(calls) != 1 || calls[0].text != "status" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestStopDiscardsTranscript(t *testing.T) {
	provider := &fakeProvider{streams: []*fakeStream{
		newFakeStream(final("half a command")),
	}}
	sender := &fakeSender{}
	s := newTestSession(provider, sender, nil, Config{})

	s.Start(context.Background(), "alpha", "pane-0")
	waitState(t, s, StateListening)
	s.Stop()

	if s.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %s", s.State())
	}
	time.Sleep(20 * time.Millisecond)
	if len(sender.sent()) != 0 {
		t.Error("stop must discard the in-flight transcript")
	}
}

func TestStartWhileActiveRejected(t *testing.T) {
	provider := &fakeProvider{streams: []*fakeStream{newFakeStream()}}
	s := newTestSession(provider, &fakeSender{}, nil, Config{})

	s.Start(context.Background(), "alpha", "pane-0")
	waitState(t, s, StateListening)
	defer s.Stop()

	if err := s.Start(context.Background(), "beta", "pane-0"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestHandsFreeResumesListening(t *testing.T) {
	provider := &fakeProvider{streams: []*fakeStream{
		newFakeStream(final("first command thank you")),
		newFakeStream(), // resumed session keeps listening
	}}
	sender := &fakeSender{}
	s := newTestSession(provider, sender, nil, Config{HandsFree: true})

	s.Start(context.Background(), "alpha", "pane-0")
	waitState(t, s, StateListening)

	deadline := time.Now().Add(2 * time.Second)
	for provider.startCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if provider.startCount() != 2 {
		t.Fatalf("hands-free session should reconnect, saw %d connects", provider.startCount())
	}
	if len(sender.sent()) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(sender.sent()))
	}
	s.Stop()
}

func TestSpeakReturnsToPriorState(t *testing.T) {
	player := &fakePlayer{}
	s := NewSession(fakeCapture{}, &fakeProvider{}, nil, &fakeSender{}, player, testEmitter(), Config{})

	if err := s.Speak(context.Background(), []byte("RIFFxxxxWAVE")); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle after speaking, got %s", s.State())
	}
	if player.plays != 1 {
		t.Errorf("expected one playback, got %d", player.plays)
	}
}

func TestStopPhraseHelpers(t *testing.T) {
	cases := []struct {
		text  string
		match bool
		want  string
	}{
		{"please build the login page thank you", true, "please build the login page"},
		{"please build the login page Thank You.", true, "please build the login page"},
		{"thank you", true, ""},
		{"say thankyou", false, "say thankyou"},
		{"no stop phrase here", false, "no stop phrase here"},
	}
	for _, tc := range cases {
		if got := endsWithStopPhrase(tc.text, "thank you"); got != tc.match {
			t.Errorf("endsWithStopPhrase(%q) = %v", tc.text, got)
		}
		if got := stripStopPhrase(tc.text, "thank you"); got != tc.want {
			t.Errorf("stripStopPhrase(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestAggregatorMergesProvisionalTail(t *testing.T) {
	agg := &aggregator{}
	agg.Add(final("please build the login page thank"))
	agg.Add(transcribe.Event{Kind: transcribe.KindPartial, Text: "you"})

	if got := agg.Text(); got != "please build the login page thank you" {
		t.Fatalf("aggregated text = %q", got)
	}

	agg.Reset()
	if agg.Text() != "" {
		t.Fatal("reset must clear the transcript")
	}
}
