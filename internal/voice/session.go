package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Dicklesworthstone/vtm/internal/audio"
	"github.com/Dicklesworthstone/vtm/internal/dispatch"
	"github.com/Dicklesworthstone/vtm/internal/events"
	"github.com/Dicklesworthstone/vtm/internal/transcribe"
)

// Sender dispatches finalized command text to a pane.
type Sender interface {
	Send(team, role, text string) (dispatch.Ack, error)
}

// Config tunes the voice pipeline. Zero values take the documented
// defaults.
type Config struct {
	// StopPhrase finalizes the transcript when spoken last. Matching
	// is case-insensitive against the trailing text.
	StopPhrase string
	// Debounce suppresses duplicate submissions of the same corrected
	// text within the window.
	Debounce time.Duration
	// HandsFree resumes listening automatically after each dispatch.
	HandsFree bool

	ConnectTimeout time.Duration
	CorrectTimeout time.Duration
	ChunkSize      int

	Audio  audio.Config
	Stream transcribe.StreamConfig
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.StopPhrase) == "" {
		c.StopPhrase = "thank you"
	}
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.CorrectTimeout <= 0 {
		c.CorrectTimeout = 5 * time.Second
	}
	if c.ChunkSize < 256 {
		c.ChunkSize = 4096
	}
	if !c.Stream.InterimResults {
		c.Stream.InterimResults = true
	}
	return c
}

// Session is one observer's voice pipeline. It owns the microphone
// capture, the transcription connection, and the dispatch of finalized
// commands to the bound (team, role). Not shared across observers.
type Session struct {
	capture   audio.Capture
	provider  transcribe.Provider
	corrector Corrector
	sender    Sender
	player    Player
	emitter   *events.EventEmitter
	cfg       Config

	mu      sync.Mutex
	state   State
	team    string
	role    string
	cancel  context.CancelFunc
	gen     uint64
	lastErr error

	lastSent   string
	lastSentAt time.Time

	now func() time.Time
}

// NewSession wires a voice session. corrector, player and emitter may
// be nil; they default to no correction, platform playback, and the
// process-wide emitter.
func NewSession(capture audio.Capture, provider transcribe.Provider, corrector Corrector, sender Sender, player Player, emitter *events.EventEmitter, cfg Config) *Session {
	if corrector == nil {
		corrector = NopCorrector{}
	}
	if player == nil {
		player = NewCommandPlayer()
	}
	if emitter == nil {
		emitter = events.DefaultEmitter()
	}
	return &Session{
		capture:   capture,
		provider:  provider,
		corrector: corrector,
		sender:    sender,
		player:    player,
		emitter:   emitter,
		cfg:       cfg.withDefaults(),
		state:     StateIdle,
		now:       time.Now,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that moved the session to the error state.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Target returns the bound team and role.
func (s *Session) Target() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.team, s.role
}

// Start binds the session to (team, role) and begins capturing. The
// pipeline runs until the stop phrase finalizes a command, Stop is
// called, or a fatal failure occurs.
func (s *Session) Start(ctx context.Context, team, role string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrSessionActive, s.state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.team, s.role = team, role
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.lastErr = nil
	s.mu.Unlock()

	s.emitState(StateConnecting, team, role)
	go s.run(runCtx, gen)
	return nil
}

// Stop cancels the session from any state, discarding the in-flight
// transcript and closing the transcription connection.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	wasIdle := s.state == StateIdle
	s.state = StateIdle
	team, role := s.team, s.role
	s.team, s.role = "", ""
	s.mu.Unlock()

	if !wasIdle {
		s.emitState(StateIdle, team, role)
	}
}

// Acknowledge clears the error state back to idle.
func (s *Session) Acknowledge() {
	s.mu.Lock()
	if s.state != StateError {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.lastErr = nil
	team, role := s.team, s.role
	s.team, s.role = "", ""
	s.mu.Unlock()
	s.emitState(StateIdle, team, role)
}

// Speak plays completion feedback audio. Entered only while idle or
// listening; the session returns to its prior state afterwards.
func (s *Session) Speak(ctx context.Context, wav []byte) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateListening {
		s.mu.Unlock()
		return nil
	}
	prior := s.state
	gen := s.gen
	s.state = StateSpeaking
	team, role := s.team, s.role
	s.mu.Unlock()
	s.emitState(StateSpeaking, team, role)

	err := s.player.Play(ctx, wav)

	s.mu.Lock()
	if s.gen == gen && s.state == StateSpeaking {
		s.state = prior
		s.mu.Unlock()
		s.emitState(prior, team, role)
	} else {
		s.mu.Unlock()
	}
	return err
}

// run drives one recording lifecycle: (re)connect, listen until the
// stop phrase, correct, dispatch, then either resume (hands-free) or
// return to idle.
func (s *Session) run(ctx context.Context, gen uint64) {
	reconnected := false

	// Start already put the session in connecting; reconnects and
	// hands-free resumes re-enter the loop without announcing it.
	for {
		stream, mic, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(gen, err)
			return
		}

		if !s.toState(gen, StateListening) {
			_ = mic.Stop()
			_ = stream.Close()
			return
		}

		pumpDone := make(chan struct{})
		go audio.Pump(mic, stream, s.cfg.ChunkSize, pumpDone)

		agg := &aggregator{}
		finalized := s.listen(ctx, stream, agg)

		_ = mic.Stop()
		_ = stream.CloseSend()

		if !finalized {
			streamErr := stream.Wait()
			<-pumpDone
			if ctx.Err() != nil {
				return
			}
			if !reconnected {
				reconnected = true
				continue
			}
			if streamErr == nil {
				streamErr = ErrConnectionLost
			}
			s.fail(gen, fmt.Errorf("%w: %v", ErrConnectionLost, streamErr))
			return
		}

		_ = stream.Close()
		<-pumpDone

		raw := stripStopPhrase(agg.Text(), s.cfg.StopPhrase)
		done := s.finalize(ctx, gen, raw)
		if done {
			return
		}
		// Hands-free resume: back to listening without user action.
		reconnected = false
	}
}

// listen consumes transcript events until the stop phrase arrives
// (returns true) or the stream ends (returns false).
func (s *Session) listen(ctx context.Context, stream transcribe.Session, agg *aggregator) bool {
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return false
			}
			agg.Add(ev)
			if endsWithStopPhrase(agg.Text(), s.cfg.StopPhrase) {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}

// finalize runs processing -> correcting -> sent for one utterance.
// Returns true when the session should end (non hands-free, empty
// command with no resume, or failure).
func (s *Session) finalize(ctx context.Context, gen uint64, raw string) bool {
	if !s.toState(gen, StateProcessing) {
		return true
	}

	if raw == "" {
		// Stop phrase with no command attached: nothing to send.
		if s.cfg.HandsFree && ctx.Err() == nil {
			return false
		}
		s.toIdle(gen)
		return true
	}

	if !s.toState(gen, StateCorrecting) {
		return true
	}
	corrected := s.correct(ctx, raw)

	if !s.toState(gen, StateSent) {
		return true
	}

	team, role := s.Target()
	if s.shouldSend(corrected) {
		if _, err := s.sender.Send(team, role, corrected); err != nil {
			s.fail(gen, err)
			return true
		}
	}

	if s.cfg.HandsFree && ctx.Err() == nil {
		return false
	}
	s.toIdle(gen)
	return true
}

// correct applies the correction step with its bounded timeout. Any
// failure degrades to the raw transcript.
func (s *Session) correct(ctx context.Context, raw string) string {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CorrectTimeout)
	defer cancel()

	corrected, err := s.corrector.Correct(cctx, raw)
	if err != nil || strings.TrimSpace(corrected) == "" {
		return raw
	}
	return corrected
}

// shouldSend applies the duplicate-submission debounce.
func (s *Session) shouldSend(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if text == s.lastSent && now.Sub(s.lastSentAt) < s.cfg.Debounce {
		return false
	}
	s.lastSent = text
	s.lastSentAt = now
	return true
}

type connectResult struct {
	stream transcribe.Session
	err    error
}

func (s *Session) connect(ctx context.Context) (transcribe.Session, audio.Session, error) {
	ch := make(chan connectResult, 1)
	go func() {
		stream, err := s.provider.StartStreaming(ctx, s.cfg.Stream)
		ch <- connectResult{stream, err}
	}()

	var stream transcribe.Session
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, nil, fmt.Errorf("transcription connect: %w", r.err)
		}
		stream = r.stream
	case <-time.After(s.cfg.ConnectTimeout):
		go func() {
			if r := <-ch; r.stream != nil {
				_ = r.stream.Close()
			}
		}()
		return nil, nil, fmt.Errorf("transcription connect timed out after %s", s.cfg.ConnectTimeout)
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.stream != nil {
				_ = r.stream.Close()
			}
		}()
		return nil, nil, ctx.Err()
	}

	mic, err := s.capture.Start(ctx, s.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		return nil, nil, fmt.Errorf("start capture: %w", err)
	}
	return stream, mic, nil
}

func (s *Session) toState(gen uint64, state State) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	s.state = state
	team, role := s.team, s.role
	s.mu.Unlock()
	s.emitState(state, team, role)
	return true
}

func (s *Session) toIdle(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	team, role := s.team, s.role
	s.team, s.role = "", ""
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.emitState(StateIdle, team, role)
}

func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.lastErr = err
	team, role := s.team, s.role
	s.mu.Unlock()
	s.emitState(StateError, team, role)
}

func (s *Session) emitState(state State, team, role string) {
	s.emitter.Emit(events.NewRoleEvent(events.VoiceStateChanged, team, role, state.String(), map[string]string{
		"state": state.String(),
	}))
}
