package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dicklesworthstone/vtm/internal/transcribe"
)

func TestNewProviderDefaults(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{})
	if p.cfg.APIBaseURL != "https://api.deepgram.com/v1" {
		t.Fatalf("unexpected base url: %q", p.cfg.APIBaseURL)
	}
	if p.cfg.Model != "nova-2" {
		t.Fatalf("unexpected model: %q", p.cfg.Model)
	}
}

func TestStartStreamingRequiresAPIKey(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{})
	_, err := p.StartStreaming(context.Background(), transcribe.StreamConfig{})
	if err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestListenURLDefaults(t *testing.T) {
	t.Parallel()

	url, err := listenURL(Config{APIBaseURL: "https://api.deepgram.com/v1", Model: "nova-2"}, transcribe.StreamConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(url, "wss://api.deepgram.com/v1/listen") {
		t.Fatalf("unexpected ws url: %s", url)
	}
	for _, want := range []string{"encoding=linear16", "sample_rate=16000", "channels=1"} {
		if !strings.Contains(url, want) {
			t.Fatalf("expected %s in url: %s", want, url)
		}
	}
}

func TestListenURLOptions(t *testing.T) {
	t.Parallel()

	url, err := listenURL(
		Config{APIBaseURL: "http://localhost:8080/v1", Model: "m", Language: "en-US", SmartFormat: true},
		transcribe.StreamConfig{Encoding: "linear16", SampleRate: 8000, Channels: 2, InterimResults: true},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(url, "ws://localhost:8080/v1/listen") {
		t.Fatalf("unexpected ws url: %s", url)
	}
	for _, want := range []string{"language=en-US", "smart_format=true", "interim_results=true", "sample_rate=8000"} {
		if !strings.Contains(url, want) {
			t.Fatalf("expected %s in url: %s", want, url)
		}
	}
}

func TestListenURLInvalidBase(t *testing.T) {
	t.Parallel()

	if _, err := listenURL(Config{APIBaseURL: ":// bad"}, transcribe.StreamConfig{}); err == nil {
		t.Fatal("expected invalid base url error")
	}
}

func TestExtractTranscript(t *testing.T) {
	t.Parallel()

	r1 := listenResponse{}
	r1.Channel.Alternatives = append(r1.Channel.Alternatives, struct {
		Transcript string "json:\"transcript\""
	}{Transcript: " channel "})
	if got := extractTranscript(r1); got != "channel" {
		t.Fatalf("unexpected transcript from channel: %q", got)
	}

	if got := extractTranscript(listenResponse{}); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}

func TestSendAudioAfterCloseSend(t *testing.T) {
	t.Parallel()

	s := &wsSession{sendClosed: true}
	if err := s.SendAudio([]byte("x")); err == nil {
		t.Fatal("expected closed error")
	}
}

func TestCloseSendIdempotent(t *testing.T) {
	t.Parallel()

	s := &wsSession{audio: make(chan []byte, 1)}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected second error: %v", err)
	}
}

func TestEmitDeliversToSlowConsumer(t *testing.T) {
	t.Parallel()

	s := &wsSession{
		events: make(chan transcribe.Event, 1),
		stop:   make(chan struct{}),
	}

	const n = 16
	produced := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			s.emit(transcribe.Event{Kind: transcribe.KindFinal, Text: "fragment"})
		}
		close(produced)
	}()

	// Consume slower than the producer; every event must still arrive.
	for i := 0; i < n; i++ {
		select {
		case <-s.events:
			time.Sleep(time.Millisecond)
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d never delivered", i)
		}
	}

	select {
	case <-produced:
	case <-time.After(2 * time.Second):
		t.Fatal("producer stuck after all events consumed")
	}
}

func TestEmitUnblocksOnClose(t *testing.T) {
	t.Parallel()

	s := &wsSession{
		events: make(chan transcribe.Event, 1),
		stop:   make(chan struct{}),
	}
	s.emit(transcribe.Event{Text: "fills the buffer"})

	returned := make(chan struct{})
	go func() {
		s.emit(transcribe.Event{Text: "blocked"})
		close(returned)
	}()

	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("emit stayed blocked through session stop")
	}
}

func TestSendAudioDuringCloseSend(t *testing.T) {
	t.Parallel()

	s := &wsSession{
		audio: make(chan []byte, 4),
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
	}
	drained := make(chan struct{})
	go func() {
		for range s.audio {
		}
		close(drained)
	}()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if err := s.SendAudio([]byte{0x1}); err != nil {
					return
				}
			}
		}()
	}

	// Racing the close against in-flight sends must not panic.
	if err := s.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}
	wg.Wait()

	if err := s.SendAudio([]byte{0x1}); err == nil {
		t.Fatal("expected error after CloseSend")
	}
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("audio channel never closed")
	}
}

func TestSetErrIgnoresNormalClose(t *testing.T) {
	t.Parallel()

	s := &wsSession{}
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	if s.sessionErr() != nil {
		t.Fatal("expected close error to be ignored")
	}

	s.setErr(errors.New("boom"))
	s.setErr(errors.New("later"))
	if got := s.sessionErr(); got == nil || got.Error() != "boom" {
		t.Fatalf("expected first real error to win, got %v", got)
	}
}

func TestStreamingAgainstLocalServer(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Wait for one audio frame, then emit a partial and a final.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"is_final":false,"channel":{"alternatives":[{"transcript":"open the"}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"open the dashboard"}]}}`))

		// Drain until CloseStream, then close normally.
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(payload), "CloseStream") {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
	defer srv.Close()

	p := NewProvider(Config{APIKey: "test-key", APIBaseURL: srv.URL})
	session, err := p.StartStreaming(context.Background(), transcribe.StreamConfig{InterimResults: true})
	if err != nil {
		t.Fatalf("start streaming: %v", err)
	}

	if err := session.SendAudio(make([]byte, 128)); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	var got []transcribe.Event
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev, ok := <-session.Events():
			if !ok {
				t.Fatalf("events closed early, got %v", got)
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}

	if got[0].Kind != transcribe.KindPartial || got[0].Text != "open the" {
		t.Errorf("unexpected first event: %+v", got[0])
	}
	if got[1].Kind != transcribe.KindFinal || !got[1].SpeechFinal || got[1].Text != "open the dashboard" {
		t.Errorf("unexpected second event: %+v", got[1])
	}

	session.CloseSend()
	if err := session.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
}
