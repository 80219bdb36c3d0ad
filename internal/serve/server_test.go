package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dicklesworthstone/vtm/internal/dispatch"
	"github.com/Dicklesworthstone/vtm/internal/events"
	"github.com/Dicklesworthstone/vtm/internal/monitor"
	"github.com/Dicklesworthstone/vtm/internal/registry"
	"github.com/Dicklesworthstone/vtm/internal/tmux"
	"github.com/Dicklesworthstone/vtm/internal/tts"
)

type fakeTmux struct {
	mu       sync.Mutex
	captured string
	sent     []string
}

func (f *fakeTmux) runner() tmux.Runner {
	return func(args ...string) (string, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch args[0] {
		case "list-sessions":
			return "alpha:1:1:Mon Aug 24 10:00:00 2026", nil
		case "has-session":
			if args[len(args)-1] == "alpha" {
				return "", nil
			}
			return "", fmt.Errorf("can't find session: %s", args[len(args)-1])
		case "list-panes":
			sep := "|#|"
			return "%0" + sep + "0" + sep + "0" + sep + "alpha__PM" + sep + "80" + sep + "24" + sep + "1\n" +
				"%1" + sep + "0" + sep + "1" + sep + "alpha__CODER" + sep + "80" + sep + "24" + sep + "0", nil
		case "capture-pane":
			return f.captured, nil
		case "send-keys":
			f.sent = append(f.sent, strings.Join(args, " "))
			return "", nil
		}
		return "", nil
	}
}

func (f *fakeTmux) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type speakProvider struct{}

func (speakProvider) Name() string              { return "mock" }
func (speakProvider) DefaultVoice() string      { return "v" }
func (speakProvider) AvailableVoices() []string { return []string{"v"} }
func (speakProvider) Synthesize(context.Context, string, string) ([]byte, error) {
	return []byte("RIFFxxxxWAVE"), nil
}

func newTestServer(t *testing.T, fake *fakeTmux) (*httptest.Server, *events.EventBus) {
	t.Helper()

	client := &tmux.Client{Runner: fake.runner()}
	reg := registry.New(client, nil)
	reader := monitor.NewReader(client, 50)

	bus := events.NewEventBus(64)
	emitter := events.NewEventEmitter(bus, 64)

	hub := monitor.NewHub(reg, reader, emitter, monitor.HubConfig{
		Intervals:        []time.Duration{10 * time.Millisecond},
		DefaultInterval:  10 * time.Millisecond,
		Keepalive:        time.Hour,
		MissedKeepalives: 2,
		QuietPeriod:      50 * time.Millisecond,
		Buffer:           8,
	})

	ttsReg := tts.NewRegistry("mock")
	ttsReg.Register("mock", func() (tts.Provider, error) { return speakProvider{}, nil })
	speaker := tts.NewSpeaker(ttsReg, "", "", emitter)

	srv := New(Config{
		Registry:   reg,
		Hub:        hub,
		Dispatcher: dispatch.New(reg, emitter, 5*time.Second),
		Speaker:    speaker,
		Bus:        bus,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, bus
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func TestTeamsAndRoles(t *testing.T) {
	ts, _ := newTestServer(t, &fakeTmux{captured: "ready"})

	var teams struct {
		Teams []registry.Team `json:"teams"`
	}
	if code := getJSON(t, ts.URL+"/api/teams", &teams); code != http.StatusOK {
		t.Fatalf("teams status %d", code)
	}
	if len(teams.Teams) != 1 || teams.Teams[0].ID != "alpha" {
		t.Fatalf("unexpected teams %+v", teams.Teams)
	}

	var roles struct {
		Roles []registry.Role `json:"roles"`
	}
	if code := getJSON(t, ts.URL+"/api/teams/alpha/roles", &roles); code != http.StatusOK {
		t.Fatalf("roles status %d", code)
	}
	if len(roles.Roles) != 2 || roles.Roles[0].ID != "PM" || roles.Roles[1].ID != "CODER" {
		t.Fatalf("unexpected roles %+v", roles.Roles)
	}

	if code := getJSON(t, ts.URL+"/api/teams/ghost/roles", nil); code != http.StatusNotFound {
		t.Fatalf("unknown team status %d", code)
	}
}

func TestSend(t *testing.T) {
	fake := &fakeTmux{captured: "ready"}
	ts, _ := newTestServer(t, fake)

	var ack dispatch.Ack
	code := postJSON(t, ts.URL+"/api/send", sendRequest{Team: "alpha", Role: "CODER", Text: "status?"}, &ack)
	if code != http.StatusOK {
		t.Fatalf("send status %d", code)
	}
	if ack.SettleDelay != 5*time.Second || ack.Target != "%1" {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if fake.sendCount() == 0 {
		t.Fatal("no keys sent")
	}

	code = postJSON(t, ts.URL+"/api/send", sendRequest{Team: "alpha", Role: "ghost", Text: "x"}, nil)
	if code != http.StatusNotFound {
		t.Fatalf("unknown role status %d", code)
	}

	code = postJSON(t, ts.URL+"/api/send", sendRequest{Team: "alpha"}, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("incomplete request status %d", code)
	}
}

func TestState(t *testing.T) {
	ts, _ := newTestServer(t, &fakeTmux{captured: "compiling...\ndone"})

	var state struct {
		Snapshot monitor.Snapshot      `json:"snapshot"`
		Activity monitor.ActivityState `json:"activity"`
	}
	if code := getJSON(t, ts.URL+"/api/state?team=alpha&role=PM", &state); code != http.StatusOK {
		t.Fatalf("state status %d", code)
	}
	if state.Snapshot.Text() != "compiling...\ndone" {
		t.Fatalf("unexpected snapshot %q", state.Snapshot.Text())
	}

	if code := getJSON(t, ts.URL+"/api/state?team=alpha", nil); code != http.StatusBadRequest {
		t.Fatalf("missing role status %d", code)
	}
}

func TestComplete(t *testing.T) {
	ts, bus := newTestServer(t, &fakeTmux{captured: "ready"})

	done := make(chan events.BusEvent, 1)
	bus.Subscribe(events.TaskCompleted, func(e events.BusEvent) {
		select {
		case done <- e:
		default:
		}
	})

	var resp map[string]string
	code := postJSON(t, ts.URL+"/api/complete", completeRequest{Team: "alpha", Role: "CODER", SessionID: "s1"}, &resp)
	if code != http.StatusAccepted {
		t.Fatalf("complete status %d", code)
	}
	if resp["request_id"] == "" {
		t.Fatal("missing request id")
	}

	select {
	case e := <-done:
		if e.EventTeam() != "alpha" {
			t.Errorf("unexpected event team %q", e.EventTeam())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task.completed event not emitted")
	}
}

func TestWebSocketStream(t *testing.T) {
	ts, _ := newTestServer(t, &fakeTmux{captured: "building"})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?team=alpha&role=PM&interval_ms=500"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if msg.Type == "snapshot" {
			break
		}
	}

	if msg.Team != "alpha" || msg.Role != "PM" {
		t.Errorf("unexpected scope %s/%s", msg.Team, msg.Role)
	}
	if msg.Snapshot == nil || msg.Snapshot.Text() != "building" {
		t.Errorf("unexpected snapshot %+v", msg.Snapshot)
	}
}

// The send queue has two producers: hub updates and bus events. A bus
// event arriving after the hub stream ended must not hit a closed
// channel.
func TestWSClientPushAfterStreamEnd(t *testing.T) {
	updates := make(chan monitor.Update)
	c := &wsClient{
		sub:  &monitor.Subscription{C: updates},
		send: make(chan []byte, 4),
		team: "alpha",
		role: "PM",
	}

	done := make(chan struct{})
	go func() {
		c.forwardUpdates()
		close(done)
	}()

	close(updates)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwardUpdates did not return")
	}

	// Would panic before the closed flag guarded the queue.
	c.push(wsMessage{Type: "event", Team: "alpha"})
	c.closeSend()
	c.push(wsMessage{Type: "event", Team: "alpha"})
}

func TestWebSocketSpeakFrame(t *testing.T) {
	ts, _ := newTestServer(t, &fakeTmux{captured: "ready"})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?team=alpha&role=PM"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// Wait for the first snapshot so the observer is fully attached
	// before triggering the completion.
	var msg wsMessage
	for msg.Type != "snapshot" {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
	}

	var resp map[string]string
	if code := postJSON(t, ts.URL+"/api/complete", completeRequest{Team: "alpha", Role: "CODER", SessionID: "s1"}, &resp); code != http.StatusAccepted {
		t.Fatalf("complete status %d", code)
	}

	for msg.Type != "speak" {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for speak: %v", err)
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
	}

	if string(msg.Audio) != "RIFFxxxxWAVE" {
		t.Errorf("unexpected audio payload %q", msg.Audio)
	}
	if msg.RequestID != resp["request_id"] {
		t.Errorf("speak frame request id %q, want %q", msg.RequestID, resp["request_id"])
	}
}

func TestWebSocketUnknownRole(t *testing.T) {
	ts, _ := newTestServer(t, &fakeTmux{captured: "x"})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?team=alpha&role=ghost"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial failure for unknown role")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
}
