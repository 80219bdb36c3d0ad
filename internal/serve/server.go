// Package serve exposes the control plane over HTTP: team/role
// discovery, command dispatch, on-demand pane state, completion
// feedback, and a websocket stream of live pane updates.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Dicklesworthstone/vtm/internal/dispatch"
	"github.com/Dicklesworthstone/vtm/internal/events"
	"github.com/Dicklesworthstone/vtm/internal/monitor"
	"github.com/Dicklesworthstone/vtm/internal/registry"
	"github.com/Dicklesworthstone/vtm/internal/tmux"
	"github.com/Dicklesworthstone/vtm/internal/tts"
)

// Config wires the server to the core components.
type Config struct {
	Addr       string
	Registry   *registry.Registry
	Hub        *monitor.Hub
	Dispatcher *dispatch.Dispatcher
	Speaker    *tts.Speaker
	Bus        *events.EventBus
}

// Server is the HTTP/websocket control plane.
type Server struct {
	cfg     Config
	httpSrv *http.Server

	obsMu     sync.Mutex
	observers map[*wsClient]struct{}
}

// New creates a server bound to cfg.Addr (default 127.0.0.1:7600).
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7600"
	}
	if cfg.Bus == nil {
		cfg.Bus = events.DefaultBus
	}
	s := &Server{cfg: cfg, observers: make(map[*wsClient]struct{})}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/teams", s.handleTeams)
	mux.HandleFunc("GET /api/teams/{team}/roles", s.handleRoles)
	mux.HandleFunc("POST /api/send", s.handleSend)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/complete", s.handleComplete)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// ListenAndServe runs the server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("serve: listening on %s", s.cfg.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.cfg.Registry.ListTeams()
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	team := r.PathValue("team")
	roles, err := s.cfg.Registry.ListRoles(team)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"team": team, "roles": roles})
}

type sendRequest struct {
	Team string `json:"team"`
	Role string `json:"role"`
	Text string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Team == "" || req.Role == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("team, role, and text are required"))
		return
	}

	ack, err := s.cfg.Dispatcher.Send(req.Team, req.Role, req.Text)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, dispatch.ErrDispatchFailed):
		writeError(w, http.StatusBadGateway, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, ack)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	team := r.URL.Query().Get("team")
	role := r.URL.Query().Get("role")
	if team == "" || role == "" {
		writeError(w, http.StatusBadRequest, errors.New("team and role query parameters are required"))
		return
	}

	snap, activity, err := s.cfg.Hub.State(team, role)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, tmux.ErrPaneGone):
		writeError(w, http.StatusGone, err)
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"snapshot": snap,
			"activity": activity,
		})
	}
}

type completeRequest struct {
	Team           string `json:"team"`
	Role           string `json:"role"`
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path,omitempty"`
}

// handleComplete accepts a completion event, synthesizes the spoken
// announcement in the background, and acknowledges with the request id.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Team == "" || req.Role == "" {
		writeError(w, http.StatusBadRequest, errors.New("team and role are required"))
		return
	}

	ttsReq := tts.NewRequest(req.Team, req.Role, req.SessionID, req.TranscriptPath)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		wav, err := s.cfg.Speaker.Speak(ctx, ttsReq)
		if err != nil {
			log.Printf("serve: completion speech for %s/%s failed: %v", req.Team, req.Role, err)
			return
		}
		s.pushSpeak(req.Team, req.Role, ttsReq.ID, wav)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": ttsReq.ID})
}

func (s *Server) addObserver(c *wsClient) {
	s.obsMu.Lock()
	s.observers[c] = struct{}{}
	s.obsMu.Unlock()
}

func (s *Server) removeObserver(c *wsClient) {
	s.obsMu.Lock()
	delete(s.observers, c)
	s.obsMu.Unlock()
}

// pushSpeak delivers the synthesized announcement to every websocket
// observer of the team so clients can play it without a second fetch.
func (s *Server) pushSpeak(team, role, requestID string, wav []byte) {
	s.obsMu.Lock()
	clients := make([]*wsClient, 0, len(s.observers))
	for c := range s.observers {
		if c.team == team {
			clients = append(clients, c)
		}
	}
	s.obsMu.Unlock()

	msg := wsMessage{
		Type:      "speak",
		Team:      team,
		Role:      role,
		RequestID: requestID,
		Audio:     wav,
		Timestamp: time.Now().UTC(),
	}
	for _, c := range clients {
		c.push(msg)
	}
}

func parseInterval(r *http.Request) time.Duration {
	raw := r.URL.Query().Get("interval_ms")
	if raw == "" {
		return 0
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("serve: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
