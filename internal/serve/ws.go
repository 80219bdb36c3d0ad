package serve

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dicklesworthstone/vtm/internal/events"
	"github.com/Dicklesworthstone/vtm/internal/monitor"
	"github.com/Dicklesworthstone/vtm/internal/registry"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Loopback-only server; the bind address is the access control.
		return true
	},
}

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 1024
)

// wsMessage is one frame pushed to a websocket observer. Audio rides
// on speak frames as base64 WAV.
type wsMessage struct {
	Type      string                `json:"type"` // snapshot, keepalive, gone, event, speak
	Team      string                `json:"team"`
	Role      string                `json:"role"`
	Snapshot  *monitor.Snapshot     `json:"snapshot,omitempty"`
	Activity  monitor.ActivityState `json:"activity,omitempty"`
	Event     events.BusEvent       `json:"event,omitempty"`
	RequestID string                `json:"request_id,omitempty"`
	Audio     []byte                `json:"audio,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// handleWS subscribes the caller to a (team, role) stream. Query
// parameters: team, role, interval_ms (clamped to the supported set).
// The socket carries snapshots, keepalives, a terminal gone frame when
// the pane disappears, and team-scoped bus events.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	team := r.URL.Query().Get("team")
	role := r.URL.Query().Get("role")
	if team == "" || role == "" {
		writeError(w, http.StatusBadRequest, errors.New("team and role query parameters are required"))
		return
	}

	sub, err := s.cfg.Hub.Subscribe(team, role, parseInterval(r))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		log.Printf("serve: ws upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		sub:  sub,
		send: make(chan []byte, 64),
		team: team,
		role: role,
	}

	unsubscribe := s.cfg.Bus.SubscribeAll(func(ev events.BusEvent) {
		if ev.EventTeam() != team {
			return
		}
		client.push(wsMessage{
			Type:      "event",
			Team:      team,
			Role:      role,
			Event:     ev,
			Timestamp: ev.EventTimestamp(),
		})
	})

	s.addObserver(client)

	go client.forwardUpdates()
	go client.writePump(func() {
		unsubscribe()
		s.removeObserver(client)
	})
	go client.readPump()
}

type wsClient struct {
	conn *websocket.Conn
	sub  *monitor.Subscription
	team string
	role string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// push marshals a frame onto the send queue, dropping when the client
// cannot keep up. The stream hub's keepalive accounting handles
// persistently stuck observers. The send channel has more than one
// producer (hub updates and bus events), so the queue is closed through
// closeSend and push checks the flag under the same lock.
func (c *wsClient) push(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// closeSend ends the send queue exactly once. Producers that lose the
// race see the closed flag instead of a closed channel.
func (c *wsClient) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// forwardUpdates translates hub updates into websocket frames. The
// channel closes when the subscriber is dropped or the pane goes away.
func (c *wsClient) forwardUpdates() {
	defer c.closeSend()
	for u := range c.sub.C {
		c.push(wsMessage{
			Type:      string(u.Kind),
			Team:      c.team,
			Role:      c.role,
			Snapshot:  u.Snapshot,
			Activity:  u.Activity,
			Timestamp: u.Timestamp,
		})
		if u.Kind == monitor.UpdateGone {
			return
		}
	}
}

func (c *wsClient) writePump(unsubscribe func()) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		unsubscribe()
		c.sub.Close()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("serve: ws read error for %s/%s: %v", c.team, c.role, err)
			}
			return
		}
	}
}
