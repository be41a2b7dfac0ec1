package status

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = 54 * time.Second

	maxMessageSize = 4096
	sendBuffer     = 64
)

// Event types sent over the websocket feed.
const (
	EventStatus       = "status"
	EventNotification = "notification"
)

// Event is one message on the websocket feed.
type Event struct {
	Type         string        `json:"type"`
	JobID        string        `json:"jobId,omitempty"`
	Status       *Status       `json:"status,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

// Hub broadcasts statuses and notifications to websocket clients and
// remembers the latest status per job. New clients receive the latest
// statuses on connect.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	latest   map[string]Status
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates an empty hub.
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		latest:  make(map[string]Status),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Hub) SetStatus(jobID string, s Status) {
	h.mu.Lock()
	h.latest[jobID] = s
	h.mu.Unlock()
	h.broadcast(Event{Type: EventStatus, JobID: jobID, Status: &s})
}

func (h *Hub) Notify(n Notification) {
	h.broadcast(Event{Type: EventNotification, JobID: n.JobID, Notification: &n})
}

// Latest returns the most recent status reported for jobID.
func (h *Hub) Latest(jobID string) (Status, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.latest[jobID]
	return s, ok
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast queues ev for every client. A client whose buffer is full
// misses the event.
func (h *Hub) broadcast(ev Event) int {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		select {
		case c.send <- ev:
			sent++
		case <-c.done:
		default:
			h.logger.Debugw("websocket client lagging, event dropped", "type", ev.Type, "job_id", ev.JobID)
		}
	}
	return sent
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan Event, sendBuffer), done: make(chan struct{})}

	h.mu.Lock()
	jobs := make([]string, 0, len(h.latest))
	for id := range h.latest {
		jobs = append(jobs, id)
	}
	sort.Strings(jobs)
	for _, id := range jobs {
		s := h.latest[id]
		select {
		case c.send <- Event{Type: EventStatus, JobID: id, Status: &s}:
		default:
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debugw("websocket client connected", "remote", r.RemoteAddr)
	go c.writePump()
	go c.readPump()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump discards inbound messages; it exists to process pongs and
// notice the peer going away.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.logger.Warnw("websocket read error", "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.hub.logger.Debugw("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
