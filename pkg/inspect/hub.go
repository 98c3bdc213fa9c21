package inspect

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atomflow-dev/atomflow/pkg/track"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often ping frames go out. Must be less
	// than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Inspection endpoints bind to localhost; origin checks belong to
	// whatever proxy fronts them in other deployments.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope pushed to WebSocket clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub fans the tracker's lifecycle event stream out to WebSocket clients.
// Each new client receives a full ledger snapshot on connect, then live
// events as they happen.
type Hub struct {
	tracker *track.Tracker
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
//
// send is written only while the hub's mutex is read-held (broadcast) or
// before the client is registered (the connect snapshot), and closed only
// under the write lock (unregister, closeAll). A send therefore can never
// race a close.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub over the tracker's event stream.
func NewHub(tracker *track.Tracker, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		tracker: tracker,
		logger:  logger.With("component", "inspect_hub"),
		clients: make(map[*client]struct{}),
	}
}

// Run subscribes to the tracker and relays events until ctx is cancelled,
// then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	cancel := h.tracker.Subscribe(func(ev track.Event) {
		h.broadcast(Message{Event: "lifecycle", Data: ev})
	})
	defer cancel()

	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the connection and serves the client. Blocks until
// the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}

	// Current ledger first so the client starts from a consistent view.
	// Queued before registration, while this goroutine is the channel's
	// only writer.
	if data, err := json.Marshal(Message{Event: "snapshot", Data: h.tracker.Snapshot()}); err == nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("dropping unencodable message", "error", err)
		return
	}

	// Sends happen under the read lock so unregister cannot close a
	// channel with a send pending. Sends never block: full buffers mark
	// the client slow instead.
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel onto the connection and
// sends periodic pings. Runs in its own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes frames to process pong and close control messages and
// detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
