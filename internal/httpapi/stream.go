package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"dutch_auction/internal/event"
	"dutch_auction/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	streamSendBuffer   = 64
	streamPingInterval = 30 * time.Second
	streamReadTimeout  = 60 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// Hub pushes every journaled event to connected websocket subscribers.
// Broadcast never blocks: a subscriber whose buffer is full is disconnected
// and can resume from GET /events?after=<last seq>.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*streamClient]struct{}
	upgrader websocket.Upgrader
	metrics  *infra.Metrics
}

type streamClient struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// NewHub creates an empty hub.
func NewHub(metrics *infra.Metrics) *Hub {
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &Hub{
		clients: make(map[*streamClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		metrics: metrics,
	}
}

// Broadcast fans an event out to all subscribers. Called from the sequencer loop.
func (h *Hub) Broadcast(ev event.Event) {
	msg, err := json.Marshal(toEventResponse(ev))
	if err != nil {
		slog.Error("Failed to marshal stream event", slog.Any("error", err))
		return
	}

	var slow []*streamClient
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("Dropping slow stream subscriber", slog.String("remote", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the peer disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Stream upgrade failed", slog.Any("error", err))
		return
	}
	c := &streamClient{conn: conn, send: make(chan []byte, streamSendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.IncrementStreams()
	slog.Info("Stream subscriber connected", slog.String("remote", conn.RemoteAddr().String()))

	go h.writeLoop(c)
	h.readLoop(c)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.metrics.DecrementStreams()
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// readLoop discards inbound frames; it exists to observe pongs and disconnects.
func (h *Hub) readLoop(c *streamClient) {
	defer h.remove(c)

	c.conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Stream read error", slog.Any("error", err))
			}
			return
		}
	}
}

// writeLoop is the only writer on the connection.
func (h *Hub) writeLoop(c *streamClient) {
	ticker := time.NewTicker(streamPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Warn("Stream write failed", slog.Any("error", err))
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
