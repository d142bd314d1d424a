package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"CripteX/internal/domain/models"
	xlogger "CripteX/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	MessageInitial = "initial"
	MessageUpdate  = "update"
)

// Message is one frame pushed to subscribers.
type Message struct {
	Type     string              `json:"type"`
	Snapshot models.FeedSnapshot `json:"snapshot"`
}

// SnapshotSource provides the snapshot sent to a client on connect.
type SnapshotSource interface {
	CurrentSnapshot() models.FeedSnapshot
}

type HubOption func(*Hub)

func WithWriteTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

func WithPingInterval(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithSendBuffer sets how many frames a client may lag behind before it is dropped.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// Hub pushes market snapshots to WebSocket clients. One goroutine owns the
// client set; slow clients are disconnected instead of blocking the others.
type Hub struct {
	src          SnapshotSource
	log          *xlogger.Logger
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
	sendBuffer   int

	register   chan *client
	unregister chan *client
	broadcast  chan models.FeedSnapshot
	done       chan struct{}

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(src SnapshotSource, l *xlogger.Logger, opts ...HubOption) *Hub {
	if l == nil {
		l = xlogger.NewNop()
	}
	h := &Hub{
		src: src,
		log: l.With(xlogger.String("component", "ws_hub")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		writeTimeout: 5 * time.Second,
		pingInterval: 30 * time.Second,
		sendBuffer:   16,
		register:     make(chan *client),
		unregister:   make(chan *client),
		broadcast:    make(chan models.FeedSnapshot, 1),
		done:         make(chan struct{}),
		clients:      make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run owns the client set until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			snap := h.src.CurrentSnapshot()
			c.lastCycle = snap.Cycle
			if b, err := encode(MessageInitial, snap); err == nil {
				c.send <- b // fresh client, buffer is empty
			}

		case c := <-h.unregister:
			h.drop(c)

		case s := <-h.broadcast:
			b, err := encode(MessageUpdate, s)
			if err != nil {
				h.log.Error("encode snapshot", xlogger.Error(err))
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				// the client's initial frame may already be newer
				if s.Cycle < c.lastCycle {
					continue
				}
				select {
				case c.send <- b:
					c.lastCycle = s.Cycle
				default:
					delete(h.clients, c)
					close(c.send)
					h.log.Warn("dropping slow websocket client", xlogger.String("remote", c.remote))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues s for every client. It never blocks: when the hub has not
// consumed the previous snapshot yet, that one is replaced.
func (h *Hub) Broadcast(s models.FeedSnapshot) {
	for {
		select {
		case h.broadcast <- s:
			return
		default:
		}
		select {
		case <-h.broadcast:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handle upgrades the request and attaches the connection to the hub.
func (h *Hub) Handle(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade", xlogger.Error(err))
		return nil
	}

	cl := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
		remote: c.RealIP(),
	}

	select {
	case h.register <- cl:
	case <-h.done:
		_ = conn.Close()
		return nil
	}

	go cl.writePump()
	go cl.readPump()
	return nil
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func encode(kind string, s models.FeedSnapshot) ([]byte, error) {
	return json.Marshal(Message{Type: kind, Snapshot: s})
}
