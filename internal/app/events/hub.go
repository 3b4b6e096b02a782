// Package events broadcasts ledger activity to connected dashboards over a
// single WebSocket channel. Delivery is best effort: slow or broken clients
// are dropped, nothing is queued for absent subscribers.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiltcheck/trust-layer/pkg/logger"
)

// Notification kinds published by the services.
const (
	KindMint           = "nft_minted"
	KindInteraction    = "trust_interaction"
	KindAccountCreated = "account_created"
)

const (
	writeWait      = 10 * time.Second
	clientBacklog  = 16
	broadcastDepth = 256
)

// Notification is the wire format pushed to subscribers.
type Notification struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Hub owns the subscriber set and the broadcast loop.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	broadcast chan []byte
	done      chan struct{}
	stopOnce  sync.Once
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub constructs a hub. Origin checks are delegated to the CORS layer, so
// the upgrader accepts any origin.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:   make(map[*client]struct{}),
		broadcast: make(chan []byte, broadcastDepth),
		done:      make(chan struct{}),
	}
}

// Name implements the lifecycle service interface.
func (h *Hub) Name() string { return "events" }

// Start launches the broadcast loop.
func (h *Hub) Start(context.Context) error {
	go h.run()
	return nil
}

// Stop closes the loop and disconnects all subscribers.
func (h *Hub) Stop(context.Context) error {
	h.stopOnce.Do(func() { close(h.done) })
	return nil
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Backlogged client; cut it loose.
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues a notification for all subscribers. It never blocks; the
// notification is dropped when the broadcast buffer is full.
func (h *Hub) Publish(kind string, data interface{}) {
	msg, err := json.Marshal(Notification{Type: kind, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		h.log.WithError(err).Warn("encode notification")
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.WithField("kind", kind).Warn("broadcast buffer full, notification dropped")
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBacklog)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(c)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop discards inbound frames; the channel is push-only. It exists to
// observe close frames and release the subscriber.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	c.conn.Close()
}
