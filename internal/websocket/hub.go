// Package websocket provides WebSocket connection management and per-user
// message delivery.
package websocket

import (
	"sync"

	"github.com/event-reminders/backend/internal/logger"
)

// Hub maintains the set of active WebSocket clients and routes messages to
// them.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Messages for the clients of one user
	direct chan directMessage

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	stop chan struct{}
	once sync.Once

	// Mutex for thread-safe client access
	mu sync.RWMutex

	log *logger.Logger
}

type directMessage struct {
	userID string
	data   []byte
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		direct:     make(chan directMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		log:        logger.Named("websocket"),
	}
}

// Run starts the hub's main event loop until Close is called.
// This should be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debugw("WebSocket client connected", "user_id", client.userID, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debugw("WebSocket client disconnected", "user_id", client.userID, "total", total)

		case msg := <-h.direct:
			h.mu.Lock()
			for client := range h.clients {
				if client.userID == msg.userID {
					h.deliver(client, msg.data)
				}
			}
			h.mu.Unlock()

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				h.remove(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// deliver queues message for client, dropping clients whose buffer is full.
// Callers hold mu.
func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		h.log.Warnw("WebSocket client too slow, closing", "user_id", client.userID)
		h.remove(client)
	}
}

// remove drops a client and closes its send channel. Callers hold mu.
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.stop) })
}

// SendToUser sends a message to every connection of one user.
func (h *Hub) SendToUser(userID string, message []byte) {
	select {
	case h.direct <- directMessage{userID: userID, data: message}:
	default:
		h.log.Warnw("Direct channel full, dropping message", "user_id", userID)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stop:
		close(client.send)
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserClientCount returns the number of connections of one user.
func (h *Hub) UserClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		if client.userID == userID {
			n++
		}
	}
	return n
}

// Client represents a WebSocket client connection of one user.
type Client struct {
	hub    *Hub
	userID string
	send   chan []byte
}

// NewClient creates a new WebSocket client for userID.
func NewClient(hub *Hub, userID string) *Client {
	return &Client{
		hub:    hub,
		userID: userID,
		send:   make(chan []byte, 256),
	}
}

// Send returns the send channel for the client.
func (c *Client) Send() chan []byte {
	return c.send
}

// UserID returns the user the connection belongs to.
func (c *Client) UserID() string {
	return c.userID
}
