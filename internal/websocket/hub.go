package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/cache"
)

// Hub maintains the set of connected operator consoles and broadcasts
// feed frames to them
type Hub struct {
	// Registered operator consoles
	clients map[uuid.UUID]*Client

	// Frames to broadcast to every console
	broadcast chan []byte

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Redis client for pub/sub
	redis *cache.RedisClient

	// Audit feed channel name
	feedChannel string

	// Mutex for thread-safe operations
	mu sync.RWMutex
}

// NewHub creates a new Hub
func NewHub(redis *cache.RedisClient, feedChannel string) *Hub {
	return &Hub{
		clients:     make(map[uuid.UUID]*Client),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		redis:       redis,
		feedChannel: feedChannel,
	}
}

// Run starts the hub
func (h *Hub) Run() {
	// Relay the audit feed from Redis
	if h.redis != nil {
		go h.subscribeToFeed()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			// A reconnecting operator replaces their previous console
			if old, ok := h.clients[client.operatorID]; ok {
				close(old.send)
			}
			h.clients[client.operatorID] = client
			h.mu.Unlock()

			log.Printf("Operator console connected: %s", client.email)

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.operatorID]; ok && cur == client {
				delete(h.clients, client.operatorID)
				close(client.send)
			}
			h.mu.Unlock()

			log.Printf("Operator console disconnected: %s", client.email)

		case frame := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- frame:
				default:
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// subscribeToFeed relays audit and tier-change frames from Redis to the
// connected consoles
func (h *Hub) subscribeToFeed() {
	pubsub := h.redis.SubscribeToAudit(h.feedChannel)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		h.broadcast <- []byte(msg.Payload)
	}
}

// SendToOperator sends a frame to one specific console
func (h *Hub) SendToOperator(operatorID uuid.UUID, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.mu.RLock()
	client, ok := h.clients[operatorID]
	h.mu.RUnlock()

	if ok {
		select {
		case client.send <- data:
		default:
			// Console's send channel is full, skip
		}
	}

	return nil
}

// Broadcast sends a frame to every connected console
func (h *Hub) Broadcast(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.broadcast <- data
	return nil
}

// ConnectedOperators returns the IDs of operators with a live console
func (h *Hub) ConnectedOperators() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}

	return ids
}
