package ws

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"multiplymonsters/internal/model"
)

// sendBuffer is how many outgoing frames a slow client may fall behind
// before frames are dropped
const sendBuffer = 256

// Connection is one browser following one battle document
type Connection struct {
	ID         string
	Collection string
	Code       string
	Name       string
	Role       model.Role

	send   chan []byte
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func newConnection(claims *model.ParticipantClaims, cancel context.CancelFunc) *Connection {
	return &Connection{
		ID:         uuid.New().String(),
		Collection: claims.Collection,
		Code:       claims.Code,
		Name:       claims.Name,
		Role:       claims.Role,
		send:       make(chan []byte, sendBuffer),
		cancel:     cancel,
	}
}

// Deliver queues a frame, dropping it when the connection is closed or
// its buffer is full
func (c *Connection) Deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close stops the connection's tracker and ends its write pump
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.cancel()
}

// Hub tracks live connections per battle document
type Hub struct {
	// "collection:code" -> connection id -> conn
	conns map[string]map[string]*Connection

	mu sync.RWMutex

	register   chan *Connection
	unregister chan *Connection
	disconnect chan string
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	h := &Hub{
		conns:      make(map[string]map[string]*Connection),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		disconnect: make(chan string),
	}
	go h.run()
	return h
}

func hubKey(collection, code string) string {
	return collection + ":" + code
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			key := hubKey(conn.Collection, conn.Code)
			h.mu.Lock()
			if h.conns[key] == nil {
				h.conns[key] = make(map[string]*Connection)
			}
			h.conns[key][conn.ID] = conn
			n := len(h.conns[key])
			h.mu.Unlock()
			log.Info().
				Str("code", conn.Code).
				Str("name", conn.Name).
				Str("role", string(conn.Role)).
				Int("connections", n).
				Msg("participant connected")

		case conn := <-h.unregister:
			key := hubKey(conn.Collection, conn.Code)
			h.mu.Lock()
			if existing, ok := h.conns[key][conn.ID]; ok && existing == conn {
				delete(h.conns[key], conn.ID)
				if len(h.conns[key]) == 0 {
					delete(h.conns, key)
				}
				conn.close()
				log.Info().Str("code", conn.Code).Str("name", conn.Name).Msg("participant disconnected")
			}
			h.mu.Unlock()

		case key := <-h.disconnect:
			h.mu.Lock()
			conns := h.conns[key]
			delete(h.conns, key)
			h.mu.Unlock()
			for _, conn := range conns {
				conn.close()
			}
			if len(conns) > 0 {
				log.Info().Str("document", key).Int("connections", len(conns)).Msg("document gone, connections closed")
			}
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Disconnect closes every connection following collection/code
func (h *Hub) Disconnect(collection, code string) {
	h.disconnect <- hubKey(collection, code)
}

// Count returns how many connections follow collection/code
func (h *Hub) Count(collection, code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[hubKey(collection, code)])
}
