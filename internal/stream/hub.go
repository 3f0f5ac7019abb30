// Package stream serves session events to websocket clients as they happen.
package stream

import (
	"context"
	"sync"

	"github.com/petems/ampviz/internal/app"
	"github.com/rs/zerolog"
)

// Hub maintains the set of active clients and broadcasts events to them
type Hub struct {
	log zerolog.Logger

	// Registered clients
	clients map[*Client]bool

	// Inbound events to broadcast
	broadcast chan app.Event

	register   chan *Client
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Guards clients for ClientCount
	mu sync.RWMutex
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan app.Event, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is done, closing every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", count).Msg("Client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", count).Msg("Client disconnected")

		case ev := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- ev:
				default:
					// Client's buffer is full, drop it rather than stall the feed
					close(client.send)
					delete(h.clients, client)
					h.log.Warn().Msg("Dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues ev for every connected client. It never blocks; events are
// dropped when the broadcast queue is full.
func (h *Hub) Publish(ev app.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn().Str("type", string(ev.Type)).Msg("Broadcast queue full, dropping event")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
