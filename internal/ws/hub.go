package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// roomEvent routes an event to one location's room.
type roomEvent struct {
	LocationID uuid.UUID
	Event      Event
}

// Hub maintains the set of active clients, one room per location, and
// fans events out to every client in a room. Delivery is at-least-once
// from the consumer's perspective: slow clients are dropped, and
// reconnecting clients re-read the REST snapshot before applying live
// deltas.
type Hub struct {
	rooms map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *roomEvent

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomEvent, 256),
	}
}

// Run starts the hub's main loop. Call as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.locationID] == nil {
				h.rooms[client.locationID] = make(map[*Client]bool)
			}
			h.rooms[client.locationID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.locationID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.rooms, client.locationID)
					}
				}
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			clients := h.rooms[event.LocationID]

			message, err := json.Marshal(event.Event)
			if err != nil {
				h.mu.Unlock()
				continue
			}

			for client := range clients {
				select {
				case client.send <- message:
				default:
					// Send buffer full: drop the client, it will
					// reconnect and resync from the REST snapshot.
					close(client.send)
					delete(h.rooms[event.LocationID], client)
					if len(h.rooms[event.LocationID]) == 0 {
						delete(h.rooms, event.LocationID)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish sends an event to all clients joined to a location's room.
// No subscribers is not an error; the event is simply dropped.
func (h *Hub) Publish(locationID uuid.UUID, event Event) {
	h.broadcast <- &roomEvent{
		LocationID: locationID,
		Event:      event,
	}
}
