package ws

import (
	"errors"
	"sync"
)

// Hub manages connected clients and fans messages out per room.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client
	clients map[string]*Client

	// rooms maps room ID to set of client IDs
	rooms map[string]map[string]struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
}

// Unregister removes a client from the hub and its room.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(client, client.RoomID())
	delete(h.clients, client.ID)
}

// Join adds a client to a room's broadcast list, leaving any previous
// room.
func (h *Hub) Join(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old := client.RoomID(); old != "" && old != roomID {
		h.leaveLocked(client, old)
	}

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]struct{})
	}

	h.rooms[roomID][client.ID] = struct{}{}
	client.setRoomID(roomID)
}

// Leave removes a client from a room's broadcast list.
func (h *Hub) Leave(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(client, roomID)
}

func (h *Hub) leaveLocked(client *Client, roomID string) {
	if roomID == "" {
		return
	}

	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, client.ID)

		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}

	if client.RoomID() == roomID {
		client.setRoomID("")
	}
}

// Broadcast queues msg for every client in the room except the one
// identified by excludeClientID. Queueing never blocks; a client whose
// queue is full is closed. It returns the number of clients reached.
func (h *Hub) Broadcast(roomID string, msg Message, excludeClientID string) int {
	h.mu.RLock()

	targets := make([]*Client, 0, len(h.rooms[roomID]))

	for clientID := range h.rooms[roomID] {
		if clientID == excludeClientID {
			continue
		}

		if client, ok := h.clients[clientID]; ok {
			targets = append(targets, client)
		}
	}

	h.mu.RUnlock()

	sent := 0

	for _, client := range targets {
		err := client.Send(msg)
		if err == nil {
			sent++

			continue
		}

		if errors.Is(err, ErrQueueFull) {
			_ = client.Close()
		}
	}

	return sent
}

// Clients returns the clients in a room.
func (h *Hub) Clients(roomID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.rooms[roomID]))

	for clientID := range h.rooms[roomID] {
		if client, ok := h.clients[clientID]; ok {
			out = append(out, client)
		}
	}

	return out
}

// ClientCount returns the number of clients in a room.
func (h *Hub) ClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[roomID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
