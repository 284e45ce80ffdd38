package gateway

import "sync"

// Hub is the in-process room registry. It is private to one gateway process;
// cross-process visibility goes through the presence store only.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.roomID]
	if room == nil {
		room = make(map[*client]struct{})
		h.rooms[c.roomID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) remove(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.roomID]
	if room == nil {
		return false
	}
	if _, ok := room[c]; !ok {
		return false
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.roomID)
	}
	return true
}

// broadcast fans a frame out to every room peer except exclude. Sends are
// non-blocking: a peer with a full buffer is skipped, never waited on.
func (h *Hub) broadcast(roomID string, data []byte, exclude *client) int {
	h.mu.RLock()
	peers := make([]*client, 0, len(h.rooms[roomID]))
	for peer := range h.rooms[roomID] {
		if peer == exclude {
			continue
		}
		peers = append(peers, peer)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, peer := range peers {
		if peer.trySend(data) {
			delivered++
		}
	}
	return delivered
}

// roomSize reports current connection count for one room.
func (h *Hub) roomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
