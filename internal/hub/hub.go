package hub

import "sync"

type Writer interface {
	Write(message []byte) error
	Close() error
}

// Connection is one live device socket. DeviceID may be empty for clients
// that did not identify their device.
type Connection struct {
	UserID   string
	DeviceID string
	Writer   Writer
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.UserID] == nil {
		h.connections[conn.UserID] = make(map[*Connection]struct{})
	}
	h.connections[conn.UserID][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.UserID]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.UserID)
	}
}

// Connections reports how many sockets userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}

// Fanout writes message to every connection of userIDs, skipping the device
// (skipUser, skipDevice) that caused it. Connections that fail a write are
// closed and dropped.
func (h *Hub) Fanout(userIDs []string, skipUser, skipDevice string, message []byte) {
	h.mu.RLock()
	var conns []*Connection
	for _, userID := range userIDs {
		for c := range h.connections[userID] {
			if skipDevice != "" && c.UserID == skipUser && c.DeviceID == skipDevice {
				continue
			}
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}
