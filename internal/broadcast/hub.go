// Package broadcast maintains the registry of connected observers and
// fans daemon state out to them. One broken connection never blocks
// delivery to the rest.
package broadcast

import (
	"io"
	"log"
	"sync"

	"runbell/internal/protocol"
	"runbell/internal/runstate"
)

// Conn is one observer connection. Writes are serialized per connection;
// the underlying transport reports send failures synchronously.
type Conn struct {
	Role  string
	TabID int

	mu sync.Mutex
	w  io.Writer
}

// NewConn wraps a connected observer stream.
func NewConn(w io.Writer, role string, tabID int) *Conn {
	return &Conn{Role: role, TabID: tabID, w: w}
}

// Send writes one message to this observer.
func (c *Conn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.Encode(c.w, msg)
}

// Hub is the observer registry.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*Conn]struct{})}
}

// Register adds an observer.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

// Unregister removes an observer. The tab's state is left untouched; it
// stays tracked until the tab itself closes.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// BroadcastState pushes a full snapshot to every observer. Implements the
// store's Broadcaster.
func (h *Hub) BroadcastState(g runstate.Global) {
	h.Broadcast(protocol.Message{Type: protocol.TypeStateUpdate, State: g})
}

// Broadcast sends msg to every observer, isolating per-connection send
// failures.
func (h *Hub) Broadcast(msg protocol.Message) {
	for _, c := range h.snapshot() {
		if err := c.Send(msg); err != nil {
			log.Printf("broadcast: send %s to %s/%d failed: %v", msg.Type, c.Role, c.TabID, err)
		}
	}
}

// SendToTab delivers msg to every observer registered for a tab (a tab
// can have a page observer and be watched from the dashboard's page
// connection after a reload race, so all matches get it).
func (h *Hub) SendToTab(tabID int, msg protocol.Message) {
	for _, c := range h.snapshot() {
		if c.Role != protocol.RolePage || c.TabID != tabID {
			continue
		}
		if err := c.Send(msg); err != nil {
			log.Printf("broadcast: send %s to tab %d failed: %v", msg.Type, tabID, err)
		}
	}
}

// SendToPages delivers msg to every page observer.
func (h *Hub) SendToPages(msg protocol.Message) {
	for _, c := range h.snapshot() {
		if c.Role != protocol.RolePage {
			continue
		}
		if err := c.Send(msg); err != nil {
			log.Printf("broadcast: send %s to tab %d failed: %v", msg.Type, c.TabID, err)
		}
	}
}

// snapshot copies the registry so sends happen outside the lock.
func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}
