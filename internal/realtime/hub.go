package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 5 * time.Second

// Frame is the wire format for every event.
type Frame struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// Filter restricts a broadcast. Zero value means every peer.
type Filter struct {
	Role          string // only peers with this role
	ExcludeClient string // skip this client id
}

type peer struct {
	id          string
	terminalID  string
	role        string
	conn        *websocket.Conn
	send        chan Frame
	connectedAt time.Time

	mu     sync.Mutex
	closed bool
}

// trySend queues a frame unless the peer is closed or its buffer is full.
func (p *peer) trySend(frame Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

func (p *peer) close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
	p.mu.Unlock()
	p.conn.Close()
}

// Hub is the in-memory registry of connected WebSocket peers. Delivery is
// best-effort and fire-and-forget: a peer whose send buffer is full or whose
// socket is dead simply misses the event and re-reads state over HTTP on
// reconnect.
type Hub struct {
	mu    sync.RWMutex
	peers map[string]*peer
}

func NewHub() *Hub {
	return &Hub{peers: make(map[string]*peer)}
}

// Register adds a connected socket. Role comes from the terminal record at
// upgrade time, never from the client. Returns the client id.
func (h *Hub) Register(conn *websocket.Conn, terminalID, role string) string {
	p := &peer{
		id:          uuid.New().String(),
		terminalID:  terminalID,
		role:        role,
		conn:        conn,
		send:        make(chan Frame, 32),
		connectedAt: time.Now(),
	}

	h.mu.Lock()
	h.peers[p.id] = p
	h.mu.Unlock()

	go h.writePump(p)
	go h.readPump(p)

	log.Info().Str("clientId", p.id).Str("terminalId", terminalID).Str("role", role).Msg("ws peer connected")
	return p.id
}

// Broadcast sends an event to every open socket matching the filter.
func (h *Hub) Broadcast(event string, data any, filter Filter) {
	frame := Frame{Event: event, Data: data, Timestamp: time.Now().UTC().Format(time.RFC3339)}

	for _, p := range h.snapshot() {
		if filter.Role != "" && p.role != filter.Role {
			continue
		}
		if filter.ExcludeClient != "" && p.id == filter.ExcludeClient {
			continue
		}
		h.deliver(p, frame)
	}
}

// SendToTerminal sends an event to the peers of one terminal.
func (h *Hub) SendToTerminal(terminalID, event string, data any) {
	frame := Frame{Event: event, Data: data, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	for _, p := range h.snapshot() {
		if p.terminalID == terminalID {
			h.deliver(p, frame)
		}
	}
}

// Count returns the number of connected peers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close drops every peer. Called on shutdown.
func (h *Hub) Close() {
	for _, p := range h.snapshot() {
		h.remove(p)
	}
}

func (h *Hub) snapshot() []*peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p)
	}
	return out
}

func (h *Hub) deliver(p *peer, frame Frame) {
	if !p.trySend(frame) {
		// Closed or slow consumer; drop it rather than block the broadcaster.
		log.Warn().Str("clientId", p.id).Msg("ws peer not accepting frames, dropping")
		h.remove(p)
	}
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	_, present := h.peers[p.id]
	delete(h.peers, p.id)
	h.mu.Unlock()

	p.close()
	if present {
		log.Info().Str("clientId", p.id).Msg("ws peer disconnected")
	}
}

func (h *Hub) writePump(p *peer) {
	for frame := range p.send {
		p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := p.conn.WriteJSON(frame); err != nil {
			h.remove(p)
			return
		}
	}
}

// readPump discards inbound messages; the hub is broadcast-only. Its job is
// to notice closes and errors so dead sockets get cleaned up.
func (h *Hub) readPump(p *peer) {
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			h.remove(p)
			return
		}
	}
}
