package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/zju-rshub/rsagent/pkg/models"
)

// CatchupSource supplies the buffered events replayed to new subscribers.
// Implemented by Hub.
type CatchupSource interface {
	Recent(sessionID string, n int) []models.ProgressEvent
	Release(sessionID string)
}

// ClientMessage is a message sent by a WebSocket client.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe" | "unsubscribe" | "ping"
	Channel string `json:"channel,omitempty"` // session id
}

// Manager tracks WebSocket connections and their session subscriptions.
// One Manager instance per process.
type Manager struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Session subscriptions: session_id → set of connection_ids
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	catchup      CatchupSource
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed without a lock: all reads and writes happen on
// the goroutine that owns the connection (HandleConnection's read loop and
// its deferred cleanup).
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewManager creates a Manager fanning out with the given write timeout.
func NewManager(catchup CatchupSource, writeTimeout time.Duration) *Manager {
	return &Manager{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		catchup:      catchup,
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of one WebSocket connection that
// subscribes to sessionID. Blocks until the connection closes.
//
// The subscriber immediately receives a synthetic "connected" event, then
// up to the last 10 buffered events, then live events.
func (m *Manager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, sessionID string) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.subscribe(c, sessionID)
	m.sendJSON(c, map[string]string{
		"type":          "connected",
		"connection_id": connID,
		"session_id":    sessionID,
	})
	m.sendCatchup(c, sessionID)

	// Read loop — process client messages until the connection closes.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			continue
		}

		m.handleClientMessage(c, &msg)
	}
}

// Broadcast sends an event payload to every connection subscribed to the
// session. A failed send cancels the subscriber's connection; it never
// blocks other subscribers or the publisher beyond the write timeout.
func (m *Manager) Broadcast(sessionID string, payload []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[sessionID]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	// Copy ids to avoid holding the lock during sends.
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Snapshot connection pointers, then release before the potentially
	// slow writes (up to writeTimeout per connection).
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, payload); err != nil {
			slog.Warn("Dropping slow progress subscriber",
				"connection_id", conn.ID, "session_id", sessionID, "error", err)
			// The read loop observes the cancellation and unregisters.
			conn.cancel()
		}
	}
}

// SubscribedSessions returns session ids that have at least one subscriber.
func (m *Manager) SubscribedSessions() []string {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()

	sessions := make([]string, 0, len(m.channels))
	for id := range m.channels {
		sessions = append(sessions, id)
	}
	return sessions
}

// SubscriberCount returns the number of subscribers for a session.
func (m *Manager) SubscriberCount(sessionID string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[sessionID])
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *Manager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		m.subscribe(c, msg.Channel)
		m.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})
		m.sendCatchup(c, msg.Channel)

	case "unsubscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

func (m *Manager) subscribe(c *Connection, sessionID string) {
	m.channelMu.Lock()
	if _, exists := m.channels[sessionID]; !exists {
		m.channels[sessionID] = make(map[string]bool)
	}
	m.channels[sessionID][c.ID] = true
	m.channelMu.Unlock()

	c.subscriptions[sessionID] = true
}

func (m *Manager) unsubscribe(c *Connection, sessionID string) {
	m.channelMu.Lock()
	released := false
	if subs, exists := m.channels[sessionID]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, sessionID)
			released = true
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, sessionID)

	// Last subscriber left — the buffer may be freed.
	if released && m.catchup != nil {
		m.catchup.Release(sessionID)
	}
}

// sendCatchup replays the most recent buffered events to a new subscriber.
func (m *Manager) sendCatchup(c *Connection, sessionID string) {
	if m.catchup == nil {
		return
	}
	for _, evt := range m.catchup.Recent(sessionID, catchupCount) {
		payload, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, payload); err != nil {
			slog.Warn("Failed to send catchup event",
				"connection_id", c.ID, "error", err)
			return
		}
	}
}

func (m *Manager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *Manager) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *Manager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *Manager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
