// Package progress implements the per-session progress channel: a bounded
// event buffer per session, cooperative abort flags, and WebSocket fan-out
// to subscribers.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zju-rshub/rsagent/pkg/models"
)

const (
	// bufferCap bounds the per-session ring buffer; overflow drops oldest.
	bufferCap = 100
	// catchupCount is how many buffered events a new subscriber receives.
	catchupCount = 10
)

// abortMessage is published when a user aborts a running task.
const abortMessage = "用户请求中止任务"

// ErrAborted is returned by task pipelines that observe a session's abort
// flag at a suspension point.
var ErrAborted = errors.New("task aborted by user")

// Broadcaster fans a serialized event out to a session's subscribers.
// Implemented by Manager; set after construction to break the
// hub ↔ manager construction cycle.
type Broadcaster interface {
	Broadcast(sessionID string, payload []byte)
	// SubscribedSessions returns the session ids that currently have at
	// least one subscriber.
	SubscribedSessions() []string
}

// Hub owns per-session progress state. One publisher per turn, any number
// of subscribers via the Manager.
type Hub struct {
	mu            sync.RWMutex
	buffers       map[string][]models.ProgressEvent
	lastPublished map[string]time.Time

	abortMu    sync.RWMutex
	abortFlags map[string]bool

	broadcasterMu sync.RWMutex
	broadcaster   Broadcaster

	heartbeatInterval time.Duration
	stopHeartbeat     chan struct{}
	stopOnce          sync.Once
}

// NewHub creates a hub. heartbeatInterval bounds the silence a subscriber
// may observe before a keepalive is emitted.
func NewHub(heartbeatInterval time.Duration) *Hub {
	return &Hub{
		buffers:           make(map[string][]models.ProgressEvent),
		lastPublished:     make(map[string]time.Time),
		abortFlags:        make(map[string]bool),
		heartbeatInterval: heartbeatInterval,
		stopHeartbeat:     make(chan struct{}),
	}
}

// SetBroadcaster wires the fan-out sink. Called once during startup.
func (h *Hub) SetBroadcaster(b Broadcaster) {
	h.broadcasterMu.Lock()
	defer h.broadcasterMu.Unlock()
	h.broadcaster = b
}

// Publish appends an event to the session buffer and fans it out. The
// progress percentage is derived from the stage.
func (h *Hub) Publish(sessionID, message string, stage models.ProgressStage, metadata map[string]any) {
	h.PublishEvent(models.ProgressEvent{
		SessionID:       sessionID,
		Message:         message,
		Stage:           stage,
		ProgressPercent: stage.Percent(),
		Metadata:        metadata,
		Timestamp:       time.Now(),
	})
}

// PublishEvent appends a fully-formed event and fans it out. Events from
// one publisher reach each subscriber in publish order; fan-out never
// blocks the publisher.
func (h *Hub) PublishEvent(evt models.ProgressEvent) {
	h.mu.Lock()
	buf := append(h.buffers[evt.SessionID], evt)
	if len(buf) > bufferCap {
		buf = buf[len(buf)-bufferCap:]
	}
	h.buffers[evt.SessionID] = buf
	h.lastPublished[evt.SessionID] = evt.Timestamp
	h.mu.Unlock()

	h.fanOut(evt)
}

func (h *Hub) fanOut(evt models.ProgressEvent) {
	h.broadcasterMu.RLock()
	b := h.broadcaster
	h.broadcasterMu.RUnlock()
	if b == nil {
		return
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("Failed to marshal progress event",
			"session_id", evt.SessionID, "error", err)
		return
	}
	b.Broadcast(evt.SessionID, payload)
}

// Recent returns up to n most recent buffered events for a session, oldest
// first.
func (h *Hub) Recent(sessionID string, n int) []models.ProgressEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	buf := h.buffers[sessionID]
	if len(buf) > n {
		buf = buf[len(buf)-n:]
	}
	out := make([]models.ProgressEvent, len(buf))
	copy(out, buf)
	return out
}

// Latest returns the most recent event for a session.
func (h *Hub) Latest(sessionID string) (models.ProgressEvent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	buf := h.buffers[sessionID]
	if len(buf) == 0 {
		return models.ProgressEvent{}, false
	}
	return buf[len(buf)-1], true
}

// Release frees a session's buffer. Called when the last subscriber leaves.
func (h *Hub) Release(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.buffers, sessionID)
	delete(h.lastPublished, sessionID)
}

// Abort sets the session's abort flag and publishes an error-stage event.
// Idempotent.
func (h *Hub) Abort(sessionID string) {
	h.abortMu.Lock()
	h.abortFlags[sessionID] = true
	h.abortMu.Unlock()

	h.Publish(sessionID, abortMessage, models.StageError, nil)
	slog.Info("Abort flag set", "session_id", sessionID)
}

// Aborted reports the session's abort flag.
func (h *Hub) Aborted(sessionID string) bool {
	h.abortMu.RLock()
	defer h.abortMu.RUnlock()
	return h.abortFlags[sessionID]
}

// ClearAbort resets the flag at the start of a new turn on the session.
func (h *Hub) ClearAbort(sessionID string) {
	h.abortMu.Lock()
	defer h.abortMu.Unlock()
	delete(h.abortFlags, sessionID)
}

// StartHeartbeat launches the keepalive loop. Sessions with subscribers
// that have seen no event for a full interval receive a heartbeat event;
// heartbeats are not buffered and carry no state.
func (h *Hub) StartHeartbeat(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(h.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopHeartbeat:
				return
			case now := <-ticker.C:
				h.emitHeartbeats(now)
			}
		}
	}()
}

// StopHeartbeat terminates the keepalive loop.
func (h *Hub) StopHeartbeat() {
	h.stopOnce.Do(func() { close(h.stopHeartbeat) })
}

func (h *Hub) emitHeartbeats(now time.Time) {
	h.broadcasterMu.RLock()
	b := h.broadcaster
	h.broadcasterMu.RUnlock()
	if b == nil {
		return
	}

	for _, sessionID := range b.SubscribedSessions() {
		h.mu.RLock()
		last, seen := h.lastPublished[sessionID]
		h.mu.RUnlock()
		if seen && now.Sub(last) < h.heartbeatInterval {
			continue
		}

		evt := models.ProgressEvent{
			SessionID: sessionID,
			Stage:     models.StageHeartbeat,
			Timestamp: now,
		}
		payload, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		b.Broadcast(sessionID, payload)
	}
}
