// Package billing counts per-session usage and settles it against the
// remote credit API.
package billing

import (
	"math"
	"sync"
	"time"
)

// Usage kinds recorded in the detail list.
const (
	KindLLMCall   = "llm_call"
	KindRSHubTask = "rshub_task"
)

// Detail is one recorded usage event.
type Detail struct {
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Usage is the per-session counter. Reset on settlement.
type Usage struct {
	LLMCalls   int
	RSHubTasks int
	StartTime  time.Time
	Details    []Detail
}

// Tracker is the process-wide usage counter map, keyed by session id.
// Counters initialize lazily on first event.
type Tracker struct {
	mu         sync.Mutex
	sessions   map[string]*Usage
	llmFactor  float64
	taskFactor float64
}

// NewTracker creates a tracker with the given cost factors.
func NewTracker(llmFactor, taskFactor float64) *Tracker {
	return &Tracker{
		sessions:   make(map[string]*Usage),
		llmFactor:  llmFactor,
		taskFactor: taskFactor,
	}
}

func (t *Tracker) usage(sessionID string) *Usage {
	u, ok := t.sessions[sessionID]
	if !ok {
		u = &Usage{StartTime: time.Now()}
		t.sessions[sessionID] = u
	}
	return u
}

// AddLLMCall records one LLM invocation for the session.
func (t *Tracker) AddLLMCall(sessionID, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u := t.usage(sessionID)
	u.LLMCalls++
	u.Details = append(u.Details, Detail{
		Kind:        KindLLMCall,
		Description: description,
		Timestamp:   time.Now(),
	})
}

// AddRSHubTask records one simulation-task submission for the session.
func (t *Tracker) AddRSHubTask(sessionID, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u := t.usage(sessionID)
	u.RSHubTasks++
	u.Details = append(u.Details, Detail{
		Kind:        KindRSHubTask,
		Description: description,
		Timestamp:   time.Now(),
	})
}

// Snapshot returns a copy of the session's usage. The zero Usage is
// returned for sessions with no recorded events.
func (t *Tracker) Snapshot(sessionID string) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.sessions[sessionID]
	if !ok {
		return Usage{}
	}
	out := *u
	out.Details = make([]Detail, len(u.Details))
	copy(out.Details, u.Details)
	return out
}

// Cost computes the session's current cost, floored to an integer.
func (t *Tracker) Cost(sessionID string) int {
	u := t.Snapshot(sessionID)
	return t.costOf(u)
}

func (t *Tracker) costOf(u Usage) int {
	return int(math.Floor(float64(u.LLMCalls)*t.llmFactor + float64(u.RSHubTasks)*t.taskFactor))
}

// Clear removes the session's counter. Called exactly once per turn, on
// settlement.
func (t *Tracker) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}
