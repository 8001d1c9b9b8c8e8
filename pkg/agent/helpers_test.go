package agent

import (
	"context"
	"sync"

	"github.com/zju-rshub/rsagent/pkg/llm"
	"github.com/zju-rshub/rsagent/pkg/models"
	"github.com/zju-rshub/rsagent/pkg/rag"
	"github.com/zju-rshub/rsagent/pkg/session"
)

// scriptedLLM pops canned responses in order, repeating the last one once
// the script runs out.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     []string
}

func (s *scriptedLLM) Generate(_ context.Context, human, _ string, _ *llm.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, human)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", nil
	}
	response := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return response, nil
}

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// fakeReporter records progress events. The abort flag survives ClearAbort
// so tests can simulate an abort arriving after the turn started.
type fakeReporter struct {
	mu      sync.Mutex
	events  []string
	stages  []models.ProgressStage
	aborted bool
	cleared int
}

func (r *fakeReporter) Publish(_ string, message string, stage models.ProgressStage, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, message)
	r.stages = append(r.stages, stage)
}

func (r *fakeReporter) Aborted(string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

func (r *fakeReporter) ClearAbort(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
}

func (r *fakeReporter) setAborted(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = v
}

func (r *fakeReporter) sawStage(stage models.ProgressStage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stages {
		if s == stage {
			return true
		}
	}
	return false
}

// fakeRetriever returns a fixed snippet list or error.
type fakeRetriever struct {
	snippets []rag.Snippet
	err      error
	queries  [][]rag.Keyword
}

func (f *fakeRetriever) Query(_ context.Context, keywords []rag.Keyword, _ int) ([]rag.Snippet, error) {
	f.queries = append(f.queries, keywords)
	if f.err != nil {
		return nil, f.err
	}
	return f.snippets, nil
}

// fakeRemote is an in-memory RemoteStore.
type fakeRemote struct {
	mu       sync.Mutex
	sessions map[string]*models.ChatSession
	saveErr  error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{sessions: make(map[string]*models.ChatSession)}
}

func (f *fakeRemote) Save(_ context.Context, _ string, sess *models.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	clone := *sess
	clone.Messages = append([]models.ChatMessage(nil), sess.Messages...)
	f.sessions[sess.SessionID] = &clone
	return nil
}

func (f *fakeRemote) Load(_ context.Context, _, sessionID string) (*models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, session.ErrNotFound
	}
	clone := *sess
	clone.Messages = append([]models.ChatMessage(nil), sess.Messages...)
	return &clone, nil
}

func (f *fakeRemote) ListIDs(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.sessions))
	for id := range f.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeRemote) Delete(_ context.Context, _, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

// stubHandler answers every supported code with a fixed result or error.
type stubHandler struct {
	name     string
	codes    []models.TaskCode
	result   *Result
	err      error
	lastTurn *Turn
	lastCode models.TaskCode
	handled  int
}

func (h *stubHandler) Name() string { return h.name }

func (h *stubHandler) Supports(code models.TaskCode) bool {
	for _, c := range h.codes {
		if c == code {
			return true
		}
	}
	return false
}

func (h *stubHandler) Handle(_ context.Context, turn *Turn, code models.TaskCode) (*Result, error) {
	h.handled++
	h.lastTurn = turn
	h.lastCode = code
	if h.err != nil {
		return nil, h.err
	}
	return h.result, nil
}
