package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/zju-rshub/rsagent/pkg/llm"
	"github.com/zju-rshub/rsagent/pkg/models"
	"github.com/zju-rshub/rsagent/pkg/rshub"
)

// scriptedLLM returns canned responses in order, repeating the last one.
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
		return "", errors.New("no scripted response")
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

// fakeReporter records progress messages and exposes a settable abort flag.
type fakeReporter struct {
	mu      sync.Mutex
	events  []string
	aborted bool
}

func (f *fakeReporter) Publish(_ string, message string, _ models.ProgressStage, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, message)
}

func (f *fakeReporter) Aborted(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

func (f *fakeReporter) setAborted(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = v
}

// fakeRSHub is an in-memory simulation service.
type fakeRSHub struct {
	mu            sync.Mutex
	submitted     []map[string]any
	submitResults []string
	statuses      []string
	results       map[string]*rshub.Result
	loadErr       error
}

func (f *fakeRSHub) Submit(_ context.Context, data map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, data)
	if len(f.submitResults) == 0 {
		return rshub.SubmitSuccess, nil
	}
	result := f.submitResults[0]
	f.submitResults = f.submitResults[1:]
	return result, nil
}

func (f *fakeRSHub) CheckCompletion(_ context.Context, _, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return "Jobs are completed", nil
	}
	status := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return status, nil
}

func (f *fakeRSHub) LoadResult(_ context.Context, req rshub.ResultRequest) (*rshub.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if result, ok := f.results[req.Task]; ok {
		return result, nil
	}
	return &rshub.Result{Outputs: map[string]any{req.OutputVar: []any{1.0}}}, nil
}

func (f *fakeRSHub) submittedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}
