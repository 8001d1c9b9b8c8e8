// Package agent orchestrates one analysis turn: intent classification,
// task dispatch, knowledge answering, and the canned responses for
// terminal outcomes.
package agent

import (
	"context"

	"github.com/zju-rshub/rsagent/pkg/llm"
	"github.com/zju-rshub/rsagent/pkg/models"
)

// Reporter publishes progress events and exposes the session abort flag.
// Satisfied by progress.Hub.
type Reporter interface {
	Publish(sessionID, message string, stage models.ProgressStage, metadata map[string]any)
	Aborted(sessionID string) bool
	ClearAbort(sessionID string)
}

// Turn carries one user turn through classification and execution. LLM is
// already metered for billing, so components call it directly.
type Turn struct {
	SessionID string
	ChatID    string
	Token     string
	Message   string
	History   []models.ChatMessage
	LLM       llm.Client
}

// Result is what a handler produced for a turn.
type Result struct {
	Text       string
	Status     string
	Sources    []models.SourceFile
	Descriptor *models.RunDescriptor
}

// Handler executes turns for the task codes it supports.
type Handler interface {
	Name() string
	Supports(code models.TaskCode) bool
	Handle(ctx context.Context, turn *Turn, code models.TaskCode) (*Result, error)
}
