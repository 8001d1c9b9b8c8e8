// Package workflow implements the simulation-job workflows: parameter
// generation and submission for new runs, and locating plus fetching
// results of prior runs from conversation history.
package workflow

import (
	"fmt"
	"time"

	"github.com/zju-rshub/rsagent/pkg/llm"
	"github.com/zju-rshub/rsagent/pkg/models"
)

// Reporter publishes progress events and exposes the session abort flag.
// Satisfied by progress.Hub.
type Reporter interface {
	Publish(sessionID, message string, stage models.ProgressStage, metadata map[string]any)
	Aborted(sessionID string) bool
}

// Input carries one turn into a workflow. LLM is already metered for
// billing.
type Input struct {
	SessionID string
	Token     string
	Message   string
	History   []models.ChatMessage
	LLM       llm.Client
}

// Outcome is a workflow's final product. Descriptor is set on successful
// submission so the caller can persist and later retrieve the run.
type Outcome struct {
	Text       string
	Descriptor *models.RunDescriptor
}

// runTimestamp formats a submission timestamp with millisecond resolution,
// compact enough to embed in project and task names.
func runTimestamp(t time.Time) string {
	return t.Format("20060102150405") + fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond))
}
