package models

import "time"

// ProgressStage is the named phase carried by a progress event.
type ProgressStage string

const (
	StageInit       ProgressStage = "init"
	StageAnalyzing  ProgressStage = "analyzing"
	StageProcessing ProgressStage = "processing"
	StageLLMCall    ProgressStage = "llm_call"
	StageCompleting ProgressStage = "completing"
	StageCompleted  ProgressStage = "completed"
	StageAborted    ProgressStage = "aborted"
	StageError      ProgressStage = "error"
	StageHeartbeat  ProgressStage = "heartbeat"
)

// stagePercent maps each stage to its default progress percentage.
var stagePercent = map[ProgressStage]int{
	StageInit:       0,
	StageAnalyzing:  20,
	StageProcessing: 50,
	StageLLMCall:    70,
	StageCompleting: 90,
	StageCompleted:  100,
	StageAborted:    0,
	StageError:      0,
}

// Percent returns the default progress percentage for the stage.
func (s ProgressStage) Percent() int {
	return stagePercent[s]
}

// ProgressEvent is one record in a session's progress stream. Events are
// ordered per session and delivered to subscribers in publish order.
type ProgressEvent struct {
	SessionID       string         `json:"session_id"`
	Message         string         `json:"message"`
	Stage           ProgressStage  `json:"stage"`
	ProgressPercent int            `json:"progress_percent"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}
