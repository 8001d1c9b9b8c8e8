// Package models contains request/response models and business domain types.
package models

// TaskCode identifies the classifier's decision or a terminal error
// condition. The integer values cross the API boundary; clients branch on
// them, so they must never change.
type TaskCode int

const (
	// TaskGeneral is the general-answer fallback when classification is
	// inconclusive.
	TaskGeneral TaskCode = -1
	// TaskClassify is the classifier's own mode; it is never returned to
	// clients.
	TaskClassify TaskCode = 0
	// TaskKnowledge routes the turn through the knowledge pipeline.
	TaskKnowledge TaskCode = 1
	// TaskSubmit routes the turn through the simulation submission workflow.
	TaskSubmit TaskCode = 2
	// TaskRetrieve routes the turn through the simulation retrieval workflow.
	TaskRetrieve TaskCode = 3

	// TaskUserAborted means the abort flag was observed mid-turn.
	TaskUserAborted TaskCode = -100
	// TaskLLMTimeout means an upstream call exceeded its deadline.
	TaskLLMTimeout TaskCode = -101
	// TaskNetworkError means an upstream connection/transport failure.
	TaskNetworkError TaskCode = -102
	// TaskAPIError means an upstream auth or credit failure.
	TaskAPIError TaskCode = -103
)

// Terminal reports whether the code is a terminal error condition rather
// than a runnable task.
func (c TaskCode) Terminal() bool {
	return c <= TaskUserAborted
}

// Valid reports whether the code is one of the wire-contract values.
func (c TaskCode) Valid() bool {
	switch c {
	case TaskGeneral, TaskClassify, TaskKnowledge, TaskSubmit, TaskRetrieve,
		TaskUserAborted, TaskLLMTimeout, TaskNetworkError, TaskAPIError:
		return true
	}
	return false
}

// Response status strings paired with task codes on the wire.
const (
	StatusSuccess          = "success"
	StatusError            = "error"
	StatusUserAborted      = "user_aborted"
	StatusLLMTimeout       = "llm_timeout"
	StatusNetworkError     = "network_error"
	StatusAPIError         = "api_error"
	StatusGeneralAnswer    = "general_answer"
	StatusGuidanceProvided = "guidance_provided"
)
