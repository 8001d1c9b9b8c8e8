package agent

import (
	"context"
	"fmt"

	"github.com/zju-rshub/rsagent/pkg/agent/workflow"
	"github.com/zju-rshub/rsagent/pkg/models"
)

// AnalysisHandler is the default handler: it executes every dispatchable
// task code by routing to the knowledge pipeline, the simulation
// workflows, or the general-answer fallback.
type AnalysisHandler struct {
	knowledge *KnowledgeAnswerer
	submitter *workflow.Submitter
	fetcher   *workflow.Fetcher
	reporter  Reporter
}

// NewAnalysisHandler wires the default handler.
func NewAnalysisHandler(knowledge *KnowledgeAnswerer, submitter *workflow.Submitter, fetcher *workflow.Fetcher, reporter Reporter) *AnalysisHandler {
	return &AnalysisHandler{knowledge: knowledge, submitter: submitter, fetcher: fetcher, reporter: reporter}
}

// Name implements Handler.
func (h *AnalysisHandler) Name() string { return "analysis" }

// Supports implements Handler.
func (h *AnalysisHandler) Supports(code models.TaskCode) bool {
	switch code {
	case models.TaskKnowledge, models.TaskSubmit, models.TaskRetrieve, models.TaskGeneral:
		return true
	}
	return false
}

// Handle implements Handler.
func (h *AnalysisHandler) Handle(ctx context.Context, turn *Turn, code models.TaskCode) (*Result, error) {
	switch code {
	case models.TaskKnowledge:
		return h.knowledge.Answer(ctx, turn)
	case models.TaskSubmit:
		outcome, err := h.submitter.Run(ctx, workflowInput(turn))
		if err != nil {
			return nil, err
		}
		return &Result{Text: outcome.Text, Status: models.StatusSuccess, Descriptor: outcome.Descriptor}, nil
	case models.TaskRetrieve:
		outcome, err := h.fetcher.Run(ctx, workflowInput(turn))
		if err != nil {
			return nil, err
		}
		return &Result{Text: outcome.Text, Status: models.StatusSuccess, Descriptor: outcome.Descriptor}, nil
	case models.TaskGeneral:
		return GeneralAnswer(ctx, turn, h.reporter)
	}
	return nil, fmt.Errorf("unsupported task code %d", code)
}

func workflowInput(turn *Turn) *workflow.Input {
	return &workflow.Input{
		SessionID: turn.SessionID,
		Token:     turn.Token,
		Message:   turn.Message,
		History:   turn.History,
		LLM:       turn.LLM,
	}
}
