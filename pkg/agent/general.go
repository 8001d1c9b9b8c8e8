package agent

import (
	"context"
	"fmt"

	"github.com/zju-rshub/rsagent/pkg/models"
)

// GeneralAnswer handles turns that could not be classified: one LLM call
// over the conversation history, no retrieval.
func GeneralAnswer(ctx context.Context, turn *Turn, reporter Reporter) (*Result, error) {
	reporter.Publish(turn.SessionID, "正在生成回答...", models.StageLLMCall,
		map[string]any{"step": "general_answer"})

	human, system := generalPrompt(turn.Message, FormatHistory(turn.History))
	answer, err := turn.LLM.Generate(ctx, human, system, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to compose general answer: %w", err)
	}
	return &Result{Text: answer, Status: models.StatusGeneralAnswer}, nil
}
