package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zju-rshub/rsagent/pkg/llm"
	"github.com/zju-rshub/rsagent/pkg/models"
)

// ErrNoRunFound is returned when conversation history holds no usable run
// descriptor.
var ErrNoRunFound = errors.New("在会话历史中未找到相关的RSHub任务信息。请确认您之前成功提交了任务，或者重新提交一个新任务。")

// ExtractRun locates the run the user is asking about inside conversation
// history. Every assistant message is scanned for an embedded descriptor;
// a single candidate is used directly, multiple candidates go through an
// LLM selector with scenario-safety rules and fuzzy fallback.
func ExtractRun(ctx context.Context, client llm.Client, history []models.ChatMessage, message string) (*models.RunDescriptor, error) {
	candidates := collectRuns(history)
	if len(candidates) == 0 {
		return nil, ErrNoRunFound
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	run := selectRun(ctx, client, candidates, message)
	if run == nil {
		return nil, ErrNoRunFound
	}
	return run, nil
}

// collectRuns parses every embedded descriptor out of assistant messages,
// oldest first. Malformed or incomplete blocks are skipped.
func collectRuns(history []models.ChatMessage) []*models.RunDescriptor {
	var runs []*models.RunDescriptor
	for _, msg := range history {
		if msg.Role != models.RoleAssistant {
			continue
		}
		if !strings.Contains(msg.Content, descriptorMarker) || !strings.Contains(msg.Content, "```json") {
			continue
		}

		doc, ok := ExtractJSONDocument(msg.Content)
		if !ok {
			continue
		}
		var run models.RunDescriptor
		if err := json.Unmarshal([]byte(doc), &run); err != nil {
			slog.Warn("Skipping unparseable run descriptor in history", "error", err)
			continue
		}
		if !run.Complete() {
			continue
		}
		runs = append(runs, &run)
	}
	return runs
}

// selectRun asks the LLM which candidate the user means. NOT_FOUND means
// the scenario-safety rules rejected every candidate and returns nil. An
// answer that does not exactly match a project name falls back to
// substring matching on project, scenario, and model; if nothing matches,
// the most recent candidate wins.
func selectRun(ctx context.Context, client llm.Client, candidates []*models.RunDescriptor, message string) *models.RunDescriptor {
	mostRecent := candidates[len(candidates)-1]

	var overview strings.Builder
	overview.WriteString("可选的任务：\n")
	for i, run := range candidates {
		fmt.Fprintf(&overview, "%d. 项目名称: %s\n   场景类型: %s\n   模型名称: %s\n   时间戳: %s\n\n",
			i+1, run.ProjectName, run.ScenarioInfo, run.ModelName, run.Timestamp)
	}

	human, system := taskExtractionPrompt(message, overview.String())
	response, err := client.Generate(ctx, human, system, nil)
	if err != nil {
		slog.Warn("Run selection LLM call failed, using most recent", "error", err)
		return mostRecent
	}

	lines := strings.Split(strings.TrimSpace(response), "\n")
	target := strings.TrimSpace(lines[len(lines)-1])
	if target == "NOT_FOUND" {
		return nil
	}

	for _, run := range candidates {
		if run.ProjectName == target {
			return run
		}
	}
	for _, run := range candidates {
		if strings.Contains(run.ProjectName, target) ||
			strings.Contains(run.ScenarioInfo, target) ||
			strings.Contains(run.ModelName, target) {
			return run
		}
	}
	return mostRecent
}
