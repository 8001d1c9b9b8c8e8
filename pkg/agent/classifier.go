package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/zju-rshub/rsagent/pkg/llm"
	"github.com/zju-rshub/rsagent/pkg/models"
)

// classifierCodes are the task codes the LLM may answer with.
var classifierCodes = []int{1, 2, 3, -1}

// Keyword sets for the degraded classification path when the LLM is
// unreachable or its answer carries no usable number.
var (
	knowledgeKeywords = []string{"什么是", "什么", "如何", "为什么", "解释", "定义", "原理", "机制", "介绍", "说明", "what", "how", "why", "explain", "define"}
	modelingKeywords  = []string{"构建", "生成", "创建", "建立", "建模", "提交", "计算", "参数", "build", "generate", "model", "submit", "simulate"}
	resultKeywords    = []string{"获取", "结果", "可视化", "完成", "分析", "retrieve", "result", "visualize"}
	resultContext     = []string{"刚才", "之前", "历史", "任务", "运行", "previous", "earlier", "history", "task"}
)

// Classify determines the task code for a turn. The LLM is asked to put
// the code on its last line; a relayed provider error in the response
// downgrades to the general-answer path, an LLM call failure maps to a
// terminal code or falls back to keyword matching.
func Classify(ctx context.Context, client llm.Client, message string, history []models.ChatMessage) models.TaskCode {
	human, system := classificationPrompt(message, FormatHistory(history))

	response, err := client.Generate(ctx, human, system, nil)
	if err != nil {
		slog.Error("Task classification LLM call failed", "error", err)
		if code, ok := llm.ClassifyError(err); ok {
			return code
		}
		return classifyByKeywords(message)
	}

	if ContainsErrorSignal(response) {
		slog.Warn("Classifier response looks like a relayed provider error",
			"response", truncateForLog(response))
		return models.TaskGeneral
	}

	if code, ok := LastInteger(response, classifierCodes); ok {
		return models.TaskCode(code)
	}
	return classifyByKeywords(response)
}

// classifyByKeywords is the no-LLM fallback. Knowledge questions win over
// modeling verbs; result retrieval additionally requires a reference to
// earlier work.
func classifyByKeywords(text string) models.TaskCode {
	lower := strings.ToLower(text)

	if containsAny(lower, knowledgeKeywords) {
		return models.TaskKnowledge
	}
	if containsAny(lower, modelingKeywords) {
		return models.TaskSubmit
	}
	if containsAny(lower, resultKeywords) && containsAny(lower, resultContext) {
		return models.TaskRetrieve
	}
	return models.TaskKnowledge
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}

func truncateForLog(s string) string {
	const max = 100
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
