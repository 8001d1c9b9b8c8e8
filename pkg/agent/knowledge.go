package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zju-rshub/rsagent/pkg/models"
	"github.com/zju-rshub/rsagent/pkg/progress"
	"github.com/zju-rshub/rsagent/pkg/rag"
)

// KnowledgeAnswerer runs the retrieval-augmented pipeline: keyword
// extraction, knowledge retrieval, relevance validation, then answer
// composition over the retrieved passages.
type KnowledgeAnswerer struct {
	retriever rag.Retriever
	reporter  Reporter
}

// NewKnowledgeAnswerer wires the pipeline to its retriever and progress
// channel.
func NewKnowledgeAnswerer(retriever rag.Retriever, reporter Reporter) *KnowledgeAnswerer {
	return &KnowledgeAnswerer{retriever: retriever, reporter: reporter}
}

// Answer produces a knowledge answer for the turn. Abort is checked at
// every suspension point; an aborted turn returns progress.ErrAborted.
func (k *KnowledgeAnswerer) Answer(ctx context.Context, turn *Turn) (*Result, error) {
	history := FormatHistory(turn.History)

	k.reporter.Publish(turn.SessionID, "正在提取问题关键词...", models.StageProcessing,
		map[string]any{"step": "keyword_extraction"})

	keywords := k.extractKeywords(ctx, turn, history)
	if k.reporter.Aborted(turn.SessionID) {
		return nil, progress.ErrAborted
	}

	k.reporter.Publish(turn.SessionID, "正在从知识库检索相关信息...", models.StageProcessing,
		map[string]any{"step": "knowledge_retrieval", "keywords_count": len(keywords)})

	snippets, err := k.retriever.Query(ctx, keywords, rag.DefaultTopK)
	if err != nil {
		slog.Error("Knowledge retrieval failed", "session_id", turn.SessionID, "error", err)
		snippets = nil
	}
	if k.reporter.Aborted(turn.SessionID) {
		return nil, progress.ErrAborted
	}

	if len(snippets) == 0 {
		return k.fallbackAnswer(ctx, turn)
	}

	retrieved := joinSnippets(snippets)

	k.reporter.Publish(turn.SessionID, "正在检查回答的准确性和相关性...", models.StageProcessing,
		map[string]any{"step": "knowledge_validation"})

	if !k.validateRelevance(ctx, turn, retrieved, history) {
		return k.fallbackAnswer(ctx, turn)
	}
	if k.reporter.Aborted(turn.SessionID) {
		return nil, progress.ErrAborted
	}

	k.reporter.Publish(turn.SessionID, "正在生成专业回答...", models.StageLLMCall,
		map[string]any{"step": "answer_generation"})

	human, system := finalAnswerPrompt(turn.Message, retrieved, history)
	answer, err := turn.LLM.Generate(ctx, human, system, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to compose knowledge answer: %w", err)
	}

	return &Result{
		Text:    answer,
		Status:  models.StatusSuccess,
		Sources: rag.BuildSources(snippets),
	}, nil
}

// extractKeywords asks the LLM for weighted English keywords, falling back
// to term-table mapping when the call or the parse fails.
func (k *KnowledgeAnswerer) extractKeywords(ctx context.Context, turn *Turn, history string) []rag.Keyword {
	human, system := keywordPrompt(turn.Message, history)
	response, err := turn.LLM.Generate(ctx, human, system, nil)
	if err != nil {
		slog.Warn("Keyword extraction LLM call failed, using term table", "error", err)
		return rag.FallbackKeywords(turn.Message)
	}
	if keywords := rag.ParseKeywords(response); len(keywords) > 0 {
		return keywords
	}
	return rag.FallbackKeywords(turn.Message)
}

// validateRelevance gates the retrieved passages through the LLM. The
// answer is the last integer 0 (relevant) or -1; an unreadable verdict or
// a failed call passes the content through.
func (k *KnowledgeAnswerer) validateRelevance(ctx context.Context, turn *Turn, retrieved, history string) bool {
	human, system := validationPrompt(turn.Message, retrieved, history)
	response, err := turn.LLM.Generate(ctx, human, system, nil)
	if err != nil {
		slog.Warn("Relevance validation LLM call failed, keeping retrieved content", "error", err)
		return true
	}
	verdict, ok := LastInteger(response, []int{0, -1})
	if !ok {
		return true
	}
	return verdict == 0
}

// fallbackAnswer handles the empty-retrieval and irrelevant-retrieval
// branches with a plain LLM answer.
func (k *KnowledgeAnswerer) fallbackAnswer(ctx context.Context, turn *Turn) (*Result, error) {
	k.reporter.Publish(turn.SessionID, "知识库中无相关内容，使用通用知识回答...", models.StageLLMCall,
		map[string]any{"step": "fallback_answer_generation"})

	human, system := fallbackAnswerPrompt(turn.Message)
	answer, err := turn.LLM.Generate(ctx, human, system, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to compose fallback answer: %w", err)
	}
	return &Result{Text: answer, Status: models.StatusSuccess}, nil
}

func joinSnippets(snippets []rag.Snippet) string {
	parts := make([]string, 0, len(snippets))
	for _, sn := range snippets {
		parts = append(parts, sn.Content)
	}
	return strings.Join(parts, "\n\n")
}
