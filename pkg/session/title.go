package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zju-rshub/rsagent/pkg/llm"
)

// titleMaxRunes bounds the stored title length.
const titleMaxRunes = 20

// defaultTitle is used when nothing usable can be derived.
const defaultTitle = "新对话"

const titlePrompt = `请用不超过10个字概括下面这条用户消息的主题，直接输出标题本身，不要任何解释、引号或标点：

%s`

// TitleGenerator produces a short session title from the first user
// message. It never fails; LLM errors degrade to a prompt-derived fallback.
type TitleGenerator struct {
	llm llm.Client
}

// NewTitleGenerator creates a generator over the given LLM client.
func NewTitleGenerator(client llm.Client) *TitleGenerator {
	return &TitleGenerator{llm: client}
}

// Generate returns the title for a new session.
func (g *TitleGenerator) Generate(ctx context.Context, prompt string) string {
	raw, err := g.llm.Generate(ctx, fmt.Sprintf(titlePrompt, prompt), "", nil)
	if err != nil {
		slog.Warn("Title generation failed, using fallback", "error", err)
		return fallbackTitle(prompt)
	}

	title := cleanTitle(raw)
	if title == "" {
		return defaultTitle
	}
	return truncateRunes(title, titleMaxRunes, "...")
}

// cleanTitle strips quotes, newlines, and surrounding whitespace from LLM
// output.
func cleanTitle(raw string) string {
	title := strings.NewReplacer(
		"\"", "",
		"'", "",
		"“", "",
		"”", "",
		"‘", "",
		"’", "",
		"\n", " ",
		"\r", " ",
	).Replace(raw)
	return strings.TrimSpace(title)
}

// fallbackTitle derives a title from the user prompt: the first three
// whitespace-separated words, or the leading characters for unspaced text.
func fallbackTitle(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return defaultTitle
	}

	words := strings.Fields(prompt)
	if len(words) > 3 {
		return truncateRunes(strings.Join(words[:3], " "), titleMaxRunes, "") + "..."
	}
	return truncateRunes(strings.Join(words, " "), titleMaxRunes, "...")
}

// truncateRunes shortens s to max runes, appending suffix only when
// truncation happened.
func truncateRunes(s string, max int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + suffix
}
