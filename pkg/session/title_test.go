package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zju-rshub/rsagent/pkg/llm"
)

// stubLLM returns a fixed response or error.
type stubLLM struct {
	response string
	err      error
}

func (s *stubLLM) Generate(_ context.Context, _, _ string, _ *llm.Options) (string, error) {
	return s.response, s.err
}

func TestTitleGenerator(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
		prompt   string
		want     string
	}{
		{
			name:     "clean title",
			response: "微波遥感原理",
			prompt:   "什么是微波遥感？",
			want:     "微波遥感原理",
		},
		{
			name:     "quotes and newlines stripped",
			response: "\"雪地建模\"\n",
			prompt:   "请帮我建立雪地模型",
			want:     "雪地建模",
		},
		{
			name:     "long title truncated",
			response: "这是一个特别长的标题超过二十个字需要被截断处理的情况",
			prompt:   "q",
			want:     "这是一个特别长的标题超过二十个字需要被截...",
		},
		{
			name:     "empty output falls back to default",
			response: "  \n ",
			prompt:   "question",
			want:     "新对话",
		},
		{
			name:   "llm error uses first words",
			err:    errors.New("llm down"),
			prompt: "what is microwave remote sensing exactly",
			want:   "what is microwave...",
		},
		{
			name:   "llm error with short prompt",
			err:    errors.New("llm down"),
			prompt: "雪地建模",
			want:   "雪地建模",
		},
		{
			name:   "llm error with empty prompt",
			err:    errors.New("llm down"),
			prompt: "",
			want:   "新对话",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewTitleGenerator(&stubLLM{response: tt.response, err: tt.err})
			got := g.Generate(context.Background(), tt.prompt)
			assert.Equal(t, tt.want, got)
		})
	}
}
