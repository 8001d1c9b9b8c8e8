package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zju-rshub/rsagent/pkg/models"
	"github.com/zju-rshub/rsagent/pkg/progress"
	"github.com/zju-rshub/rsagent/pkg/rshub"
)

func newFetcher(t *testing.T, service *fakeRSHub, reporter *fakeReporter) *Fetcher {
	t.Helper()
	return NewFetcher(service, testRegistry(t), reporter, 10*time.Millisecond, 100*time.Millisecond)
}

func TestFetcher_HappyPath(t *testing.T) {
	run := testRun("snow-qms-20260820100000000", "snow", "qms", "20260820100000000")
	service := &fakeRSHub{}
	fetcher := newFetcher(t, service, &fakeReporter{})

	client := &scriptedLLM{responses: []string{"雪地任务已完成，亮温结果正常。"}}
	outcome, err := fetcher.Run(context.Background(), &Input{
		SessionID: "s1",
		Token:     "tok",
		Message:   "获取刚才的结果",
		History:   []models.ChatMessage{descriptorMessage(t, run)},
		LLM:       client,
	})
	require.NoError(t, err)
	assert.Contains(t, outcome.Text, "✅ RSHub任务结果获取成功！")
	assert.Contains(t, outcome.Text, "亮温结果正常")
	assert.Equal(t, run.ProjectName, outcome.Descriptor.ProjectName)
}

func TestFetcher_PollTimeoutIsNonFatal(t *testing.T) {
	run := testRun("soil-aiem-20260821100000000", "soil", "aiem", "20260821100000000")
	service := &fakeRSHub{statuses: []string{"Jobs are running"}}
	fetcher := newFetcher(t, service, &fakeReporter{})

	outcome, err := fetcher.Run(context.Background(), &Input{
		SessionID: "s2",
		Token:     "tok",
		Message:   "获取结果",
		History:   []models.ChatMessage{descriptorMessage(t, run)},
		LLM:       &scriptedLLM{},
	})
	require.NoError(t, err)
	assert.Contains(t, outcome.Text, "任务轮询已超时")
	assert.Contains(t, outcome.Text, run.ProjectName)
	assert.Contains(t, outcome.Text, "3-5分钟")
}

func TestFetcher_FailedTask(t *testing.T) {
	run := testRun("snow-qms-20260820100000000", "snow", "qms", "20260820100000000")
	service := &fakeRSHub{statuses: []string{"Jobs are failed"}}
	fetcher := newFetcher(t, service, &fakeReporter{})

	_, err := fetcher.Run(context.Background(), &Input{
		SessionID: "s3",
		Token:     "tok",
		Message:   "获取结果",
		History:   []models.ChatMessage{descriptorMessage(t, run)},
		LLM:       &scriptedLLM{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RSHub服务器任务失败")
}

func TestFetcher_TaskErrorMessage(t *testing.T) {
	run := testRun("veg-rt-20260823100000000", "veg", "rt", "20260823100000000")
	service := &fakeRSHub{
		results: map[string]*rshub.Result{
			run.Tasks[0].Name: {ErrorMessage: "scatters parameter malformed"},
		},
	}
	fetcher := newFetcher(t, service, &fakeReporter{})

	_, err := fetcher.Run(context.Background(), &Input{
		SessionID: "s4",
		Token:     "tok",
		Message:   "获取结果",
		History:   []models.ChatMessage{descriptorMessage(t, run)},
		LLM:       &scriptedLLM{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "执行失败")
	assert.Contains(t, err.Error(), "scatters parameter malformed")
}

func TestFetcher_SuccessLiteralInErrorSlot(t *testing.T) {
	run := testRun("snow-qms-20260820100000000", "snow", "qms", "20260820100000000")
	service := &fakeRSHub{
		results: map[string]*rshub.Result{
			run.Tasks[0].Name: {ErrorMessage: "Jobs completed succesfully"},
		},
	}
	fetcher := newFetcher(t, service, &fakeReporter{})

	outcome, err := fetcher.Run(context.Background(), &Input{
		SessionID: "s5",
		Token:     "tok",
		Message:   "获取结果",
		History:   []models.ChatMessage{descriptorMessage(t, run)},
		LLM:       &scriptedLLM{responses: []string{"总结"}},
	})
	require.NoError(t, err)
	assert.Contains(t, outcome.Text, "✅")
}

func TestFetcher_Aborted(t *testing.T) {
	run := testRun("snow-qms-20260820100000000", "snow", "qms", "20260820100000000")
	reporter := &fakeReporter{}
	reporter.setAborted(true)
	fetcher := newFetcher(t, &fakeRSHub{}, reporter)

	_, err := fetcher.Run(context.Background(), &Input{
		SessionID: "s6",
		Token:     "tok",
		Message:   "获取结果",
		History:   []models.ChatMessage{descriptorMessage(t, run)},
		LLM:       &scriptedLLM{},
	})
	require.ErrorIs(t, err, progress.ErrAborted)
}

func TestFetcher_SummaryFallbackOnLLMError(t *testing.T) {
	run := testRun("soil-aiem-20260821100000000", "soil", "aiem", "20260821100000000")
	fetcher := newFetcher(t, &fakeRSHub{}, &fakeReporter{})

	outcome, err := fetcher.Run(context.Background(), &Input{
		SessionID: "s7",
		Token:     "tok",
		Message:   "获取结果",
		History:   []models.ChatMessage{descriptorMessage(t, run)},
		LLM:       &scriptedLLM{},
	})
	require.NoError(t, err)
	assert.Contains(t, outcome.Text, run.ProjectName)
}

func TestModifiedParams(t *testing.T) {
	t.Run("system fields excluded and capped at five", func(t *testing.T) {
		dicts := []map[string]any{{
			"token": "t", "project_name": "p", "task_name": "n", "output_var": "tb",
			"a": 1, "b": 2, "c": 3, "d": 4, "e": 5, "f": 6,
		}}
		got := modifiedParams(dicts)
		assert.Contains(t, got, "任务1: a=1, b=2, c=3, d=4, e=5...")
		assert.NotContains(t, got, "token")
	})

	t.Run("only system fields means defaults", func(t *testing.T) {
		dicts := []map[string]any{{"token": "t", "project_name": "p"}}
		assert.Equal(t, "使用默认参数", modifiedParams(dicts))
	})
}
