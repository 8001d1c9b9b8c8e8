package agent

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zju-rshub/rsagent/pkg/auth"
	"github.com/zju-rshub/rsagent/pkg/billing"
	"github.com/zju-rshub/rsagent/pkg/llm"
	"github.com/zju-rshub/rsagent/pkg/models"
	"github.com/zju-rshub/rsagent/pkg/progress"
	"github.com/zju-rshub/rsagent/pkg/session"
)

// fakeCreditAPI scripts the preflight and settlement outcomes.
type fakeCreditAPI struct {
	checkOK  bool
	checkMsg string
	checkErr error
	updates  []int
}

func (f *fakeCreditAPI) Check(context.Context, string, int) (bool, string, error) {
	return f.checkOK, f.checkMsg, f.checkErr
}

func (f *fakeCreditAPI) Update(_ context.Context, _ string, delta int) (*billing.CreditResult, error) {
	f.updates = append(f.updates, delta)
	return &billing.CreditResult{OK: true, Remaining: 40}, nil
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	handler      *stubHandler
	reporter     *fakeReporter
	remote       *fakeRemote
	tracker      *billing.Tracker
}

// newLocalOrchestrator wires a local-mode orchestrator with a stub handler
// for every dispatchable code.
func newLocalOrchestrator(t *testing.T, client llm.Client) *orchestratorFixture {
	t.Helper()

	handler := &stubHandler{
		name:   "analysis",
		codes:  []models.TaskCode{models.TaskKnowledge, models.TaskSubmit, models.TaskRetrieve, models.TaskGeneral},
		result: &Result{Text: "回答内容", Status: models.StatusSuccess},
	}
	registry := NewRegistry()
	registry.Register(handler)

	tracker := billing.NewTracker(0.5, 2.5)
	settler := billing.NewSettler(tracker, nil, false)
	remote := newFakeRemote()
	store := session.NewStore(nil, remote, false)
	reporter := &fakeReporter{}

	return &orchestratorFixture{
		orchestrator: NewOrchestrator(client, auth.NewResolver(false, "configured-token"), registry, settler, nil, store, reporter, false),
		handler:      handler,
		reporter:     reporter,
		remote:       remote,
		tracker:      tracker,
	}
}

func TestOrchestrator_HappyPath(t *testing.T) {
	client := &scriptedLLM{responses: []string{"微波遥感问答", "属于知识问答。\n1"}}
	fx := newLocalOrchestrator(t, client)

	resp, err := fx.orchestrator.HandleTurn(context.Background(), &TurnRequest{
		Message: "什么是亮温？",
	})
	require.NoError(t, err)

	assert.Equal(t, "回答内容", resp.Response)
	assert.Equal(t, models.StatusSuccess, resp.Status)
	assert.Equal(t, models.TaskKnowledge, resp.TaskType)
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.ChatID)
	assert.Equal(t, "微波遥感问答", resp.ChatTitle)

	// Title generation plus classification, both metered.
	require.NotNil(t, resp.BillingInfo)
	assert.Equal(t, 2, resp.BillingInfo.LLMCalls)
	require.NotNil(t, resp.CreditInfo)
	assert.True(t, resp.CreditInfo.LocalMode)

	// The handler saw the resolved token, not the (absent) request token.
	require.Equal(t, 1, fx.handler.handled)
	assert.Equal(t, "configured-token", fx.handler.lastTurn.Token)

	// The turn was persisted as a user/assistant pair.
	saved, err := fx.remote.Load(context.Background(), "configured-token", resp.ChatID)
	require.NoError(t, err)
	require.Len(t, saved.Messages, 2)
	assert.Equal(t, models.RoleUser, saved.Messages[0].Role)
	assert.Equal(t, "什么是亮温？", saved.Messages[0].Content)
	assert.Equal(t, "回答内容", saved.Messages[1].Content)

	assert.True(t, fx.reporter.sawStage(models.StageCompleted))
}

func TestOrchestrator_ExistingChatSkipsTitleGeneration(t *testing.T) {
	client := &scriptedLLM{responses: []string{"2"}}
	fx := newLocalOrchestrator(t, client)

	existing := &models.ChatSession{
		SessionID: "123456",
		Title:     "旧标题",
		Messages: []models.ChatMessage{
			{Role: models.RoleUser, Content: "早些的问题"},
			{Role: models.RoleAssistant, Content: "早些的回答"},
		},
	}
	require.NoError(t, fx.remote.Save(context.Background(), "configured-token", existing))

	resp, err := fx.orchestrator.HandleTurn(context.Background(), &TurnRequest{
		Message: "提交一个建模任务",
		ChatID:  "123456",
	})
	require.NoError(t, err)

	assert.Equal(t, "123456", resp.ChatID)
	assert.Equal(t, "旧标题", resp.ChatTitle)
	// Only the classification call; no title call.
	assert.Equal(t, 1, client.callCount())
	// History reached the handler.
	require.Len(t, fx.handler.lastTurn.History, 2)
	assert.Equal(t, "早些的问题", fx.handler.lastTurn.History[0].Content)
}

func TestOrchestrator_AuthFailure(t *testing.T) {
	fx := newLocalOrchestrator(t, &scriptedLLM{})
	fx.orchestrator.resolver = auth.NewResolver(true, "")

	_, err := fx.orchestrator.HandleTurn(context.Background(), &TurnRequest{Message: "你好"})
	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, http.StatusUnauthorized, turnErr.Status)
}

func TestOrchestrator_AbortBeforeClassification(t *testing.T) {
	client := &scriptedLLM{responses: []string{"标题"}}
	fx := newLocalOrchestrator(t, client)
	fx.reporter.setAborted(true)

	resp, err := fx.orchestrator.HandleTurn(context.Background(), &TurnRequest{Message: "什么是亮温？"})
	require.NoError(t, err)

	assert.Equal(t, abortedResponse, resp.Response)
	assert.Equal(t, models.StatusUserAborted, resp.Status)
	assert.Equal(t, models.TaskUserAborted, resp.TaskType)
	assert.Nil(t, resp.BillingInfo)
	assert.Zero(t, fx.handler.handled)
	assert.True(t, fx.reporter.sawStage(models.StageAborted))
	// The canned turn is not persisted.
	ids, _ := fx.remote.ListIDs(context.Background(), "configured-token")
	assert.Empty(t, ids)
}

func TestOrchestrator_ClassifierTimeout(t *testing.T) {
	client := &scriptedLLM{err: context.DeadlineExceeded}
	fx := newLocalOrchestrator(t, client)

	resp, err := fx.orchestrator.HandleTurn(context.Background(), &TurnRequest{Message: "什么是亮温？"})
	require.NoError(t, err)

	assert.Equal(t, llmTimeoutResponse, resp.Response)
	assert.Equal(t, models.StatusLLMTimeout, resp.Status)
	assert.Equal(t, models.TaskLLMTimeout, resp.TaskType)
	// The cut-short turn leaves no usage behind.
	assert.Zero(t, fx.tracker.Cost(resp.SessionID))
}

func TestOrchestrator_HandlerAborted(t *testing.T) {
	client := &scriptedLLM{responses: []string{"标题", "1"}}
	fx := newLocalOrchestrator(t, client)
	fx.handler.err = progress.ErrAborted

	resp, err := fx.orchestrator.HandleTurn(context.Background(), &TurnRequest{Message: "什么是亮温？"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUserAborted, resp.Status)
	assert.Equal(t, models.TaskUserAborted, resp.TaskType)
}

func TestOrchestrator_HandlerProviderFailure(t *testing.T) {
	client := &scriptedLLM{responses: []string{"标题", "1"}}
	fx := newLocalOrchestrator(t, client)
	fx.handler.err = &llm.APIError{StatusCode: 401, Body: "invalid key"}

	resp, err := fx.orchestrator.HandleTurn(context.Background(), &TurnRequest{Message: "什么是亮温？"})
	require.NoError(t, err)
	assert.Equal(t, apiErrorResponse, resp.Response)
	assert.Equal(t, models.StatusAPIError, resp.Status)
	assert.Equal(t, models.TaskAPIError, resp.TaskType)
}

func TestOrchestrator_HandlerPlainErrorIsSettled(t *testing.T) {
	client := &scriptedLLM{responses: []string{"标题", "2"}}
	fx := newLocalOrchestrator(t, client)
	fx.handler.err = errors.New("参数验证失败: dict 0: required parameter \"fGHz\" is missing")

	resp, err := fx.orchestrator.HandleTurn(context.Background(), &TurnRequest{Message: "提交建模任务"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusError, resp.Status)
	assert.Contains(t, resp.Response, "参数验证失败")
	// The turn still settles the metered usage.
	require.NotNil(t, resp.BillingInfo)
	assert.Equal(t, 2, resp.BillingInfo.LLMCalls)
}

func TestOrchestrator_RetrieveWithoutHistoryGivesGuidance(t *testing.T) {
	client := &scriptedLLM{responses: []string{"标题", "3"}}
	fx := newLocalOrchestrator(t, client)

	resp, err := fx.orchestrator.HandleTurn(context.Background(), &TurnRequest{Message: "获取之前任务的结果"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusGuidanceProvided, resp.Status)
	assert.Equal(t, models.TaskRetrieve, resp.TaskType)
	assert.Contains(t, resp.Response, "**首先提交建模任务**")
	assert.Zero(t, fx.handler.handled)
	// Guidance still settles.
	require.NotNil(t, resp.BillingInfo)
	assert.Equal(t, 2, resp.BillingInfo.LLMCalls)
}

func TestOrchestrator_CreditPreflight(t *testing.T) {
	newProduction := func(t *testing.T, credits *fakeCreditAPI) *orchestratorFixture {
		t.Helper()
		client := &scriptedLLM{responses: []string{"标题", "1"}}
		fx := newLocalOrchestrator(t, client)
		fx.orchestrator.resolver = auth.NewResolver(true, "")
		fx.orchestrator.credits = credits
		fx.orchestrator.production = true
		return fx
	}

	t.Run("insufficient balance blocks execution", func(t *testing.T) {
		fx := newProduction(t, &fakeCreditAPI{checkOK: false, checkMsg: "余额不足"})

		_, err := fx.orchestrator.HandleTurn(context.Background(), &TurnRequest{
			Message: "什么是亮温？",
			Token:   "user-token-12345",
		})
		var turnErr *TurnError
		require.ErrorAs(t, err, &turnErr)
		assert.Equal(t, http.StatusPaymentRequired, turnErr.Status)
		assert.Equal(t, "余额不足", turnErr.Message)
		assert.Zero(t, fx.handler.handled)
	})

	t.Run("preflight service failure fails open", func(t *testing.T) {
		fx := newProduction(t, &fakeCreditAPI{checkErr: errors.New("credit api down")})

		resp, err := fx.orchestrator.HandleTurn(context.Background(), &TurnRequest{
			Message: "什么是亮温？",
			Token:   "user-token-12345",
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusSuccess, resp.Status)
		assert.Equal(t, 1, fx.handler.handled)
	})

	t.Run("sufficient balance proceeds", func(t *testing.T) {
		fx := newProduction(t, &fakeCreditAPI{checkOK: true})

		resp, err := fx.orchestrator.HandleTurn(context.Background(), &TurnRequest{
			Message: "什么是亮温？",
			Token:   "user-token-12345",
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusSuccess, resp.Status)
		assert.Equal(t, "user-token-12345", fx.handler.lastTurn.Token)
	})
}
