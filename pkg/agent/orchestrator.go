package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zju-rshub/rsagent/pkg/auth"
	"github.com/zju-rshub/rsagent/pkg/billing"
	"github.com/zju-rshub/rsagent/pkg/llm"
	"github.com/zju-rshub/rsagent/pkg/metrics"
	"github.com/zju-rshub/rsagent/pkg/models"
	"github.com/zju-rshub/rsagent/pkg/progress"
	"github.com/zju-rshub/rsagent/pkg/session"
)

// Canned responses for terminal outcomes. These are user-facing wire
// strings.
const (
	abortedResponse    = "请求已被用户中止"
	llmTimeoutResponse = "抱歉，AI服务响应超时，请稍后重试"
	networkResponse    = "抱歉，网络连接出现问题，请检查网络后重试"
	apiErrorResponse   = "抱歉，AI服务暂时不可用，可能是认证或余额问题。请稍后重试或联系管理员。"
)

// noHistoryGuidance answers a result-retrieval request in a conversation
// with no prior submissions.
const noHistoryGuidance = `我理解您想获取之前的建模结果，但这是我们的第一次对话，还没有之前的任务记录。

要使用RSHub建模功能，请按以下步骤：

1. **首先提交建模任务**，例如：
   - "请帮我建立一个土壤湿度反演模型"
   - "根据这些参数生成雪地散射数据"
   - "创建植被参数反演模型"

2. **然后获取结果**，例如：
   - "请获取刚才建模任务的结果"
   - "可视化之前任务的输出数据"

您现在可以直接告诉我您想要进行什么类型的建模，我很乐意帮您！`

// TurnRequest is one incoming user turn.
type TurnRequest struct {
	Message   string
	SessionID string
	ChatID    string
	Token     string
}

// TurnError carries an HTTP status for failures that must abort the turn
// before execution (authentication, insufficient credit).
type TurnError struct {
	Status  int
	Message string
}

func (e *TurnError) Error() string { return e.Message }

// Orchestrator drives one turn end to end: authentication, history
// loading, classification, credit preflight, dispatch, settlement, and
// persistence.
type Orchestrator struct {
	llm        llm.Client
	resolver   *auth.Resolver
	registry   *Registry
	settler    *billing.Settler
	credits    billing.CreditAPI
	store      *session.Store
	reporter   Reporter
	production bool
}

// NewOrchestrator wires the turn pipeline. credits may be nil in local
// mode; the preflight is then skipped.
func NewOrchestrator(client llm.Client, resolver *auth.Resolver, registry *Registry, settler *billing.Settler, credits billing.CreditAPI, store *session.Store, reporter Reporter, production bool) *Orchestrator {
	return &Orchestrator{
		llm:        client,
		resolver:   resolver,
		registry:   registry,
		settler:    settler,
		credits:    credits,
		store:      store,
		reporter:   reporter,
		production: production,
	}
}

// HandleTurn executes one turn. Terminal outcomes (abort, provider
// failures) come back as regular responses with their task code; only
// pre-execution failures return a TurnError.
func (o *Orchestrator) HandleTurn(ctx context.Context, req *TurnRequest) (*models.ChatResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	o.reporter.ClearAbort(sessionID)
	o.reporter.Publish(sessionID, "开始处理请求...", models.StageInit, nil)

	token, err := o.resolver.Resolve(req.Token)
	if err != nil {
		return nil, &TurnError{Status: http.StatusUnauthorized, Message: err.Error()}
	}

	metered := MeterLLM(o.llm, o.settler.Tracker(), sessionID)

	sess, isNew := o.loadSession(ctx, token, req.ChatID)
	if isNew {
		sess.Title = session.NewTitleGenerator(metered).Generate(ctx, req.Message)
	}

	turn := &Turn{
		SessionID: sessionID,
		ChatID:    sess.SessionID,
		Token:     token,
		Message:   req.Message,
		History:   session.ContextWindow(sess.Messages),
		LLM:       metered,
	}

	o.reporter.Publish(sessionID, "正在分析问题类型...", models.StageAnalyzing, nil)
	if o.reporter.Aborted(sessionID) {
		return o.terminalResponse(sessionID, sess, models.TaskUserAborted), nil
	}

	code := Classify(ctx, metered, req.Message, turn.History)
	slog.Info("Task classified", "session_id", sessionID, "task_type", int(code))
	o.reporter.Publish(sessionID, "问题类型识别完成，准备执行任务...", models.StageAnalyzing, nil)

	if o.reporter.Aborted(sessionID) {
		code = models.TaskUserAborted
	}
	if code.Terminal() {
		return o.terminalResponse(sessionID, sess, code), nil
	}

	if code == models.TaskRetrieve && len(turn.History) == 0 {
		return o.guidanceResponse(ctx, sessionID, token, sess), nil
	}

	if err := o.creditPreflight(ctx, sessionID, token); err != nil {
		return nil, err
	}

	result := o.execute(ctx, turn, code)
	if result.code.Terminal() {
		o.settler.Tracker().Clear(sessionID)
		return o.terminalResponse(sessionID, sess, result.code), nil
	}

	billingInfo, creditInfo := o.settler.Settle(ctx, sessionID, token)

	o.persist(ctx, token, sess, req.Message, result.result.Text)

	o.reporter.Publish(sessionID, "处理完成", models.StageCompleted, nil)

	return &models.ChatResponse{
		Response:    result.result.Text,
		Status:      result.result.Status,
		TaskType:    code,
		SessionID:   sessionID,
		ChatID:      sess.SessionID,
		ChatTitle:   sess.Title,
		SourceFiles: result.result.Sources,
		BillingInfo: billingInfo,
		CreditInfo:  creditInfo,
	}, nil
}

// executeOutcome pairs a handler result with the effective task code; a
// terminal code means execution was cut short.
type executeOutcome struct {
	result *Result
	code   models.TaskCode
}

// execute dispatches to the registered handler and folds failures into
// terminal codes or an error-status result.
func (o *Orchestrator) execute(ctx context.Context, turn *Turn, code models.TaskCode) executeOutcome {
	handler, ok := o.registry.HandlerFor(code)
	if !ok {
		slog.Error("No handler registered for task code", "task_type", int(code))
		return executeOutcome{
			result: &Result{Text: "抱歉，处理您的请求时出现了问题", Status: models.StatusError},
			code:   code,
		}
	}

	result, err := handler.Handle(ctx, turn, code)
	if err == nil {
		return executeOutcome{result: result, code: code}
	}

	if errors.Is(err, progress.ErrAborted) {
		return executeOutcome{code: models.TaskUserAborted}
	}
	if terminal, ok := llm.ClassifyError(err); ok {
		slog.Error("Task execution hit a provider failure",
			"session_id", turn.SessionID, "task_type", int(code), "error", err)
		return executeOutcome{code: terminal}
	}

	slog.Error("Task execution failed", "session_id", turn.SessionID, "task_type", int(code), "error", err)
	o.reporter.Publish(turn.SessionID, err.Error(), models.StageError, nil)
	return executeOutcome{
		result: &Result{Text: err.Error(), Status: models.StatusError},
		code:   code,
	}
}

// creditPreflight confirms the account can cover at least one credit
// before execution in production. A service failure is logged and waved
// through; settlement will reconcile.
func (o *Orchestrator) creditPreflight(ctx context.Context, sessionID, token string) error {
	if !o.production || o.credits == nil {
		return nil
	}

	o.reporter.Publish(sessionID, "正在检查账户余额...", models.StageProcessing, nil)
	ok, message, err := o.credits.Check(ctx, token, 1)
	if err != nil {
		slog.Warn("Credit preflight check failed, continuing", "error", err)
		return nil
	}
	if !ok {
		o.settler.Tracker().Clear(sessionID)
		if message == "" {
			message = "账户余额不足"
		}
		return &TurnError{Status: http.StatusPaymentRequired, Message: message}
	}
	return nil
}

// terminalResponse renders the canned response for a terminal task code.
// The billing counter is cleared so a cut-short turn cannot leak charges
// into the next one.
func (o *Orchestrator) terminalResponse(sessionID string, sess *models.ChatSession, code models.TaskCode) *models.ChatResponse {
	o.settler.Tracker().Clear(sessionID)

	var text, status string
	switch code {
	case models.TaskUserAborted:
		o.reporter.Publish(sessionID, "用户已中止请求", models.StageAborted, nil)
		text, status = abortedResponse, models.StatusUserAborted
	case models.TaskLLMTimeout:
		o.reporter.Publish(sessionID, "AI服务响应超时", models.StageError, nil)
		text, status = llmTimeoutResponse, models.StatusLLMTimeout
	case models.TaskNetworkError:
		o.reporter.Publish(sessionID, "网络连接错误", models.StageError, nil)
		text, status = networkResponse, models.StatusNetworkError
	case models.TaskAPIError:
		o.reporter.Publish(sessionID, "AI服务认证失败", models.StageError, nil)
		text, status = apiErrorResponse, models.StatusAPIError
	}

	return &models.ChatResponse{
		Response:  text,
		Status:    status,
		TaskType:  code,
		SessionID: sessionID,
		ChatID:    sess.SessionID,
		ChatTitle: sess.Title,
	}
}

// guidanceResponse handles a retrieval request with no usable history:
// instructions instead of the workflow, with normal settlement.
func (o *Orchestrator) guidanceResponse(ctx context.Context, sessionID, token string, sess *models.ChatSession) *models.ChatResponse {
	o.reporter.Publish(sessionID, "检测到无历史任务，提供指导信息", models.StageProcessing, nil)

	billingInfo, creditInfo := o.settler.Settle(ctx, sessionID, token)

	return &models.ChatResponse{
		Response:    noHistoryGuidance,
		Status:      models.StatusGuidanceProvided,
		TaskType:    models.TaskRetrieve,
		SessionID:   sessionID,
		ChatID:      sess.SessionID,
		ChatTitle:   sess.Title,
		BillingInfo: billingInfo,
		CreditInfo:  creditInfo,
	}
}

// loadSession resolves the conversation for the turn: the named chat, the
// token's most recent chat, or a fresh one.
func (o *Orchestrator) loadSession(ctx context.Context, token, chatID string) (*models.ChatSession, bool) {
	if chatID != "" {
		sess, err := o.store.Load(ctx, token, chatID)
		if err == nil {
			return sess, false
		}
		if !errors.Is(err, session.ErrNotFound) {
			slog.Warn("Session load failed, starting fresh", "chat_id", chatID, "error", err)
		}
		return newChatSession(chatID), true
	}

	sess, err := o.store.MostRecent(ctx, token)
	if err == nil {
		return sess, false
	}
	if !errors.Is(err, session.ErrNotFound) {
		slog.Warn("Most-recent session lookup failed, starting fresh", "error", err)
	}
	return newChatSession(session.NewChatID()), true
}

func newChatSession(chatID string) *models.ChatSession {
	now := time.Now()
	return &models.ChatSession{
		SessionID: chatID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// persist appends the turn's message pair and saves. Failures are logged,
// never fatal.
func (o *Orchestrator) persist(ctx context.Context, token string, sess *models.ChatSession, userMessage, assistantMessage string) {
	now := time.Now()
	sess.Messages = append(sess.Messages,
		models.ChatMessage{Role: models.RoleUser, Content: userMessage, Timestamp: now},
		models.ChatMessage{Role: models.RoleAssistant, Content: assistantMessage, Timestamp: now},
	)
	sess.UpdatedAt = now

	if err := o.store.Save(ctx, token, sess); err != nil {
		metrics.SessionSaveFailures.Inc()
		slog.Error("Session persistence failed", "chat_id", sess.SessionID, "error", err)
	}
}
