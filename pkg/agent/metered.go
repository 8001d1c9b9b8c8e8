package agent

import (
	"context"

	"github.com/zju-rshub/rsagent/pkg/billing"
	"github.com/zju-rshub/rsagent/pkg/llm"
	"github.com/zju-rshub/rsagent/pkg/metrics"
)

// meteredClient wraps an LLM client so every successful call is counted
// against the session's billing tally. Failed calls are not billed.
type meteredClient struct {
	inner     llm.Client
	tracker   *billing.Tracker
	sessionID string
}

// MeterLLM returns a client that records each successful generation for
// the session. Components receive the metered client and never touch the
// tracker themselves.
func MeterLLM(inner llm.Client, tracker *billing.Tracker, sessionID string) llm.Client {
	return &meteredClient{inner: inner, tracker: tracker, sessionID: sessionID}
}

func (m *meteredClient) Generate(ctx context.Context, human, system string, opts *llm.Options) (string, error) {
	response, err := m.inner.Generate(ctx, human, system, opts)
	if err != nil {
		return "", err
	}
	m.tracker.AddLLMCall(m.sessionID, "llm_call")
	metrics.LLMCallsTotal.Inc()
	return response, nil
}
