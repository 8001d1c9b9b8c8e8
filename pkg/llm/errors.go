package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/zju-rshub/rsagent/pkg/models"
)

// APIError is a non-200 response from the completion endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api error: status %d: %s", e.StatusCode, e.Body)
}

// ClassifyError maps an upstream failure to its terminal task code. The
// second return is false when the error carries no recognizable signal and
// the caller should fall back to its own heuristics.
func ClassifyError(err error) (models.TaskCode, bool) {
	if err == nil {
		return 0, false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.TaskLLMTimeout, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return models.TaskLLMTimeout, true
		}
		return models.TaskNetworkError, true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 402, 403:
			return models.TaskAPIError, true
		}
		if strings.Contains(strings.ToLower(apiErr.Body), "accountoverdue") {
			return models.TaskAPIError, true
		}
		// Other statuses (5xx, 429) carry no auth signal; let the caller
		// decide.
		return 0, false
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return models.TaskLLMTimeout, true
	case strings.Contains(msg, "connection") ||
		strings.Contains(msg, "network") ||
		strings.Contains(msg, "no such host"):
		return models.TaskNetworkError, true
	case strings.Contains(msg, "accountoverdue") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "unauthorized"):
		return models.TaskAPIError, true
	}

	return 0, false
}
