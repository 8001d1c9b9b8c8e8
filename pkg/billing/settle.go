package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/zju-rshub/rsagent/pkg/models"
)

// Settler converts a turn's usage counter into exactly one credit delta.
type Settler struct {
	tracker    *Tracker
	credits    CreditAPI
	production bool
}

// NewSettler creates a settler. credits may be nil in local mode.
func NewSettler(tracker *Tracker, credits CreditAPI, production bool) *Settler {
	return &Settler{
		tracker:    tracker,
		credits:    credits,
		production: production,
	}
}

// Tracker exposes the underlying usage counter.
func (s *Settler) Tracker() *Tracker {
	return s.tracker
}

// Settle runs exactly once per turn after the branch completes, success or
// caught error. The counter is cleared whether or not the remote deduction
// succeeds.
//
// In production mode a turn that counted work issues a single negative
// delta; a turn that counted nothing issues no credit call at all. In local
// mode no credit call ever happens.
func (s *Settler) Settle(ctx context.Context, sessionID, token string) (*models.BillingInfo, *models.CreditInfo) {
	usage := s.tracker.Snapshot(sessionID)
	cost := s.tracker.costOf(usage)
	s.tracker.Clear(sessionID)

	billing := &models.BillingInfo{
		LLMCalls:   usage.LLMCalls,
		RSHubTasks: usage.RSHubTasks,
		TotalCost:  cost,
	}
	if !usage.StartTime.IsZero() {
		billing.DurationS = time.Since(usage.StartTime).Seconds()
	}

	if !s.production {
		return billing, &models.CreditInfo{
			LocalMode:        true,
			CreditDeducted:   0,
			RemainingCredits: -1,
			DeductSuccess:    true,
		}
	}

	if cost == 0 {
		return billing, &models.CreditInfo{
			CreditDeducted:   0,
			RemainingCredits: -1,
			DeductSuccess:    true,
		}
	}

	result, err := s.credits.Update(ctx, token, -cost)
	if err != nil {
		slog.Error("Credit settlement failed",
			"session_id", sessionID, "cost", cost, "error", err)
		return billing, &models.CreditInfo{
			CreditDeducted:   cost,
			RemainingCredits: -1,
			DeductSuccess:    false,
		}
	}

	slog.Info("Credits settled",
		"session_id", sessionID,
		"deducted", cost,
		"remaining", result.Remaining,
		"success", result.OK)

	return billing, &models.CreditInfo{
		CreditDeducted:   cost,
		RemainingCredits: result.Remaining,
		DeductSuccess:    result.OK,
	}
}
