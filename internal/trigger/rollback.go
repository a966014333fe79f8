package trigger

import (
	"context"
	"fmt"

	"github.com/lattiam/batchanalysis/internal/state"
)

// RollbackOutcome reports what Rollback did
type RollbackOutcome struct {
	RequestID string
	JobID     string
	Retracted bool
	Reason    string
}

// Rollback compensates a request when a later provisioning step fails. Without
// compensation enabled nothing is retracted and the submitted job keeps running.
func (t *Trigger) Rollback(ctx context.Context, requestID string) (RollbackOutcome, error) {
	logger := t.logger.WithContext(ctx)
	outcome := RollbackOutcome{RequestID: requestID}

	token, err := t.store.Get(ctx, t.stack, requestID)
	if err != nil {
		return outcome, fmt.Errorf("failed to load trigger token: %w", err)
	}
	outcome.JobID = token.JobID

	switch {
	case t.canceller == nil:
		outcome.Reason = "compensation disabled"
	case token.Retracted:
		outcome.Retracted = true
		outcome.Reason = "already retracted"
		return outcome, nil
	case token.Phase != state.PhaseSucceeded || token.JobID == "":
		outcome.Reason = "no job was submitted"
	default:
		if err := t.canceller.Cancel(ctx, token.JobID, "deployment rolled back"); err != nil {
			return outcome, fmt.Errorf("failed to cancel job %s: %w", token.JobID, err)
		}
		token.Retracted = true
		if err := t.store.Update(ctx, token); err != nil {
			return outcome, fmt.Errorf("failed to record retraction: %w", err)
		}
		outcome.Retracted = true
		outcome.Reason = "job cancelled"
	}

	logger.Info("Rollback of request %s: %s", requestID, outcome.Reason)
	return outcome, nil
}
