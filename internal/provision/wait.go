package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lattiam/batchanalysis/internal/deployment"
)

// ReadyFunc reports whether a resource reached its target state. A non-nil error
// stops waiting.
type ReadyFunc func(ctx context.Context) (bool, error)

// waitFor polls ready every interval until it reports done or timeout elapses
func waitFor(ctx context.Context, what string, interval, timeout time.Duration, ready ReadyFunc) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := ready(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ctx.Err()
			}
			return deployment.Timeout(deployment.PhaseProvisioning,
				fmt.Sprintf("%s not ready within %s", what, timeout), ctx.Err())
		case <-ticker.C:
		}
	}
}
