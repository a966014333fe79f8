package provision

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/batchanalysis/internal/deployment"
)

func TestWaitFor(t *testing.T) {
	t.Parallel()

	t.Run("ready after a few polls", func(t *testing.T) {
		t.Parallel()
		var polls atomic.Int32
		err := waitFor(context.Background(), "queue", time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return polls.Add(1) >= 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(3), polls.Load())
	})

	t.Run("never ready", func(t *testing.T) {
		t.Parallel()
		err := waitFor(context.Background(), "queue", time.Millisecond, 20*time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, deployment.ErrTimeout)
		assert.Equal(t, deployment.PhaseProvisioning, deployment.PhaseOf(err))
		assert.Contains(t, err.Error(), "queue not ready within 20ms")
	})

	t.Run("ready reports an error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("queue is INVALID")
		err := waitFor(context.Background(), "queue", time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("caller cancels", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := waitFor(ctx, "queue", time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, deployment.ErrTimeout)
	})
}
