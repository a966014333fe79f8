package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/batchanalysis/internal/deployment"
	"github.com/lattiam/batchanalysis/internal/state"
)

func TestFromToken(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := state.NewToken("code-analysis", "req-1", deployment.EventCreate)
	token.CreatedAt = created
	token.UpdatedAt = created
	token.Phase = state.PhaseFailed
	token = token.Record(deployment.Failed(deployment.SubmissionFailed(errors.New("queue disabled"))))

	resp := FromToken(token)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "Create", resp.EventType)
	assert.Equal(t, "Failed", resp.Phase)
	assert.Equal(t, "SubmissionFailed", resp.ErrorCode)
	assert.Equal(t, "job submission", resp.ErrorPhase)
	assert.Contains(t, resp.ErrorMessage, "queue disabled")

	assert.Len(t, FromTokens([]state.Token{token, token}), 2)
	assert.NotNil(t, FromTokens(nil))
}

func TestEventResponseJSON(t *testing.T) {
	t.Parallel()

	resp := EventResponse{RequestID: "req-1", Response: deployment.Succeeded("job-1").Response()}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"requestId":"req-1","status":"Success","jobId":"job-1"}`, string(data))
}
