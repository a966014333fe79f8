// Package types provides API response types and conversion utilities
package types

import (
	"time"

	"github.com/lattiam/batchanalysis/internal/deployment"
	"github.com/lattiam/batchanalysis/internal/state"
)

// TokenResponse represents the recorded outcome of one lifecycle event
type TokenResponse struct {
	Stack        string    `json:"stack"`
	RequestID    string    `json:"requestId"`
	EventType    string    `json:"eventType"`
	Phase        string    `json:"phase"`
	JobID        string    `json:"jobId,omitempty"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	ErrorPhase   string    `json:"errorPhase,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Retracted    bool      `json:"retracted,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FromToken converts a trigger token into its API form
func FromToken(token state.Token) TokenResponse {
	return TokenResponse{
		Stack:        token.Stack,
		RequestID:    token.RequestID,
		EventType:    string(token.EventType),
		Phase:        string(token.Phase),
		JobID:        token.JobID,
		ErrorCode:    string(token.ErrorCode),
		ErrorPhase:   string(token.ErrorPhase),
		ErrorMessage: token.ErrorMessage,
		Retracted:    token.Retracted,
		CreatedAt:    token.CreatedAt,
		UpdatedAt:    token.UpdatedAt,
	}
}

// FromTokens converts a token history
func FromTokens(tokens []state.Token) []TokenResponse {
	out := make([]TokenResponse, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, FromToken(token))
	}
	return out
}

// EventResponse is the reply to a lifecycle event: the submission outcome plus the
// request id it was recorded under
type EventResponse struct {
	RequestID string `json:"requestId,omitempty"`
	deployment.Response
}

// EventListResponse lists the recorded events of the stack
type EventListResponse struct {
	Stack  string          `json:"stack"`
	Events []TokenResponse `json:"events"`
	Total  int             `json:"total"`
}
