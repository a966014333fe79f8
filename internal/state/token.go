// Package state persists lifecycle trigger tokens so that redelivered requests are
// answered from the recorded outcome instead of re-invoking the controller
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lattiam/batchanalysis/internal/deployment"
)

// Phase is the trigger state recorded in a token
type Phase string

// Trigger phases
const (
	PhasePending   Phase = "Pending"
	PhaseInvoking  Phase = "Invoking"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
)

// Terminal reports whether no further transition is possible
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Sentinel errors returned by token stores
var (
	ErrTokenNotFound      = errors.New("trigger token not found")
	ErrTokenExists        = errors.New("trigger token already exists")
	ErrInvalidTransition  = errors.New("invalid trigger state transition")
	ErrInvalidTokenKey    = errors.New("trigger token requires a stack name and request id")
	ErrUnsupportedBackend = errors.New("unsupported token store backend")
)

// Token records one trigger run for one deployment request
type Token struct {
	Stack        string               `json:"stack"`
	RequestID    string               `json:"requestId"`
	EventType    deployment.EventType `json:"eventType"`
	Phase        Phase                `json:"phase"`
	JobID        string               `json:"jobId,omitempty"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
	ErrorCode    deployment.Code      `json:"errorCode,omitempty"`
	ErrorPhase   deployment.Phase     `json:"errorPhase,omitempty"`
	Retracted    bool                 `json:"retracted,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// NewToken creates a Pending token
func NewToken(stack, requestID string, eventType deployment.EventType) Token {
	now := time.Now().UTC()
	return Token{
		Stack:     stack,
		RequestID: requestID,
		EventType: eventType,
		Phase:     PhasePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key identifies the token within a store
func (t Token) Key() string {
	return TokenKey(t.Stack, t.RequestID)
}

// TokenKey builds the store key for a stack and request id
func TokenKey(stack, requestID string) string {
	return stack + "/" + requestID
}

// ValidateKey checks that the token can be stored
func (t Token) ValidateKey() error {
	if strings.TrimSpace(t.Stack) == "" || strings.TrimSpace(t.RequestID) == "" {
		return ErrInvalidTokenKey
	}
	return nil
}

var transitions = map[Phase][]Phase{
	PhasePending:  {PhaseInvoking, PhaseFailed},
	PhaseInvoking: {PhaseSucceeded, PhaseFailed},
}

// Transition moves the token to next, rejecting moves the state machine does not allow
func (t Token) Transition(next Phase) (Token, error) {
	for _, allowed := range transitions[t.Phase] {
		if allowed == next {
			t.Phase = next
			t.UpdatedAt = time.Now().UTC()
			return t, nil
		}
	}
	return t, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Phase, next)
}

// Record stores the submission outcome on a terminal token
func (t Token) Record(result deployment.SubmissionResult) Token {
	t.JobID = result.JobID
	if result.Err == nil {
		return t
	}
	t.ErrorPhase = deployment.PhaseOf(result.Err)
	t.ErrorMessage = result.Err.Error()
	if depErr, ok := deployment.AsError(result.Err); ok {
		t.ErrorCode = depErr.Code
		t.ErrorMessage = depErr.Detail()
	}
	return t
}

// Result rebuilds the submission result recorded on a terminal token
func (t Token) Result() deployment.SubmissionResult {
	if t.Phase == PhaseSucceeded {
		return deployment.Succeeded(t.JobID)
	}
	code := t.ErrorCode
	if code == "" {
		code = deployment.CodeSubmissionFailed
	}
	phase := t.ErrorPhase
	if phase == "" {
		phase = deployment.PhaseSubmission
	}
	return deployment.Failed(deployment.NewError(code, phase, t.ErrorMessage, nil))
}

// TokenStore persists trigger tokens
type TokenStore interface {
	// Create stores a new token; ErrTokenExists if the key is taken
	Create(ctx context.Context, token Token) error
	// Get loads a token; ErrTokenNotFound if absent
	Get(ctx context.Context, stack, requestID string) (Token, error)
	// Update overwrites an existing token; ErrTokenNotFound if absent
	Update(ctx context.Context, token Token) error
	// List returns every token of a stack, oldest first
	List(ctx context.Context, stack string) ([]Token, error)
	// Close releases backend resources
	Close() error
}

func sortByCreation(tokens []Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].CreatedAt.Equal(tokens[j].CreatedAt) {
			return tokens[i].RequestID < tokens[j].RequestID
		}
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
}

// HasSucceededCreate reports whether a stack completed a Create that no completed
// Delete has followed
func HasSucceededCreate(ctx context.Context, store TokenStore, stack string) (bool, error) {
	tokens, err := store.List(ctx, stack)
	if err != nil {
		return false, err
	}
	created := false
	for _, t := range tokens {
		if t.Phase != PhaseSucceeded {
			continue
		}
		switch t.EventType {
		case deployment.EventCreate:
			created = true
		case deployment.EventDelete:
			created = false
		}
	}
	return created, nil
}
