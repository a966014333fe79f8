// Package trigger fires the submission controller once per deployment request and
// records the outcome in a persisted token
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/lattiam/batchanalysis/internal/deployment"
	"github.com/lattiam/batchanalysis/internal/state"
	"github.com/lattiam/batchanalysis/pkg/logging"
)

// DefaultTimeout bounds a single controller invocation
const DefaultTimeout = 5 * time.Minute

// ErrInProgress is returned when a request id is redelivered while its first delivery
// has not reached a terminal state
var ErrInProgress = errors.New("request is already being processed")

// Invoker handles a lifecycle event; the submission controller implements it
type Invoker interface {
	Handle(ctx context.Context, event deployment.LifecycleEvent) deployment.SubmissionResult
}

// Canceller retracts a submitted job
type Canceller interface {
	Cancel(ctx context.Context, jobID, reason string) error
}

// Precondition is a provisioning result that must be ready before the controller runs
type Precondition struct {
	Name  string
	Ready func(ctx context.Context) error
}

// Trigger is the lifecycle trigger for one stack
type Trigger struct {
	stack         string
	store         state.TokenStore
	invoker       Invoker
	canceller     Canceller
	preconditions []Precondition
	timeout       time.Duration
	logger        *logging.Logger
}

// Option configures a Trigger
type Option func(*Trigger)

// WithTimeout sets the invocation window
func WithTimeout(d time.Duration) Option {
	return func(t *Trigger) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithPreconditions registers preconditions checked before every Create or Update
func WithPreconditions(preconditions ...Precondition) Option {
	return func(t *Trigger) {
		t.preconditions = append(t.preconditions, preconditions...)
	}
}

// WithCompensation enables Rollback to cancel submitted jobs
func WithCompensation(canceller Canceller) Option {
	return func(t *Trigger) {
		t.canceller = canceller
	}
}

// WithLogger sets the trigger's logger
func WithLogger(logger *logging.Logger) Option {
	return func(t *Trigger) {
		t.logger = logger
	}
}

// New creates a lifecycle trigger
func New(stack string, store state.TokenStore, invoker Invoker, opts ...Option) (*Trigger, error) {
	if stack == "" {
		return nil, errors.New("stack name is required")
	}
	if store == nil {
		return nil, errors.New("token store is required")
	}
	if invoker == nil {
		return nil, errors.New("controller is required")
	}

	t := &Trigger{
		stack:   stack,
		store:   store,
		invoker: invoker,
		timeout: DefaultTimeout,
		logger:  logging.Trigger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Stack returns the stack this trigger serves
func (t *Trigger) Stack() string {
	return t.stack
}

// Fire runs one lifecycle event through the state machine. A request id seen before
// whose token is terminal returns the recorded outcome without invoking the
// controller again. Every new request id invokes it. The returned error is non-nil
// whenever the result is a failure.
func (t *Trigger) Fire(ctx context.Context, event deployment.LifecycleEvent) (deployment.SubmissionResult, error) {
	eventType, err := deployment.ParseEventType(string(event.Type))
	if err != nil {
		return deployment.Failed(err), err
	}
	event.Type = eventType

	if event.RequestID == "" {
		id, err := uuid.GenerateUUID()
		if err != nil {
			return fail(deployment.SubmissionFailed(fmt.Errorf("failed to generate request id: %w", err)))
		}
		event.RequestID = id
	}

	ctx = logging.ContextWithCorrelation(ctx, event.RequestID)
	logger := t.logger.WithContext(ctx)

	token := state.NewToken(t.stack, event.RequestID, eventType)
	if err := t.store.Create(ctx, token); err != nil {
		if errors.Is(err, state.ErrTokenExists) {
			return t.redelivered(ctx, event.RequestID)
		}
		return fail(fmt.Errorf("failed to record trigger token: %w", err))
	}

	logger.Info("Firing %s for stack %s", eventType, t.stack)

	if eventType.Submits() {
		if err := t.checkPreconditions(ctx); err != nil {
			return t.finish(ctx, token, deployment.Failed(err))
		}
	}

	token, err = token.Transition(state.PhaseInvoking)
	if err != nil {
		return fail(err)
	}
	if err := t.store.Update(ctx, token); err != nil {
		return fail(fmt.Errorf("failed to record trigger token: %w", err))
	}

	return t.finish(ctx, token, t.invoke(ctx, event))
}

func (t *Trigger) checkPreconditions(ctx context.Context) error {
	for _, p := range t.preconditions {
		if err := p.Ready(ctx); err != nil {
			t.logger.WithContext(ctx).Error("Precondition %s not met: %v", p.Name, err)
			return deployment.PreconditionFailed(p.Name, err)
		}
	}
	return nil
}

// invoke runs the controller within the invocation window
func (t *Trigger) invoke(ctx context.Context, event deployment.LifecycleEvent) deployment.SubmissionResult {
	invokeCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan deployment.SubmissionResult, 1)
	go func() {
		done <- t.invoker.Handle(invokeCtx, event)
	}()

	select {
	case result := <-done:
		return result
	case <-invokeCtx.Done():
		if errors.Is(invokeCtx.Err(), context.DeadlineExceeded) {
			return deployment.Failed(deployment.Timeout(deployment.PhaseSubmission,
				fmt.Sprintf("controller did not respond within %s", t.timeout), invokeCtx.Err()))
		}
		return deployment.Failed(deployment.SubmissionFailed(invokeCtx.Err()))
	}
}

// finish records the terminal state. Persisting uses a context detached from
// cancellation so an expired invocation window still leaves a terminal token.
func (t *Trigger) finish(ctx context.Context, token state.Token, result deployment.SubmissionResult) (deployment.SubmissionResult, error) {
	logger := t.logger.WithContext(ctx)

	next := state.PhaseSucceeded
	if !result.OK() {
		next = state.PhaseFailed
	}
	token, err := token.Transition(next)
	if err != nil {
		return fail(err)
	}
	token = token.Record(result)

	if err := t.store.Update(context.WithoutCancel(ctx), token); err != nil {
		logger.Error("Failed to record %s outcome for request %s: %v", next, token.RequestID, err)
	}

	if result.OK() {
		logger.Success(ctx, "fire", token.EventType, result.JobID)
		return result, nil
	}
	logger.Failure(ctx, "fire", result.Err)
	return result, result.Err
}

func (t *Trigger) redelivered(ctx context.Context, requestID string) (deployment.SubmissionResult, error) {
	existing, err := t.store.Get(ctx, t.stack, requestID)
	if err != nil {
		return fail(fmt.Errorf("failed to load trigger token: %w", err))
	}
	if !existing.Phase.Terminal() {
		return fail(deployment.NewError(deployment.CodeSubmissionFailed, deployment.PhaseSubmission,
			fmt.Sprintf("request %s is %s", requestID, existing.Phase), ErrInProgress))
	}

	t.logger.WithContext(ctx).Info("Request %s already %s, returning recorded result", requestID, existing.Phase)
	result := existing.Result()
	if result.OK() {
		return result, nil
	}
	return result, result.Err
}

func fail(err error) (deployment.SubmissionResult, error) {
	return deployment.Failed(err), err
}

// Token returns the recorded token of a request
func (t *Trigger) Token(ctx context.Context, requestID string) (state.Token, error) {
	return t.store.Get(ctx, t.stack, requestID)
}

// History returns every recorded token of the stack, oldest first
func (t *Trigger) History(ctx context.Context) ([]state.Token, error) {
	return t.store.List(ctx, t.stack)
}

// IsFirstDeployment reports whether the stack has not yet completed a Create
func (t *Trigger) IsFirstDeployment(ctx context.Context) (bool, error) {
	created, err := state.HasSucceededCreate(ctx, t.store, t.stack)
	return !created, err
}
