// Package handlers provides HTTP request handlers for the API server.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-uuid"

	"github.com/lattiam/batchanalysis/internal/apiserver/types"
	"github.com/lattiam/batchanalysis/internal/deployment"
	"github.com/lattiam/batchanalysis/internal/state"
	"github.com/lattiam/batchanalysis/internal/trigger"
	"github.com/lattiam/batchanalysis/pkg/logging"
)

// EventTrigger runs lifecycle events and exposes what it recorded
type EventTrigger interface {
	Stack() string
	Fire(ctx context.Context, event deployment.LifecycleEvent) (deployment.SubmissionResult, error)
	Token(ctx context.Context, requestID string) (state.Token, error)
	History(ctx context.Context) ([]state.Token, error)
}

// EventHandler serves lifecycle events for one stack
type EventHandler struct {
	trigger EventTrigger
	logger  *logging.Logger
}

// NewEventHandler creates an event handler
func NewEventHandler(t EventTrigger) (*EventHandler, error) {
	if t == nil {
		return nil, errors.New("trigger is required")
	}
	return &EventHandler{trigger: t, logger: logging.Server}, nil
}

// FireEvent accepts a lifecycle event in either the native or the custom resource
// shape, runs it through the trigger and replies with the submission outcome.
// Failures still carry the outcome body; the status code reflects the error code.
func (h *EventHandler) FireEvent(w http.ResponseWriter, r *http.Request) {
	ctx := logging.ContextWithCorrelation(r.Context(), middleware.GetReqID(r.Context()))
	logger := h.logger.WithContext(ctx)

	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "Request body must be a JSON object")
		return
	}

	event, err := deployment.DecodeEvent(raw)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, types.EventResponse{Response: deployment.Failed(err).Response()})
		return
	}

	if event.RequestID == "" {
		id, err := uuid.GenerateUUID()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "request_id", "Failed to generate a request id")
			return
		}
		event.RequestID = id
	}

	logger.Info("Received %s event %s for stack %s", event.Type, event.RequestID, h.trigger.Stack())
	result, err := h.trigger.Fire(ctx, event)
	WriteJSON(w, StatusFor(err), types.EventResponse{RequestID: event.RequestID, Response: result.Response()})
}

// GetEvent returns the recorded outcome of one request
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	token, err := h.trigger.Token(r.Context(), requestID)
	if errors.Is(err, state.ErrTokenNotFound) {
		WriteError(w, http.StatusNotFound, "not_found", "No event recorded for request "+requestID)
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "state_error", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, types.FromToken(token))
}

// ListEvents returns every recorded event of the stack, oldest first
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.trigger.History(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "state_error", err.Error())
		return
	}
	events := types.FromTokens(tokens)
	WriteJSON(w, http.StatusOK, types.EventListResponse{
		Stack:  h.trigger.Stack(),
		Events: events,
		Total:  len(events),
	})
}

// StatusFor maps a trigger error onto an HTTP status
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, trigger.ErrInProgress) {
		return http.StatusConflict
	}
	depErr, ok := deployment.AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch depErr.Code {
	case deployment.CodeInvalidInput:
		return http.StatusBadRequest
	case deployment.CodePermissionDenied:
		return http.StatusForbidden
	case deployment.CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case deployment.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
