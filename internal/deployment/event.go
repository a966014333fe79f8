package deployment

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// EventType is the kind of stack change a lifecycle event reports
type EventType string

// Lifecycle event types
const (
	EventCreate EventType = "Create"
	EventUpdate EventType = "Update"
	EventDelete EventType = "Delete"
)

// ParseEventType converts a case-insensitive name into an EventType
func ParseEventType(s string) (EventType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create":
		return EventCreate, nil
	case "update":
		return EventUpdate, nil
	case "delete":
		return EventDelete, nil
	default:
		return "", InvalidInput(PhaseSubmission, "unknown event type %q", s)
	}
}

// Submits reports whether the event type leads to a job submission
func (t EventType) Submits() bool {
	return t == EventCreate || t == EventUpdate
}

// LifecycleEvent is the request handed from the lifecycle trigger to the submission controller
type LifecycleEvent struct {
	RequestID     string           `json:"requestId,omitempty"`
	Type          EventType        `json:"eventType"`
	JobQueue      JobQueueRef      `json:"jobQueueRef"`
	JobDefinition JobDefinitionRef `json:"jobDefinitionRef"`
	Parameters    Parameters       `json:"parameters"`
}

// Validate checks the event. Delete events only need a known type.
func (e LifecycleEvent) Validate() error {
	eventType, err := ParseEventType(string(e.Type))
	if err != nil {
		return err
	}
	if !eventType.Submits() {
		return nil
	}

	var problems []string
	if err := e.JobDefinition.Validate(); err != nil {
		problems = append(problems, messageOf(err))
	}
	if err := e.JobQueue.Validate(); err != nil {
		problems = append(problems, messageOf(err))
	}
	if missing := e.Parameters.Missing(); len(missing) > 0 {
		problems = append(problems, "missing required parameters: "+strings.Join(missing, ", "))
	}
	if len(problems) > 0 {
		return InvalidInput(PhaseSubmission, "%s", strings.Join(problems, "; "))
	}
	return nil
}

func messageOf(err error) string {
	if depErr, ok := AsError(err); ok {
		return depErr.Detail()
	}
	return err.Error()
}

// customResourceRequest is the request shape a CloudFormation custom resource provider delivers
type customResourceRequest struct {
	RequestType        string                 `json:"RequestType"`
	RequestID          string                 `json:"RequestId"`
	ResourceProperties map[string]interface{} `json:"ResourceProperties"`
}

// DecodeEvent decodes a generic property bag into a LifecycleEvent. Both the native
// protocol shape ({eventType, jobQueueRef, jobDefinitionRef, parameters}) and the
// custom resource shape ({RequestType, RequestId, ResourceProperties}) are accepted.
func DecodeEvent(raw map[string]interface{}) (LifecycleEvent, error) {
	if raw == nil {
		return LifecycleEvent{}, InvalidInput(PhaseSubmission, "event is empty")
	}

	if _, ok := raw["RequestType"]; ok {
		return decodeCustomResource(raw)
	}

	var event LifecycleEvent
	if err := decode(raw, &event); err != nil {
		return LifecycleEvent{}, err
	}
	return event, nil
}

func decodeCustomResource(raw map[string]interface{}) (LifecycleEvent, error) {
	var req customResourceRequest
	if err := decode(raw, &req); err != nil {
		return LifecycleEvent{}, err
	}

	props := req.ResourceProperties
	if props == nil {
		props = map[string]interface{}{}
	}

	var params Parameters
	if err := decode(props, &params); err != nil {
		return LifecycleEvent{}, err
	}

	var refs struct {
		JobQueue      string `json:"jobQueueRef"`
		JobDefinition string `json:"jobDefinitionRef"`
	}
	if err := decode(props, &refs); err != nil {
		return LifecycleEvent{}, err
	}

	eventType, err := ParseEventType(req.RequestType)
	if err != nil {
		return LifecycleEvent{}, err
	}

	return LifecycleEvent{
		RequestID:     req.RequestID,
		Type:          eventType,
		JobQueue:      JobQueueRef(refs.JobQueue),
		JobDefinition: JobDefinitionRef(refs.JobDefinition),
		Parameters:    params,
	}, nil
}

func decode(input interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       stringToEventTypeHook(),
		TagName:          "json",
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return NewError(CodeInvalidInput, PhaseSubmission, "failed to decode event", err)
	}
	return nil
}

// stringToEventTypeHook normalises event type names during decoding
func stringToEventTypeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(EventType("")) {
			return data, nil
		}
		s, _ := data.(string)
		if s == "" {
			return EventType(""), nil
		}
		t, err := ParseEventType(s)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// Status is the outcome of a submission
type Status string

// Submission outcomes
const (
	StatusSuccess Status = "Success"
	StatusFailure Status = "Failure"
)

// SubmissionResult is produced by the submission controller and consumed by the lifecycle trigger
type SubmissionResult struct {
	Status Status
	JobID  string // empty for Delete
	Err    error
}

// Succeeded builds a successful result
func Succeeded(jobID string) SubmissionResult {
	return SubmissionResult{Status: StatusSuccess, JobID: jobID}
}

// Failed builds a failed result
func Failed(err error) SubmissionResult {
	if err == nil {
		err = errors.New("submission failed without a cause")
	}
	return SubmissionResult{Status: StatusFailure, Err: err}
}

// OK reports whether the submission succeeded
func (r SubmissionResult) OK() bool {
	return r.Status == StatusSuccess
}

// Response is the wire form of a SubmissionResult
type Response struct {
	Status       Status `json:"status"`
	JobID        string `json:"jobId,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Code         Code   `json:"code,omitempty"`
	Phase        Phase  `json:"phase,omitempty"`
}

// Response converts the result into its wire form
func (r SubmissionResult) Response() Response {
	if r.OK() {
		return Response{Status: StatusSuccess, JobID: r.JobID}
	}
	resp := Response{Status: StatusFailure, Phase: PhaseOf(r.Err)}
	if r.Err != nil {
		resp.ErrorMessage = r.Err.Error()
	}
	if depErr, ok := AsError(r.Err); ok {
		resp.Code = depErr.Code
	}
	return resp
}
