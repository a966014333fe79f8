// Package submit implements the submission controller: given a lifecycle event it
// issues at most one job submission to the job queue
package submit

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/hashicorp/go-uuid"

	"github.com/lattiam/batchanalysis/internal/awsclient"
	"github.com/lattiam/batchanalysis/internal/deployment"
	"github.com/lattiam/batchanalysis/pkg/logging"
)

// DefaultJobNamePrefix names submitted jobs when no prefix is configured
const DefaultJobNamePrefix = "code-analysis"

const maxJobNameLength = 128

// ErrNoJobID is returned when the job platform accepts a submission without returning an id
var ErrNoJobID = errors.New("submit job response carried no job id")

var invalidJobNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// BatchAPI is the subset of the Batch client the controller needs
type BatchAPI interface {
	SubmitJob(ctx context.Context, params *batch.SubmitJobInput, optFns ...func(*batch.Options)) (*batch.SubmitJobOutput, error)
	CancelJob(ctx context.Context, params *batch.CancelJobInput, optFns ...func(*batch.Options)) (*batch.CancelJobOutput, error)
}

// Controller submits the analysis job for Create and Update events
type Controller struct {
	api           BatchAPI
	logger        *logging.Logger
	jobNamePrefix string
	newID         func() (string, error)
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the controller's logger
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithJobNamePrefix sets the prefix used for job names
func WithJobNamePrefix(prefix string) Option {
	return func(c *Controller) {
		c.jobNamePrefix = prefix
	}
}

// WithIDGenerator replaces the job name suffix generator
func WithIDGenerator(gen func() (string, error)) Option {
	return func(c *Controller) {
		c.newID = gen
	}
}

// NewController creates a submission controller
func NewController(api BatchAPI, opts ...Option) (*Controller, error) {
	if api == nil {
		return nil, fmt.Errorf("batch client is required")
	}

	c := &Controller{
		api:           api,
		logger:        logging.Submit,
		jobNamePrefix: DefaultJobNamePrefix,
		newID:         uuid.GenerateUUID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Handle processes one lifecycle event. Delete is a no-op; Create and Update each
// enqueue exactly one job. The controller never retries and never waits for the job.
func (c *Controller) Handle(ctx context.Context, event deployment.LifecycleEvent) deployment.SubmissionResult {
	logger := c.logger.WithContext(ctx)

	eventType, err := deployment.ParseEventType(string(event.Type))
	if err != nil {
		logger.Failure(ctx, "validate_event", err)
		return deployment.Failed(err)
	}

	if !eventType.Submits() {
		logger.Info("Received %s event, nothing to submit", eventType)
		return deployment.Succeeded("")
	}

	if err := event.Validate(); err != nil {
		logger.Failure(ctx, "validate_event", err)
		return deployment.Failed(err)
	}

	jobName, err := c.jobName(eventType)
	if err != nil {
		return deployment.Failed(deployment.SubmissionFailed(err))
	}

	input := &batch.SubmitJobInput{
		JobName:       aws.String(jobName),
		JobQueue:      aws.String(event.JobQueue.String()),
		JobDefinition: aws.String(event.JobDefinition.String()),
		ContainerOverrides: &types.ContainerOverrides{
			Environment: environment(event.Parameters.Environment(event.JobDefinition, event.JobQueue)),
		},
	}

	logger.Operation(ctx, "submit_job", map[string]interface{}{
		"job_name":  jobName,
		"job_queue": event.JobQueue.String(),
	})

	out, err := c.api.SubmitJob(ctx, input, func(o *batch.Options) {
		o.RetryMaxAttempts = 1
	})
	if err != nil {
		classified := Classify(ctx, err)
		logger.Failure(ctx, "submit_job", classified)
		return deployment.Failed(classified)
	}
	if out == nil || aws.ToString(out.JobId) == "" {
		return deployment.Failed(deployment.SubmissionFailed(ErrNoJobID))
	}

	jobID := aws.ToString(out.JobId)
	logger.Success(ctx, "submit_job", jobID)
	return deployment.Succeeded(jobID)
}

// Cancel asks the job platform to cancel a previously submitted job
func (c *Controller) Cancel(ctx context.Context, jobID, reason string) error {
	if jobID == "" {
		return deployment.InvalidInput(deployment.PhaseSubmission, "job id is required to cancel")
	}
	_, err := c.api.CancelJob(ctx, &batch.CancelJobInput{
		JobId:  aws.String(jobID),
		Reason: aws.String(reason),
	})
	if err != nil {
		return Classify(ctx, err)
	}
	c.logger.WithContext(ctx).Info("Cancelled job %s: %s", jobID, reason)
	return nil
}

func (c *Controller) jobName(eventType deployment.EventType) (string, error) {
	id, err := c.newID()
	if err != nil {
		return "", fmt.Errorf("failed to generate job name: %w", err)
	}
	return JobName(c.jobNamePrefix, eventType, id), nil
}

// JobName builds a job name within the platform's charset and length limits
func JobName(prefix string, eventType deployment.EventType, id string) string {
	name := strings.ToLower(fmt.Sprintf("%s-%s-%s", prefix, eventType, id))
	name = invalidJobNameChars.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-_")
	if name == "" || !isAlphaNumeric(name[0]) {
		name = "job-" + name
	}
	if len(name) > maxJobNameLength {
		name = strings.TrimRight(name[:maxJobNameLength], "-_")
	}
	return name
}

func isAlphaNumeric(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func environment(env map[string]string) []types.KeyValuePair {
	pairs := make([]types.KeyValuePair, 0, len(env))
	for _, key := range deployment.SortedKeys(env) {
		pairs = append(pairs, types.KeyValuePair{
			Name:  aws.String(key),
			Value: aws.String(env[key]),
		})
	}
	return pairs
}

// Classify maps a job platform error onto the deployment error taxonomy
func Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := deployment.AsError(err); ok {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return deployment.Timeout(deployment.PhaseSubmission, "submit job call exceeded its deadline", err)
	}

	if awsclient.IsAccessDenied(err) {
		return deployment.PermissionDenied(deployment.PhaseSubmission, "submission role lacks a required grant", err)
	}

	return deployment.SubmissionFailed(err)
}
