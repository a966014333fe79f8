package deployment

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

const batchService = "batch"

// JobDefinitionRef identifies a registered job definition by ARN
type JobDefinitionRef string

// JobQueueRef identifies a job queue by ARN
type JobQueueRef string

// Validate checks that the reference is a job definition ARN
func (r JobDefinitionRef) Validate() error {
	return validateBatchARN(string(r), "job-definition/", "jobDefinitionRef")
}

// Validate checks that the reference is a job queue ARN
func (r JobQueueRef) Validate() error {
	return validateBatchARN(string(r), "job-queue/", "jobQueueRef")
}

// String returns the raw ARN
func (r JobDefinitionRef) String() string { return string(r) }

// String returns the raw ARN
func (r JobQueueRef) String() string { return string(r) }

func validateBatchARN(value, resourcePrefix, field string) error {
	if value == "" {
		return InvalidInput(PhaseSubmission, "%s is required", field)
	}
	parsed, err := arn.Parse(value)
	if err != nil {
		return NewError(CodeInvalidInput, PhaseSubmission, fmt.Sprintf("%s is not an ARN", field), err)
	}
	if parsed.Service != batchService {
		return InvalidInput(PhaseSubmission, "%s must be a %s ARN, got service %q", field, batchService, parsed.Service)
	}
	name := strings.TrimPrefix(parsed.Resource, resourcePrefix)
	if name == parsed.Resource || name == "" {
		return InvalidInput(PhaseSubmission, "%s resource must start with %q", field, resourcePrefix)
	}
	return nil
}
