package provision

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"

	"github.com/lattiam/batchanalysis/internal/awsclient"
	"github.com/lattiam/batchanalysis/internal/config"
)

const maxBucketNameLength = 63

// Names are the deterministic resource names of one stack
type Names struct {
	Stack              string
	Parameter          string
	Bucket             string
	ComputeEnvironment string
	JobQueue           string
	JobDefinition      string
	ExecutionRole      string
	SubmissionRole     string
	OutputsKey         string
}

// NewNames derives resource names from the stack name. Configured bucket and
// parameter names take precedence.
func NewNames(cfg *config.Config, accountID string) Names {
	stack := cfg.Stack

	parameter := cfg.Staging.ParameterName
	if parameter == "" {
		parameter = "/" + stack + "/prompt-config"
	}

	bucket := cfg.Staging.Bucket
	if bucket == "" {
		bucket = strings.ToLower(stack + "-staging-" + accountID)
		if len(bucket) > maxBucketNameLength {
			bucket = strings.TrimRight(bucket[:maxBucketNameLength], "-")
		}
	}

	return Names{
		Stack:              stack,
		Parameter:          parameter,
		Bucket:             bucket,
		ComputeEnvironment: stack + "-compute",
		JobQueue:           stack + "-queue",
		JobDefinition:      stack + "-analysis",
		ExecutionRole:      stack + "-job-execution",
		SubmissionRole:     stack + "-submit-job",
		OutputsKey:         "stack-outputs/" + stack + ".json",
	}
}

// RoleARN returns the ARN an IAM role of this account will have
func RoleARN(id awsclient.Identity, roleName string) string {
	return arn.ARN{
		Partition: id.Partition,
		Service:   "iam",
		AccountID: id.AccountID,
		Resource:  "role/" + roleName,
	}.String()
}

// BatchARN returns the ARN of a Batch resource, e.g. "job-queue/<name>"
func BatchARN(id awsclient.Identity, region, resource string) string {
	return arn.ARN{
		Partition: id.Partition,
		Service:   "batch",
		Region:    region,
		AccountID: id.AccountID,
		Resource:  resource,
	}.String()
}
