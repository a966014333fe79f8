package provision

import (
	"encoding/json"
	"fmt"

	"github.com/lattiam/batchanalysis/internal/awsclient"
	"github.com/lattiam/batchanalysis/internal/deployment"
	"github.com/lattiam/batchanalysis/internal/policy"
)

// Run is the state shared by the steps of one provisioning run
type Run struct {
	Names    Names
	Identity awsclient.Identity
	Region   string

	RequestID string
	EventType deployment.EventType

	PromptConfigRef       string
	SubnetIDs             []string
	SecurityGroupIDs      []string
	SecretARN             string
	ComputeEnvironmentARN string
	JobQueueARN           string
	ExecutionRoleARN      string
	JobDefinitionARN      string
	SubmissionRoleARN     string
	StagedKeys            []string

	ExecutionPolicy  policy.RolePolicy
	SubmissionPolicy policy.RolePolicy

	Result deployment.SubmissionResult
}

// Scope locates the resources the execution role may touch
func (r *Run) Scope(secretName string) policy.Scope {
	return policy.Scope{
		Partition:     r.Identity.Partition,
		Region:        r.Region,
		AccountID:     r.Identity.AccountID,
		Bucket:        r.Names.Bucket,
		ParameterName: r.Names.Parameter,
		SecretName:    secretName,
	}
}

// Outputs are the values a deployment reports to the operator
type Outputs struct {
	Stack                 string `json:"stack"`
	JobQueueARN           string `json:"jobQueueArn"`
	ExecutionRoleARN      string `json:"jobExecutionRoleArn"`
	JobDefinitionARN      string `json:"jobDefinitionArn,omitempty"`
	SubmissionRoleARN     string `json:"submitJobRoleArn,omitempty"`
	ComputeEnvironmentARN string `json:"computeEnvironmentArn,omitempty"`
	Bucket                string `json:"bucket,omitempty"`
	PromptConfigRef       string `json:"promptConfigRef,omitempty"`
	RequestID             string `json:"requestId,omitempty"`
	EventType             string `json:"eventType,omitempty"`
	JobID                 string `json:"jobId,omitempty"`
}

// Outputs collects the run's results
func (r *Run) Outputs() Outputs {
	return Outputs{
		Stack:                 r.Names.Stack,
		JobQueueARN:           r.JobQueueARN,
		ExecutionRoleARN:      r.ExecutionRoleARN,
		JobDefinitionARN:      r.JobDefinitionARN,
		SubmissionRoleARN:     r.SubmissionRoleARN,
		ComputeEnvironmentARN: r.ComputeEnvironmentARN,
		Bucket:                r.Names.Bucket,
		PromptConfigRef:       r.PromptConfigRef,
		RequestID:             r.RequestID,
		EventType:             string(r.EventType),
		JobID:                 r.Result.JobID,
	}
}

// JSON renders the outputs
func (o Outputs) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outputs: %w", err)
	}
	return data, nil
}
