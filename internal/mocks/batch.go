package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
)

const batchARNPrefix = "arn:aws:batch:us-east-1:123456789012:"

// Batch is a fake job platform client. Submissions and cancellations are recorded;
// compute environments, job queues and job definitions are held in memory and move
// from CREATING to VALID on the next describe.
type Batch struct {
	Faults
	Calls *CallTracker[Call]

	// SubmitErr, when set, is returned by every SubmitJob call
	SubmitErr error
	// CancelErr, when set, is returned by every CancelJob call
	CancelErr error
	// OnSubmit runs before a submission is accepted; a non-nil error fails the call
	OnSubmit func(ctx context.Context, input *batch.SubmitJobInput) error

	mu       sync.Mutex
	next     int
	computes map[string]*types.ComputeEnvironmentDetail
	queues   map[string]*types.JobQueueDetail
	jobDefs  []*types.JobDefinition
}

// NewBatch creates a Batch fake
func NewBatch() *Batch {
	return &Batch{
		Calls:    NewCallTracker[Call](),
		computes: make(map[string]*types.ComputeEnvironmentDetail),
		queues:   make(map[string]*types.JobQueueDetail),
	}
}

// SubmitJob records the submission and returns a sequential job id
func (b *Batch) SubmitJob(ctx context.Context, params *batch.SubmitJobInput, _ ...func(*batch.Options)) (*batch.SubmitJobOutput, error) {
	err := b.SubmitErr
	if err == nil && b.OnSubmit != nil {
		err = b.OnSubmit(ctx, params)
	}
	b.Calls.RecordCall(NewCall("SubmitJob", params, err))
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.next++
	id := fmt.Sprintf("job-%04d", b.next)
	b.mu.Unlock()

	return &batch.SubmitJobOutput{
		JobId:   aws.String(id),
		JobName: params.JobName,
		JobArn:  aws.String(batchARNPrefix + "job/" + id),
	}, nil
}

// CancelJob records the cancellation
func (b *Batch) CancelJob(_ context.Context, params *batch.CancelJobInput, _ ...func(*batch.Options)) (*batch.CancelJobOutput, error) {
	b.Calls.RecordCall(NewCall("CancelJob", params, b.CancelErr))
	if b.CancelErr != nil {
		return nil, b.CancelErr
	}
	return &batch.CancelJobOutput{}, nil
}

// Submissions returns the recorded submit inputs, successful or not
func (b *Batch) Submissions() []*batch.SubmitJobInput {
	var inputs []*batch.SubmitJobInput
	for _, c := range b.Calls.FilterCalls(func(c Call) bool { return c.Method == "SubmitJob" }) {
		inputs = append(inputs, c.Input.(*batch.SubmitJobInput))
	}
	return inputs
}

// SubmitCount returns the number of SubmitJob calls
func (b *Batch) SubmitCount() int {
	return len(b.Submissions())
}

// CancelledJobs returns the ids passed to CancelJob
func (b *Batch) CancelledJobs() []string {
	var ids []string
	for _, c := range b.Calls.FilterCalls(func(c Call) bool { return c.Method == "CancelJob" }) {
		ids = append(ids, aws.ToString(c.Input.(*batch.CancelJobInput).JobId))
	}
	return ids
}

func (b *Batch) record(method string, input interface{}) error {
	err := b.failure(method)
	b.Calls.RecordCall(NewCall(method, input, err))
	return err
}

// CreateComputeEnvironment stores a CREATING compute environment
func (b *Batch) CreateComputeEnvironment(_ context.Context, params *batch.CreateComputeEnvironmentInput, _ ...func(*batch.Options)) (*batch.CreateComputeEnvironmentOutput, error) {
	if err := b.record("CreateComputeEnvironment", params); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	name := aws.ToString(params.ComputeEnvironmentName)
	if ce, ok := b.computes[name]; ok && ce.Status != types.CEStatusDeleted {
		return nil, APIError("ClientException", "compute environment "+name+" already exists")
	}
	arn := batchARNPrefix + "compute-environment/" + name
	b.computes[name] = &types.ComputeEnvironmentDetail{
		ComputeEnvironmentArn:  aws.String(arn),
		ComputeEnvironmentName: aws.String(name),
		Type:                   params.Type,
		State:                  params.State,
		Status:                 types.CEStatusCreating,
		ComputeResources:       params.ComputeResources,
	}
	return &batch.CreateComputeEnvironmentOutput{ComputeEnvironmentArn: aws.String(arn), ComputeEnvironmentName: aws.String(name)}, nil
}

// DescribeComputeEnvironments returns stored environments matching a name or ARN and
// advances their status
func (b *Batch) DescribeComputeEnvironments(_ context.Context, params *batch.DescribeComputeEnvironmentsInput, _ ...func(*batch.Options)) (*batch.DescribeComputeEnvironmentsOutput, error) {
	if err := b.record("DescribeComputeEnvironments", params); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := &batch.DescribeComputeEnvironmentsOutput{}
	for _, ref := range params.ComputeEnvironments {
		for name, ce := range b.computes {
			if ref != name && ref != aws.ToString(ce.ComputeEnvironmentArn) {
				continue
			}
			switch ce.Status {
			case types.CEStatusCreating, types.CEStatusUpdating:
				ce.Status = types.CEStatusValid
			case types.CEStatusDeleting:
				ce.Status = types.CEStatusDeleted
			}
			out.ComputeEnvironments = append(out.ComputeEnvironments, *ce)
		}
	}
	return out, nil
}

// UpdateComputeEnvironment changes state and resources of a stored environment
func (b *Batch) UpdateComputeEnvironment(_ context.Context, params *batch.UpdateComputeEnvironmentInput, _ ...func(*batch.Options)) (*batch.UpdateComputeEnvironmentOutput, error) {
	if err := b.record("UpdateComputeEnvironment", params); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ce, ok := b.computes[aws.ToString(params.ComputeEnvironment)]
	if !ok {
		return nil, APIError("ClientException", "compute environment not found")
	}
	if params.State != "" {
		ce.State = params.State
	}
	ce.Status = types.CEStatusUpdating
	return &batch.UpdateComputeEnvironmentOutput{ComputeEnvironmentArn: ce.ComputeEnvironmentArn}, nil
}

// DeleteComputeEnvironment marks an environment DELETING
func (b *Batch) DeleteComputeEnvironment(_ context.Context, params *batch.DeleteComputeEnvironmentInput, _ ...func(*batch.Options)) (*batch.DeleteComputeEnvironmentOutput, error) {
	if err := b.record("DeleteComputeEnvironment", params); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ce, ok := b.computes[aws.ToString(params.ComputeEnvironment)]
	if !ok {
		return nil, APIError("ClientException", "compute environment not found")
	}
	ce.Status = types.CEStatusDeleting
	return &batch.DeleteComputeEnvironmentOutput{}, nil
}

// CreateJobQueue stores a CREATING job queue
func (b *Batch) CreateJobQueue(_ context.Context, params *batch.CreateJobQueueInput, _ ...func(*batch.Options)) (*batch.CreateJobQueueOutput, error) {
	if err := b.record("CreateJobQueue", params); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	name := aws.ToString(params.JobQueueName)
	if q, ok := b.queues[name]; ok && q.Status != types.JQStatusDeleted {
		return nil, APIError("ClientException", "job queue "+name+" already exists")
	}
	arn := batchARNPrefix + "job-queue/" + name
	b.queues[name] = &types.JobQueueDetail{
		JobQueueArn:             aws.String(arn),
		JobQueueName:            aws.String(name),
		Priority:                params.Priority,
		State:                   params.State,
		Status:                  types.JQStatusCreating,
		ComputeEnvironmentOrder: params.ComputeEnvironmentOrder,
	}
	return &batch.CreateJobQueueOutput{JobQueueArn: aws.String(arn), JobQueueName: aws.String(name)}, nil
}

// DescribeJobQueues returns stored queues matching a name or ARN and advances their status
func (b *Batch) DescribeJobQueues(_ context.Context, params *batch.DescribeJobQueuesInput, _ ...func(*batch.Options)) (*batch.DescribeJobQueuesOutput, error) {
	if err := b.record("DescribeJobQueues", params); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := &batch.DescribeJobQueuesOutput{}
	for _, ref := range params.JobQueues {
		for name, q := range b.queues {
			if ref != name && ref != aws.ToString(q.JobQueueArn) {
				continue
			}
			switch q.Status {
			case types.JQStatusCreating, types.JQStatusUpdating:
				q.Status = types.JQStatusValid
			case types.JQStatusDeleting:
				q.Status = types.JQStatusDeleted
			}
			out.JobQueues = append(out.JobQueues, *q)
		}
	}
	return out, nil
}

// UpdateJobQueue changes a stored queue
func (b *Batch) UpdateJobQueue(_ context.Context, params *batch.UpdateJobQueueInput, _ ...func(*batch.Options)) (*batch.UpdateJobQueueOutput, error) {
	if err := b.record("UpdateJobQueue", params); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[aws.ToString(params.JobQueue)]
	if !ok {
		return nil, APIError("ClientException", "job queue not found")
	}
	if params.State != "" {
		q.State = params.State
	}
	if params.Priority != nil {
		q.Priority = params.Priority
	}
	if params.ComputeEnvironmentOrder != nil {
		q.ComputeEnvironmentOrder = params.ComputeEnvironmentOrder
	}
	q.Status = types.JQStatusUpdating
	return &batch.UpdateJobQueueOutput{JobQueueArn: q.JobQueueArn, JobQueueName: q.JobQueueName}, nil
}

// DeleteJobQueue marks a queue DELETING
func (b *Batch) DeleteJobQueue(_ context.Context, params *batch.DeleteJobQueueInput, _ ...func(*batch.Options)) (*batch.DeleteJobQueueOutput, error) {
	if err := b.record("DeleteJobQueue", params); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[aws.ToString(params.JobQueue)]
	if !ok {
		return nil, APIError("ClientException", "job queue not found")
	}
	q.Status = types.JQStatusDeleting
	return &batch.DeleteJobQueueOutput{}, nil
}

// RegisterJobDefinition stores a new ACTIVE revision
func (b *Batch) RegisterJobDefinition(_ context.Context, params *batch.RegisterJobDefinitionInput, _ ...func(*batch.Options)) (*batch.RegisterJobDefinitionOutput, error) {
	if err := b.record("RegisterJobDefinition", params); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	name := aws.ToString(params.JobDefinitionName)
	revision := int32(1)
	for _, def := range b.jobDefs {
		if aws.ToString(def.JobDefinitionName) == name {
			revision++
		}
	}
	arn := fmt.Sprintf("%sjob-definition/%s:%d", batchARNPrefix, name, revision)
	b.jobDefs = append(b.jobDefs, &types.JobDefinition{
		JobDefinitionArn:     aws.String(arn),
		JobDefinitionName:    aws.String(name),
		Revision:             aws.Int32(revision),
		Status:               aws.String("ACTIVE"),
		Type:                 aws.String(string(params.Type)),
		PlatformCapabilities: params.PlatformCapabilities,
		ContainerProperties:  params.ContainerProperties,
	})
	return &batch.RegisterJobDefinitionOutput{
		JobDefinitionArn:  aws.String(arn),
		JobDefinitionName: aws.String(name),
		Revision:          aws.Int32(revision),
	}, nil
}

// DescribeJobDefinitions filters stored revisions by ARN, name and status
func (b *Batch) DescribeJobDefinitions(_ context.Context, params *batch.DescribeJobDefinitionsInput, _ ...func(*batch.Options)) (*batch.DescribeJobDefinitionsOutput, error) {
	if err := b.record("DescribeJobDefinitions", params); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := &batch.DescribeJobDefinitionsOutput{}
	for _, def := range b.jobDefs {
		if len(params.JobDefinitions) > 0 && !contains(params.JobDefinitions, aws.ToString(def.JobDefinitionArn)) {
			continue
		}
		if params.JobDefinitionName != nil && aws.ToString(params.JobDefinitionName) != aws.ToString(def.JobDefinitionName) {
			continue
		}
		if params.Status != nil && aws.ToString(params.Status) != aws.ToString(def.Status) {
			continue
		}
		out.JobDefinitions = append(out.JobDefinitions, *def)
	}
	return out, nil
}

// DeregisterJobDefinition marks a revision INACTIVE
func (b *Batch) DeregisterJobDefinition(_ context.Context, params *batch.DeregisterJobDefinitionInput, _ ...func(*batch.Options)) (*batch.DeregisterJobDefinitionOutput, error) {
	if err := b.record("DeregisterJobDefinition", params); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, def := range b.jobDefs {
		if aws.ToString(def.JobDefinitionArn) == aws.ToString(params.JobDefinition) {
			def.Status = aws.String("INACTIVE")
		}
	}
	return &batch.DeregisterJobDefinitionOutput{}, nil
}

// ComputeEnvironment returns a stored environment by name
func (b *Batch) ComputeEnvironment(name string) (types.ComputeEnvironmentDetail, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ce, ok := b.computes[name]
	if !ok {
		return types.ComputeEnvironmentDetail{}, false
	}
	return *ce, true
}

// JobQueue returns a stored queue by name
func (b *Batch) JobQueue(name string) (types.JobQueueDetail, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return types.JobQueueDetail{}, false
	}
	return *q, true
}

// ActiveJobDefinitions returns the ARNs of ACTIVE revisions
func (b *Batch) ActiveJobDefinitions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var arns []string
	for _, def := range b.jobDefs {
		if aws.ToString(def.Status) == "ACTIVE" {
			arns = append(arns, aws.ToString(def.JobDefinitionArn))
		}
	}
	return arns
}

func contains(items []string, item string) bool {
	for _, i := range items {
		if i == item {
			return true
		}
	}
	return false
}
