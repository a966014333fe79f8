package provision

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	batchtypes "github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/lattiam/batchanalysis/internal/deployment"
)

const (
	jobQueuePriority      = 1
	computeEnvironmentOrd = 1
	jobDefinitionActive   = "ACTIVE"
	jobScriptDir          = "/opt/analysis"
)

// JobCommand is the container command: fetch the staged scripts and run the entrypoint
func JobCommand(prefix, entrypoint string) []string {
	script := fmt.Sprintf(
		"set -eu; dnf install -y awscli >/dev/null; "+
			"aws s3 cp --recursive \"s3://${%s}/%s/\" %s/; exec sh %s/%s",
		deployment.EnvBucket, prefix, jobScriptDir, jobScriptDir, entrypoint)
	return []string{"sh", "-c", script}
}

func (d *Deployer) resolveNetwork(ctx context.Context, run *Run) error {
	run.SubnetIDs = append([]string(nil), d.cfg.Compute.SubnetIDs...)
	run.SecurityGroupIDs = append([]string(nil), d.cfg.Compute.SecurityGroupIDs...)
	if len(run.SubnetIDs) > 0 && len(run.SecurityGroupIDs) > 0 {
		return nil
	}

	vpcID := d.cfg.Compute.VpcID
	if vpcID == "" {
		out, err := d.clients.EC2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
			Filters: []ec2types.Filter{{Name: aws.String("is-default"), Values: []string{"true"}}},
		})
		if err != nil {
			return fmt.Errorf("failed to find the default VPC: %w", err)
		}
		if len(out.Vpcs) == 0 {
			return deployment.InvalidInput(deployment.PhaseProvisioning,
				"no default VPC in %s; configure a VPC or subnets and security groups", run.Region)
		}
		vpcID = aws.ToString(out.Vpcs[0].VpcId)
	}
	vpcFilter := ec2types.Filter{Name: aws.String("vpc-id"), Values: []string{vpcID}}

	if len(run.SubnetIDs) == 0 {
		out, err := d.clients.EC2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{Filters: []ec2types.Filter{vpcFilter}})
		if err != nil {
			return fmt.Errorf("failed to list subnets of %s: %w", vpcID, err)
		}
		for _, subnet := range out.Subnets {
			run.SubnetIDs = append(run.SubnetIDs, aws.ToString(subnet.SubnetId))
		}
		sort.Strings(run.SubnetIDs)
	}

	if len(run.SecurityGroupIDs) == 0 {
		out, err := d.clients.EC2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
			Filters: []ec2types.Filter{vpcFilter, {Name: aws.String("group-name"), Values: []string{"default"}}},
		})
		if err != nil {
			return fmt.Errorf("failed to find the default security group of %s: %w", vpcID, err)
		}
		for _, sg := range out.SecurityGroups {
			run.SecurityGroupIDs = append(run.SecurityGroupIDs, aws.ToString(sg.GroupId))
		}
	}

	if len(run.SubnetIDs) == 0 || len(run.SecurityGroupIDs) == 0 {
		return deployment.InvalidInput(deployment.PhaseProvisioning,
			"%s has no usable subnets or security group", vpcID)
	}
	d.logger.Info("Using %d subnets and %d security groups in %s", len(run.SubnetIDs), len(run.SecurityGroupIDs), vpcID)
	return nil
}

func (d *Deployer) wait(ctx context.Context, what string, ready ReadyFunc) error {
	return waitFor(ctx, what, d.cfg.Trigger.PollInterval, d.cfg.Trigger.ProvisionTimeout, ready)
}

// describeComputeEnvironment returns nil when the environment does not exist or was deleted
func (d *Deployer) describeComputeEnvironment(ctx context.Context, name string) (*batchtypes.ComputeEnvironmentDetail, error) {
	out, err := d.clients.Batch.DescribeComputeEnvironments(ctx, &batch.DescribeComputeEnvironmentsInput{
		ComputeEnvironments: []string{name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe compute environment %s: %w", name, err)
	}
	for i := range out.ComputeEnvironments {
		ce := out.ComputeEnvironments[i]
		if ce.Status != batchtypes.CEStatusDeleted {
			return &ce, nil
		}
	}
	return nil, nil
}

func (d *Deployer) computeEnvironmentGone(name string) ReadyFunc {
	return func(ctx context.Context) (bool, error) {
		ce, err := d.describeComputeEnvironment(ctx, name)
		return ce == nil, err
	}
}

func (d *Deployer) computeEnvironmentValid(name string) ReadyFunc {
	return func(ctx context.Context) (bool, error) {
		ce, err := d.describeComputeEnvironment(ctx, name)
		if err != nil {
			return false, err
		}
		if ce == nil {
			return false, fmt.Errorf("compute environment %s disappeared", name)
		}
		switch ce.Status {
		case batchtypes.CEStatusValid:
			return true, nil
		case batchtypes.CEStatusInvalid:
			return false, fmt.Errorf("compute environment %s is INVALID: %s", name, aws.ToString(ce.StatusReason))
		}
		return false, nil
	}
}

func (d *Deployer) ensureComputeEnvironment(ctx context.Context, run *Run) error {
	name := run.Names.ComputeEnvironment

	existing, err := d.describeComputeEnvironment(ctx, name)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == batchtypes.CEStatusDeleting {
		if err := d.wait(ctx, "compute environment "+name+" deletion", d.computeEnvironmentGone(name)); err != nil {
			return err
		}
		existing = nil
	}

	maxVCPUs := aws.Int32(int32(d.cfg.Compute.MaxVCPUs)) //nolint:gosec // bounded by config validation
	if existing == nil {
		out, err := d.clients.Batch.CreateComputeEnvironment(ctx, &batch.CreateComputeEnvironmentInput{
			ComputeEnvironmentName: aws.String(name),
			Type:                   batchtypes.CETypeManaged,
			State:                  batchtypes.CEStateEnabled,
			ComputeResources: &batchtypes.ComputeResource{
				Type:             batchtypes.CRTypeFargate,
				MaxvCpus:         maxVCPUs,
				Subnets:          run.SubnetIDs,
				SecurityGroupIds: run.SecurityGroupIDs,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create compute environment %s: %w", name, err)
		}
		run.ComputeEnvironmentARN = aws.ToString(out.ComputeEnvironmentArn)
	} else {
		out, err := d.clients.Batch.UpdateComputeEnvironment(ctx, &batch.UpdateComputeEnvironmentInput{
			ComputeEnvironment: aws.String(name),
			State:              batchtypes.CEStateEnabled,
			ComputeResources: &batchtypes.ComputeResourceUpdate{
				MaxvCpus:         maxVCPUs,
				Subnets:          run.SubnetIDs,
				SecurityGroupIds: run.SecurityGroupIDs,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to update compute environment %s: %w", name, err)
		}
		run.ComputeEnvironmentARN = aws.ToString(out.ComputeEnvironmentArn)
	}

	return d.wait(ctx, "compute environment "+name, d.computeEnvironmentValid(name))
}

func (d *Deployer) deleteComputeEnvironment(ctx context.Context, run *Run) error {
	name := run.Names.ComputeEnvironment

	ce, err := d.describeComputeEnvironment(ctx, name)
	if err != nil || ce == nil {
		return err
	}

	if ce.State != batchtypes.CEStateDisabled {
		if _, err := d.clients.Batch.UpdateComputeEnvironment(ctx, &batch.UpdateComputeEnvironmentInput{
			ComputeEnvironment: aws.String(name),
			State:              batchtypes.CEStateDisabled,
		}); err != nil {
			return fmt.Errorf("failed to disable compute environment %s: %w", name, err)
		}
		if err := d.wait(ctx, "compute environment "+name, d.computeEnvironmentValid(name)); err != nil {
			return err
		}
	}

	if _, err := d.clients.Batch.DeleteComputeEnvironment(ctx, &batch.DeleteComputeEnvironmentInput{
		ComputeEnvironment: aws.String(name),
	}); err != nil {
		return fmt.Errorf("failed to delete compute environment %s: %w", name, err)
	}
	return d.wait(ctx, "compute environment "+name+" deletion", d.computeEnvironmentGone(name))
}

// describeJobQueue returns nil when the queue does not exist or was deleted
func (d *Deployer) describeJobQueue(ctx context.Context, name string) (*batchtypes.JobQueueDetail, error) {
	out, err := d.clients.Batch.DescribeJobQueues(ctx, &batch.DescribeJobQueuesInput{JobQueues: []string{name}})
	if err != nil {
		return nil, fmt.Errorf("failed to describe job queue %s: %w", name, err)
	}
	for i := range out.JobQueues {
		q := out.JobQueues[i]
		if q.Status != batchtypes.JQStatusDeleted {
			return &q, nil
		}
	}
	return nil, nil
}

func (d *Deployer) jobQueueGone(name string) ReadyFunc {
	return func(ctx context.Context) (bool, error) {
		q, err := d.describeJobQueue(ctx, name)
		return q == nil, err
	}
}

func (d *Deployer) jobQueueValid(name string) ReadyFunc {
	return func(ctx context.Context) (bool, error) {
		q, err := d.describeJobQueue(ctx, name)
		if err != nil {
			return false, err
		}
		if q == nil {
			return false, fmt.Errorf("job queue %s disappeared", name)
		}
		switch q.Status {
		case batchtypes.JQStatusValid:
			return true, nil
		case batchtypes.JQStatusInvalid:
			return false, fmt.Errorf("job queue %s is INVALID: %s", name, aws.ToString(q.StatusReason))
		}
		return false, nil
	}
}

func (d *Deployer) ensureJobQueue(ctx context.Context, run *Run) error {
	name := run.Names.JobQueue
	order := []batchtypes.ComputeEnvironmentOrder{{
		ComputeEnvironment: aws.String(run.ComputeEnvironmentARN),
		Order:              aws.Int32(computeEnvironmentOrd),
	}}

	existing, err := d.describeJobQueue(ctx, name)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == batchtypes.JQStatusDeleting {
		if err := d.wait(ctx, "job queue "+name+" deletion", d.jobQueueGone(name)); err != nil {
			return err
		}
		existing = nil
	}

	if existing == nil {
		out, err := d.clients.Batch.CreateJobQueue(ctx, &batch.CreateJobQueueInput{
			JobQueueName:            aws.String(name),
			Priority:                aws.Int32(jobQueuePriority),
			State:                   batchtypes.JQStateEnabled,
			ComputeEnvironmentOrder: order,
		})
		if err != nil {
			return fmt.Errorf("failed to create job queue %s: %w", name, err)
		}
		run.JobQueueARN = aws.ToString(out.JobQueueArn)
	} else {
		out, err := d.clients.Batch.UpdateJobQueue(ctx, &batch.UpdateJobQueueInput{
			JobQueue:                aws.String(name),
			Priority:                aws.Int32(jobQueuePriority),
			State:                   batchtypes.JQStateEnabled,
			ComputeEnvironmentOrder: order,
		})
		if err != nil {
			return fmt.Errorf("failed to update job queue %s: %w", name, err)
		}
		run.JobQueueARN = aws.ToString(out.JobQueueArn)
	}

	return d.wait(ctx, "job queue "+name, d.jobQueueValid(name))
}

func (d *Deployer) deleteJobQueue(ctx context.Context, run *Run) error {
	name := run.Names.JobQueue

	q, err := d.describeJobQueue(ctx, name)
	if err != nil || q == nil {
		return err
	}

	if q.State != batchtypes.JQStateDisabled {
		if _, err := d.clients.Batch.UpdateJobQueue(ctx, &batch.UpdateJobQueueInput{
			JobQueue: aws.String(name),
			State:    batchtypes.JQStateDisabled,
		}); err != nil {
			return fmt.Errorf("failed to disable job queue %s: %w", name, err)
		}
		if err := d.wait(ctx, "job queue "+name, d.jobQueueValid(name)); err != nil {
			return err
		}
	}

	if _, err := d.clients.Batch.DeleteJobQueue(ctx, &batch.DeleteJobQueueInput{JobQueue: aws.String(name)}); err != nil {
		return fmt.Errorf("failed to delete job queue %s: %w", name, err)
	}
	return d.wait(ctx, "job queue "+name+" deletion", d.jobQueueGone(name))
}

// registerJobDefinition registers a new revision; the execution role serves as both
// the task execution role and the job role
func (d *Deployer) registerJobDefinition(ctx context.Context, run *Run) error {
	c := d.cfg.Compute

	assignPublicIP := batchtypes.AssignPublicIpDisabled
	if c.AssignPublicIP {
		assignPublicIP = batchtypes.AssignPublicIpEnabled
	}

	out, err := d.clients.Batch.RegisterJobDefinition(ctx, &batch.RegisterJobDefinitionInput{
		JobDefinitionName:    aws.String(run.Names.JobDefinition),
		Type:                 batchtypes.JobDefinitionTypeContainer,
		PlatformCapabilities: []batchtypes.PlatformCapability{batchtypes.PlatformCapabilityFargate},
		ContainerProperties: &batchtypes.ContainerProperties{
			Image:            aws.String(c.Image),
			Command:          JobCommand(d.cfg.Staging.ScriptPrefix, d.cfg.Staging.Entrypoint),
			ExecutionRoleArn: aws.String(run.ExecutionRoleARN),
			JobRoleArn:       aws.String(run.ExecutionRoleARN),
			ResourceRequirements: []batchtypes.ResourceRequirement{
				{Type: batchtypes.ResourceTypeVcpu, Value: aws.String(strconv.FormatFloat(c.VCPU, 'f', -1, 64))},
				{Type: batchtypes.ResourceTypeMemory, Value: aws.String(strconv.Itoa(c.MemoryMiB))},
			},
			EphemeralStorage: &batchtypes.EphemeralStorage{
				SizeInGiB: aws.Int32(int32(c.EphemeralStorageGiB)), //nolint:gosec // bounded by config validation
			},
			NetworkConfiguration: &batchtypes.NetworkConfiguration{AssignPublicIp: assignPublicIP},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to register job definition %s: %w", run.Names.JobDefinition, err)
	}

	run.JobDefinitionARN = aws.ToString(out.JobDefinitionArn)
	d.logger.Info("Registered job definition %s revision %d", run.Names.JobDefinition, aws.ToInt32(out.Revision))
	return nil
}

func (d *Deployer) activeJobDefinitions(ctx context.Context, name string) ([]string, error) {
	var arns []string
	input := &batch.DescribeJobDefinitionsInput{
		JobDefinitionName: aws.String(name),
		Status:            aws.String(jobDefinitionActive),
	}
	for {
		out, err := d.clients.Batch.DescribeJobDefinitions(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to describe job definitions %s: %w", name, err)
		}
		for _, def := range out.JobDefinitions {
			arns = append(arns, aws.ToString(def.JobDefinitionArn))
		}
		if aws.ToString(out.NextToken) == "" {
			return arns, nil
		}
		input.NextToken = out.NextToken
	}
}

func (d *Deployer) deregisterJobDefinitions(ctx context.Context, run *Run) error {
	arns, err := d.activeJobDefinitions(ctx, run.Names.JobDefinition)
	if err != nil {
		return err
	}
	for _, arn := range arns {
		if _, err := d.clients.Batch.DeregisterJobDefinition(ctx, &batch.DeregisterJobDefinitionInput{
			JobDefinition: aws.String(arn),
		}); err != nil {
			return fmt.Errorf("failed to deregister %s: %w", arn, err)
		}
	}
	return nil
}

// jobDefinitionReady is the trigger precondition on the registered revision
func (d *Deployer) jobDefinitionReady(run *Run) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if run.JobDefinitionARN == "" {
			return fmt.Errorf("job definition is not registered")
		}
		out, err := d.clients.Batch.DescribeJobDefinitions(ctx, &batch.DescribeJobDefinitionsInput{
			JobDefinitions: []string{run.JobDefinitionARN},
		})
		if err != nil {
			return fmt.Errorf("failed to describe job definition: %w", err)
		}
		for _, def := range out.JobDefinitions {
			if aws.ToString(def.Status) == jobDefinitionActive {
				return nil
			}
		}
		return fmt.Errorf("job definition %s is not active", run.JobDefinitionARN)
	}
}
