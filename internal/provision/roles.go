package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/lattiam/batchanalysis/internal/awsclient"
	"github.com/lattiam/batchanalysis/internal/deployment"
	"github.com/lattiam/batchanalysis/internal/policy"
)

const codeNoSuchEntity = "NoSuchEntity"

func (d *Deployer) resolveSecret(ctx context.Context, run *Run) error {
	name := d.cfg.Deployment.SSHKeyName
	out, err := d.clients.Secrets.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{SecretId: aws.String(name)})
	if err != nil {
		if awsclient.IsCode(err, "ResourceNotFoundException") {
			return deployment.InvalidInput(deployment.PhaseProvisioning, "ssh key secret %q does not exist", name)
		}
		return fmt.Errorf("failed to describe secret %s: %w", name, err)
	}
	run.SecretARN = aws.ToString(out.ARN)
	return nil
}

// PlannedPolicies builds both role policies from predicted ARNs. The job definition
// revision is not known before registration, so revision is supplied by the caller.
func PlannedPolicies(run *Run, secretName string, revision int) (policy.RolePolicy, policy.RolePolicy, error) {
	scope := run.Scope(secretName)
	exec, err := policy.ExecutionRole(run.Names.ExecutionRole, scope)
	if err != nil {
		return policy.RolePolicy{}, policy.RolePolicy{}, err
	}
	submission, err := policy.SubmissionRole(run.Names.SubmissionRole, scope, policy.SubmissionTargets{
		ExecutionRoleARN: RoleARN(run.Identity, run.Names.ExecutionRole),
		JobQueueARN:      BatchARN(run.Identity, run.Region, "job-queue/"+run.Names.JobQueue),
		JobDefinitionARN: BatchARN(run.Identity, run.Region, fmt.Sprintf("job-definition/%s:%d", run.Names.JobDefinition, revision)),
	})
	if err != nil {
		return policy.RolePolicy{}, policy.RolePolicy{}, err
	}
	return exec, submission, nil
}

// Plan renders both role policies for the stack without creating anything. The
// submission policy targets the first job definition revision.
func (d *Deployer) Plan(ctx context.Context) (policy.RolePolicy, policy.RolePolicy, error) {
	run, err := d.newRun(ctx)
	if err != nil {
		return policy.RolePolicy{}, policy.RolePolicy{}, err
	}
	return PlannedPolicies(run, d.cfg.Deployment.SSHKeyName, 1)
}

// ExecutionRoleARN returns the ARN the stack's execution role will have
func (d *Deployer) ExecutionRoleARN(ctx context.Context) (string, error) {
	run, err := d.newRun(ctx)
	if err != nil {
		return "", err
	}
	return RoleARN(run.Identity, run.Names.ExecutionRole), nil
}

func boundaryError(err error) error {
	return deployment.NewError(deployment.CodeInvalidInput, deployment.PhaseProvisioning,
		"role policies violate the privilege boundary", err)
}

// ensureExecutionRole checks the execution grant set against the planned submission
// grant set before anything is attached
func (d *Deployer) ensureExecutionRole(ctx context.Context, run *Run) error {
	exec, planned, err := PlannedPolicies(run, d.cfg.Deployment.SSHKeyName, 1)
	if err != nil {
		return boundaryError(err)
	}
	if err := policy.Validate(exec, planned, RoleARN(run.Identity, run.Names.ExecutionRole)); err != nil {
		return boundaryError(err)
	}

	arn, err := d.ensureRole(ctx, exec)
	if err != nil {
		return err
	}
	run.ExecutionRoleARN = arn
	run.ExecutionPolicy = exec
	return nil
}

// ensureSubmissionRole scopes the submission grant set to the concrete queue, job
// definition revision and execution role, and validates it before attaching
func (d *Deployer) ensureSubmissionRole(ctx context.Context, run *Run) error {
	submission, err := policy.SubmissionRole(run.Names.SubmissionRole, run.Scope(d.cfg.Deployment.SSHKeyName), policy.SubmissionTargets{
		ExecutionRoleARN: run.ExecutionRoleARN,
		JobQueueARN:      run.JobQueueARN,
		JobDefinitionARN: run.JobDefinitionARN,
	})
	if err != nil {
		return boundaryError(err)
	}
	if err := policy.Validate(run.ExecutionPolicy, submission, run.ExecutionRoleARN); err != nil {
		return boundaryError(err)
	}

	arn, err := d.ensureRole(ctx, submission)
	if err != nil {
		return err
	}
	if err := d.wait(ctx, "submission role "+submission.RoleName+" assumable", d.roleAssumable(arn)); err != nil {
		return err
	}
	run.SubmissionRoleARN = arn
	run.SubmissionPolicy = submission
	return nil
}

// roleAssumable reports whether the caller can open a session under the role yet.
// New roles and trust policy updates take a few seconds to propagate, during
// which AssumeRole is denied.
func (d *Deployer) roleAssumable(roleARN string) ReadyFunc {
	return func(ctx context.Context) (bool, error) {
		_, err := d.clients.Assumer.AssumeRole(ctx, &sts.AssumeRoleInput{
			RoleArn:         aws.String(roleARN),
			RoleSessionName: aws.String(awsclient.SubmitSessionName),
			DurationSeconds: aws.Int32(900),
		})
		switch {
		case err == nil:
			return true, nil
		case awsclient.IsAccessDenied(err):
			return false, nil
		default:
			return false, fmt.Errorf("failed to assume role %s: %w", roleARN, err)
		}
	}
}

func (d *Deployer) deleteExecutionRole(ctx context.Context, run *Run) error {
	return d.deleteRole(ctx, run.Names.ExecutionRole)
}

func (d *Deployer) deleteSubmissionRole(ctx context.Context, run *Run) error {
	return d.deleteRole(ctx, run.Names.SubmissionRole)
}

// ensureRole creates the role or refreshes its trust policy, then puts its inline policy
func (d *Deployer) ensureRole(ctx context.Context, rp policy.RolePolicy) (string, error) {
	trust, err := rp.TrustJSON()
	if err != nil {
		return "", err
	}
	document, err := rp.PolicyJSON()
	if err != nil {
		return "", err
	}

	var arn string
	out, err := d.clients.IAM.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(rp.RoleName)})
	switch {
	case err == nil:
		arn = aws.ToString(out.Role.Arn)
		if _, err := d.clients.IAM.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
			RoleName:       aws.String(rp.RoleName),
			PolicyDocument: aws.String(trust),
		}); err != nil {
			return "", fmt.Errorf("failed to update trust policy of %s: %w", rp.RoleName, err)
		}
	case awsclient.IsCode(err, codeNoSuchEntity):
		created, err := d.clients.IAM.CreateRole(ctx, &iam.CreateRoleInput{
			RoleName:                 aws.String(rp.RoleName),
			AssumeRolePolicyDocument: aws.String(trust),
			Description:              aws.String("Assumed by " + rp.Principal),
		})
		if err != nil {
			return "", fmt.Errorf("failed to create role %s: %w", rp.RoleName, err)
		}
		arn = aws.ToString(created.Role.Arn)
		d.logger.Info("Created role %s", rp.RoleName)
	default:
		return "", fmt.Errorf("failed to look up role %s: %w", rp.RoleName, err)
	}

	if _, err := d.clients.IAM.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(rp.RoleName),
		PolicyName:     aws.String(rp.PolicyName),
		PolicyDocument: aws.String(document),
	}); err != nil {
		return "", fmt.Errorf("failed to attach policy to %s: %w", rp.RoleName, err)
	}
	return arn, nil
}

func (d *Deployer) deleteRole(ctx context.Context, roleName string) error {
	policyName := roleName + "-policy"
	if _, err := d.clients.IAM.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
		RoleName:   aws.String(roleName),
		PolicyName: aws.String(policyName),
	}); err != nil && !awsclient.IsCode(err, codeNoSuchEntity) {
		return fmt.Errorf("failed to delete policy of %s: %w", roleName, err)
	}
	if _, err := d.clients.IAM.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(roleName)}); err != nil &&
		!awsclient.IsCode(err, codeNoSuchEntity) {
		return fmt.Errorf("failed to delete role %s: %w", roleName, err)
	}
	return nil
}

// rolePoliciesAttached is the trigger precondition on both inline policies
func (d *Deployer) rolePoliciesAttached(run *Run) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for _, rp := range []policy.RolePolicy{run.ExecutionPolicy, run.SubmissionPolicy} {
			if rp.RoleName == "" {
				return fmt.Errorf("role policies have not been built")
			}
			if _, err := d.clients.IAM.GetRolePolicy(ctx, &iam.GetRolePolicyInput{
				RoleName:   aws.String(rp.RoleName),
				PolicyName: aws.String(rp.PolicyName),
			}); err != nil {
				return fmt.Errorf("policy %s of role %s is not attached: %w", rp.PolicyName, rp.RoleName, err)
			}
		}
		return nil
	}
}
