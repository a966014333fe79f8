package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/lattiam/batchanalysis/internal/awsclient"
	"github.com/lattiam/batchanalysis/internal/submit"
)

// SSMAPI is the subset of the SSM client used for the prompt configuration parameter
type SSMAPI interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
}

// S3API is the subset of the S3 client used for the staging bucket
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutPublicAccessBlock(ctx context.Context, params *s3.PutPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error)
	PutBucketEncryption(ctx context.Context, params *s3.PutBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error)
	PutBucketPolicy(ctx context.Context, params *s3.PutBucketPolicyInput, optFns ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// EC2API is the subset of the EC2 client used to discover the compute network
type EC2API interface {
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
}

// BatchAPI is the subset of the Batch client used to provision the compute cluster,
// queue and job definition
type BatchAPI interface {
	CreateComputeEnvironment(ctx context.Context, params *batch.CreateComputeEnvironmentInput, optFns ...func(*batch.Options)) (*batch.CreateComputeEnvironmentOutput, error)
	DescribeComputeEnvironments(ctx context.Context, params *batch.DescribeComputeEnvironmentsInput, optFns ...func(*batch.Options)) (*batch.DescribeComputeEnvironmentsOutput, error)
	UpdateComputeEnvironment(ctx context.Context, params *batch.UpdateComputeEnvironmentInput, optFns ...func(*batch.Options)) (*batch.UpdateComputeEnvironmentOutput, error)
	DeleteComputeEnvironment(ctx context.Context, params *batch.DeleteComputeEnvironmentInput, optFns ...func(*batch.Options)) (*batch.DeleteComputeEnvironmentOutput, error)
	CreateJobQueue(ctx context.Context, params *batch.CreateJobQueueInput, optFns ...func(*batch.Options)) (*batch.CreateJobQueueOutput, error)
	DescribeJobQueues(ctx context.Context, params *batch.DescribeJobQueuesInput, optFns ...func(*batch.Options)) (*batch.DescribeJobQueuesOutput, error)
	UpdateJobQueue(ctx context.Context, params *batch.UpdateJobQueueInput, optFns ...func(*batch.Options)) (*batch.UpdateJobQueueOutput, error)
	DeleteJobQueue(ctx context.Context, params *batch.DeleteJobQueueInput, optFns ...func(*batch.Options)) (*batch.DeleteJobQueueOutput, error)
	RegisterJobDefinition(ctx context.Context, params *batch.RegisterJobDefinitionInput, optFns ...func(*batch.Options)) (*batch.RegisterJobDefinitionOutput, error)
	DescribeJobDefinitions(ctx context.Context, params *batch.DescribeJobDefinitionsInput, optFns ...func(*batch.Options)) (*batch.DescribeJobDefinitionsOutput, error)
	DeregisterJobDefinition(ctx context.Context, params *batch.DeregisterJobDefinitionInput, optFns ...func(*batch.Options)) (*batch.DeregisterJobDefinitionOutput, error)
}

// IAMAPI is the subset of the IAM client used for the two roles
type IAMAPI interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	UpdateAssumeRolePolicy(ctx context.Context, params *iam.UpdateAssumeRolePolicyInput, optFns ...func(*iam.Options)) (*iam.UpdateAssumeRolePolicyOutput, error)
	PutRolePolicy(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
	GetRolePolicy(ctx context.Context, params *iam.GetRolePolicyInput, optFns ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error)
	DeleteRolePolicy(ctx context.Context, params *iam.DeleteRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
	DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
}

// SecretsAPI is the subset of the Secrets Manager client used to resolve the SSH key secret
type SecretsAPI interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// Clients groups the AWS APIs provisioning talks to
type Clients struct {
	SSM      SSMAPI
	S3       S3API
	EC2      EC2API
	Batch    BatchAPI
	IAM      IAMAPI
	Secrets  SecretsAPI
	Identity awsclient.IdentityAPI
	// Assumer opens sessions under the submission role
	Assumer stscreds.AssumeRoleAPIClient
	// SubmitAs builds the submission controller's client running as the given role
	SubmitAs func(roleARN string) submit.BatchAPI
}

// ClientsFrom adapts the SDK clients
func ClientsFrom(c *awsclient.Clients) Clients {
	return Clients{
		SSM:      c.SSM,
		S3:       c.S3,
		EC2:      c.EC2,
		Batch:    c.Batch,
		IAM:      c.IAM,
		Secrets:  c.SecretsManager,
		Identity: c.STS,
		Assumer:  c.STS,
		SubmitAs: func(roleARN string) submit.BatchAPI {
			return awsclient.SubmitClient(c.Config, c.STS, roleARN)
		},
	}
}

func (c Clients) validate() error {
	for name, v := range map[string]interface{}{
		"ssm":             c.SSM,
		"s3":              c.S3,
		"ec2":             c.EC2,
		"batch":           c.Batch,
		"iam":             c.IAM,
		"secrets manager": c.Secrets,
		"sts":             c.Identity,
		"assume role":     c.Assumer,
	} {
		if v == nil {
			return fmt.Errorf("%s client is required", name)
		}
	}
	if c.SubmitAs == nil {
		return errors.New("submit client factory is required")
	}
	return nil
}
