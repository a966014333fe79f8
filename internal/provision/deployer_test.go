package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	batchtypes "github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/batchanalysis/internal/config"
	"github.com/lattiam/batchanalysis/internal/deployment"
	"github.com/lattiam/batchanalysis/internal/mocks"
	"github.com/lattiam/batchanalysis/internal/policy"
	"github.com/lattiam/batchanalysis/internal/staging"
	"github.com/lattiam/batchanalysis/internal/state"
	"github.com/lattiam/batchanalysis/internal/submit"
)

const (
	testAccount   = "123456789012"
	testSSHKey    = "k1"
	testBucket    = "code-analysis-staging-123456789012"
	testQueueARN  = "arn:aws:batch:us-east-1:123456789012:job-queue/code-analysis-queue"
	testExecARN   = "arn:aws:iam::123456789012:role/code-analysis-job-execution"
	testSubmitARN = "arn:aws:iam::123456789012:role/code-analysis-submit-job"
)

type fixture struct {
	cfg      *config.Config
	store    *state.MemoryTokenStore
	batch    *mocks.Batch
	iam      *mocks.IAM
	s3       *mocks.S3
	ssm      *mocks.SSM
	ec2      *mocks.EC2
	secrets  *mocks.Secrets
	identity *mocks.Identity
	deployer *Deployer

	submitMu    sync.Mutex
	submitRoles []string
}

// submitAs stands in for the assumed-role client factory and records the role
func (f *fixture) submitAs(roleARN string) submit.BatchAPI {
	f.submitMu.Lock()
	defer f.submitMu.Unlock()
	f.submitRoles = append(f.submitRoles, roleARN)
	return f.batch
}

func (f *fixture) submittedAs() []string {
	f.submitMu.Lock()
	defer f.submitMu.Unlock()
	return append([]string(nil), f.submitRoles...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	scripts := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "process.sh"), []byte("#!/bin/sh\necho analyse\n"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(scripts, "lib"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "lib", "common.sh"), []byte("true\n"), 0o600))

	cfg := config.NewConfig()
	cfg.Deployment = config.DeploymentConfig{
		AppName:    "qb",
		AppRoleARN: "arn:aws:iam::123456789012:role/app",
		RepoURL:    "https://example.com/repo.git",
		UserID:     "user-1",
		SSHURL:     "git@example.com:org/repo.git",
		SSHKeyName: testSSHKey,
	}
	cfg.Staging.ScriptsDir = scripts
	cfg.Trigger.PollInterval = time.Millisecond
	cfg.Trigger.ProvisionTimeout = time.Second
	cfg.Trigger.Timeout = time.Second
	cfg.StateStore.Type = "memory"
	return cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, testConfig(t))
}

func newFixtureWithConfig(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()

	f := &fixture{
		cfg:     cfg,
		store:   state.NewMemoryTokenStore(),
		batch:   mocks.NewBatch(),
		iam:     mocks.NewIAM(),
		s3:      mocks.NewS3(),
		ssm:     mocks.NewSSM(),
		ec2:     mocks.NewEC2(),
		secrets:  mocks.NewSecrets(testSSHKey),
		identity: mocks.NewIdentity(),
	}

	var mu sync.Mutex
	seq := 0
	d, err := New(cfg, Clients{
		SSM:      f.ssm,
		S3:       f.s3,
		EC2:      f.ec2,
		Batch:    f.batch,
		IAM:      f.iam,
		Secrets:  f.secrets,
		Identity: f.identity,
		Assumer:  f.identity,
		SubmitAs: f.submitAs,
	}, f.store, WithRequestIDGenerator(func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("req-%d", seq), nil
	}))
	require.NoError(t, err)
	f.deployer = d
	return f
}

func (f *fixture) callCount(calls *mocks.CallTracker[mocks.Call], method string) int {
	return len(calls.FilterCalls(func(c mocks.Call) bool { return c.Method == method }))
}

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	clients := f.deployer.clients

	_, err := New(nil, clients, f.store)
	assert.Error(t, err)
	_, err = New(f.cfg, clients, nil)
	assert.Error(t, err)

	clients.IAM = nil
	_, err = New(f.cfg, clients, f.store)
	assert.ErrorContains(t, err, "iam client is required")

	clients = f.deployer.clients
	clients.SubmitAs = nil
	_, err = New(f.cfg, clients, f.store)
	assert.ErrorContains(t, err, "submit client factory is required")
}

func TestDeployCreatesPipelineAndSubmitsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	outputs, err := f.deployer.Deploy(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testQueueARN, outputs.JobQueueARN)
	assert.Equal(t, testExecARN, outputs.ExecutionRoleARN)
	assert.Equal(t, testSubmitARN, outputs.SubmissionRoleARN)
	assert.Equal(t, "job-0001", outputs.JobID)
	assert.Equal(t, "Create", outputs.EventType)
	assert.Equal(t, "req-1", outputs.RequestID)
	assert.Equal(t, "ssm:/code-analysis/prompt-config", outputs.PromptConfigRef)

	// parameter distributor
	value, ok := f.ssm.Value("/code-analysis/prompt-config")
	require.True(t, ok)
	prompts, err := staging.DecodePrompts(value)
	require.NoError(t, err)
	assert.Equal(t, staging.DefaultPrompts(), prompts)

	// staging area
	bucket, ok := f.s3.Bucket(testBucket)
	require.True(t, ok)
	assert.True(t, aws.ToBool(bucket.PublicAccessBlock.BlockPublicPolicy))
	assert.Equal(t, s3types.ServerSideEncryptionAes256,
		bucket.Encryption.Rules[0].ApplyServerSideEncryptionByDefault.SSEAlgorithm)
	assert.Contains(t, bucket.Policy, "aws:SecureTransport")
	_, ok = f.s3.Object(testBucket, "code-processing/process.sh")
	assert.True(t, ok)
	_, ok = f.s3.Object(testBucket, "code-processing/lib/common.sh")
	assert.True(t, ok)

	saved, ok := f.s3.Object(testBucket, "stack-outputs/code-analysis.json")
	require.True(t, ok)
	var decoded Outputs
	require.NoError(t, json.Unmarshal(saved, &decoded))
	assert.Equal(t, outputs, decoded)

	// compute cluster and queue
	ce, ok := f.batch.ComputeEnvironment("code-analysis-compute")
	require.True(t, ok)
	assert.Equal(t, batchtypes.CRTypeFargate, ce.ComputeResources.Type)
	assert.Equal(t, []string{"subnet-0a", "subnet-0b"}, ce.ComputeResources.Subnets)
	assert.Equal(t, []string{"sg-0default"}, ce.ComputeResources.SecurityGroupIds)

	queue, ok := f.batch.JobQueue("code-analysis-queue")
	require.True(t, ok)
	assert.Equal(t, int32(1), aws.ToInt32(queue.Priority))
	require.Len(t, queue.ComputeEnvironmentOrder, 1)
	assert.Equal(t, int32(1), aws.ToInt32(queue.ComputeEnvironmentOrder[0].Order))
	assert.Equal(t, ce.ComputeEnvironmentArn, queue.ComputeEnvironmentOrder[0].ComputeEnvironment)

	// job definition
	require.Len(t, f.batch.ActiveJobDefinitions(), 1)
	registered := f.batch.Calls.FilterCalls(func(c mocks.Call) bool { return c.Method == "RegisterJobDefinition" })
	require.Len(t, registered, 1)
	container := registered[0].Input.(*batch.RegisterJobDefinitionInput).ContainerProperties
	assert.Equal(t, config.DefaultImage, aws.ToString(container.Image))
	assert.Equal(t, testExecARN, aws.ToString(container.ExecutionRoleArn))
	assert.Equal(t, testExecARN, aws.ToString(container.JobRoleArn))
	assert.Equal(t, int32(21), aws.ToInt32(container.EphemeralStorage.SizeInGiB))
	assert.Equal(t, []batchtypes.ResourceRequirement{
		{Type: batchtypes.ResourceTypeVcpu, Value: aws.String("1")},
		{Type: batchtypes.ResourceTypeMemory, Value: aws.String("2048")},
	}, container.ResourceRequirements)

	// roles
	exec, ok := f.iam.Role("code-analysis-job-execution")
	require.True(t, ok)
	assert.Contains(t, exec.Trust, policy.ExecutionPrincipal)
	submitRole, ok := f.iam.Role("code-analysis-submit-job")
	require.True(t, ok)
	assert.Contains(t, submitRole.Trust, policy.SubmissionPrincipal)
	assert.Contains(t, submitRole.Trust, "arn:aws:iam::123456789012:root")
	assert.NotContains(t, exec.Trust, "arn:aws:iam::123456789012:root")

	var submitDoc policy.Document
	require.NoError(t, json.Unmarshal([]byte(submitRole.Policies["code-analysis-submit-job-policy"]), &submitDoc))
	assert.Equal(t, []string{testExecARN}, submitDoc.ResourcesFor(policy.ActionPassRole))
	assert.ElementsMatch(t, []string{testQueueARN, outputs.JobDefinitionARN}, submitDoc.ResourcesFor(policy.ActionSubmitJob))

	// exactly one submission carrying every environment key
	submissions := f.batch.Submissions()
	require.Len(t, submissions, 1)
	assert.Equal(t, testQueueARN, aws.ToString(submissions[0].JobQueue))
	assert.Equal(t, outputs.JobDefinitionARN, aws.ToString(submissions[0].JobDefinition))
	env := make(map[string]string)
	for _, kv := range submissions[0].ContainerOverrides.Environment {
		env[aws.ToString(kv.Name)] = aws.ToString(kv.Value)
	}
	assert.Len(t, env, len(deployment.EnvironmentKeys))
	assert.Equal(t, testBucket, env[deployment.EnvBucket])
	assert.Equal(t, "ssm:/code-analysis/prompt-config", env[deployment.EnvPromptConfigRef])

	token, err := f.store.Get(context.Background(), "code-analysis", "req-1")
	require.NoError(t, err)
	assert.Equal(t, state.PhaseSucceeded, token.Phase)
	assert.Equal(t, "job-0001", token.JobID)

	// the controller submits under the submission role, not the deploying caller
	assert.Equal(t, []string{testSubmitARN}, f.submittedAs())
	assert.Equal(t, []string{testSubmitARN}, f.identity.Assumed())
}

func TestDeployWaitsForSubmissionRoleToBeAssumable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.identity.DeniedAssumes = 2

	outputs, err := f.deployer.Deploy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job-0001", outputs.JobID)
	assert.Equal(t, []string{testSubmitARN, testSubmitARN, testSubmitARN}, f.identity.Assumed())
	assert.Len(t, f.batch.Submissions(), 1)
}

func TestDeployTwiceFiresUpdate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first, err := f.deployer.Deploy(context.Background())
	require.NoError(t, err)
	second, err := f.deployer.Deploy(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Create", first.EventType)
	assert.Equal(t, "Update", second.EventType)
	assert.NotEqual(t, first.JobID, second.JobID)
	assert.Equal(t, 2, f.batch.SubmitCount())

	assert.Equal(t, 1, f.callCount(f.batch.Calls, "CreateComputeEnvironment"))
	assert.Equal(t, 1, f.callCount(f.batch.Calls, "UpdateComputeEnvironment"))
	assert.Equal(t, 1, f.callCount(f.batch.Calls, "CreateJobQueue"))
	assert.Equal(t, 2, f.callCount(f.iam.Calls, "CreateRole"))
	assert.Equal(t, 2, f.callCount(f.iam.Calls, "UpdateAssumeRolePolicy"))
	assert.Equal(t, 1, f.callCount(f.s3.Calls, "CreateBucket"))
	assert.Contains(t, second.JobDefinitionARN, ":2")
}

func TestDeployFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		setup     func(f *fixture)
		wantIs    error
		wantPhase deployment.Phase
		want      string
	}{
		{
			name:      "missing deployment parameter",
			setup:     func(f *fixture) { f.cfg.Deployment.AppName = "" },
			wantIs:    deployment.ErrInvalidInput,
			wantPhase: deployment.PhaseProvisioning,
			want:      config.EnvAppName,
		},
		{
			name:      "missing ssh key secret",
			setup:     func(f *fixture) { delete(f.secrets.Names, testSSHKey) },
			wantIs:    deployment.ErrInvalidInput,
			wantPhase: deployment.PhaseProvisioning,
			want:      "step secret",
		},
		{
			name:      "missing entrypoint",
			setup:     func(f *fixture) { f.cfg.Staging.Entrypoint = "main.sh" },
			wantIs:    deployment.ErrInvalidInput,
			wantPhase: deployment.PhaseProvisioning,
			want:      "entrypoint main.sh not found",
		},
		{
			name:      "no default vpc",
			setup:     func(f *fixture) { f.ec2.VpcID = "" },
			wantIs:    deployment.ErrInvalidInput,
			wantPhase: deployment.PhaseProvisioning,
			want:      "no default VPC",
		},
		{
			name: "denied role creation",
			setup: func(f *fixture) {
				f.iam.FailOn("CreateRole", mocks.APIError("AccessDenied", "User is not authorized to perform: iam:CreateRole"))
			},
			wantIs:    deployment.ErrPermissionDenied,
			wantPhase: deployment.PhaseProvisioning,
			want:      "step execution-role",
		},
		{
			name: "role policy not attached",
			setup: func(f *fixture) {
				f.iam.FailOn("GetRolePolicy", mocks.APIError("NoSuchEntity", "policy missing"))
			},
			wantIs:    deployment.ErrPreconditionFailed,
			wantPhase: deployment.PhaseProvisioning,
			want:      PreconditionRolePolicies,
		},
		{
			name: "job definition not active",
			setup: func(f *fixture) {
				f.batch.FailOn("DescribeJobDefinitions", errors.New("throttled"))
			},
			wantIs:    deployment.ErrPreconditionFailed,
			wantPhase: deployment.PhaseProvisioning,
			want:      PreconditionJobDefinition,
		},
		{
			name: "submission rejected",
			setup: func(f *fixture) {
				f.batch.SubmitErr = mocks.APIError("ClientException", "job queue is disabled")
			},
			wantIs:    deployment.ErrSubmissionFailed,
			wantPhase: deployment.PhaseSubmission,
			want:      "job queue rejected the submission",
		},
		{
			name: "submission denied",
			setup: func(f *fixture) {
				f.batch.SubmitErr = mocks.APIError("AccessDeniedException", "denied")
			},
			wantIs:    deployment.ErrPermissionDenied,
			wantPhase: deployment.PhaseSubmission,
			want:      "submission role lacks a required grant",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			tt.setup(f)

			_, err := f.deployer.Deploy(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantIs)
			assert.Equal(t, tt.wantPhase, deployment.PhaseOf(err))
			assert.Contains(t, err.Error(), tt.want)

			_, saved := f.s3.Object(testBucket, "stack-outputs/code-analysis.json")
			assert.False(t, saved)
			if tt.wantPhase == deployment.PhaseProvisioning {
				assert.Zero(t, f.batch.SubmitCount())
			}
		})
	}
}

func TestDeployOutputsFailureCompensates(t *testing.T) {
	t.Parallel()

	outputsErr := errors.New("bucket unavailable")
	failOutputs := func(input *s3.PutObjectInput) error {
		if aws.ToString(input.Key) == "stack-outputs/code-analysis.json" {
			return outputsErr
		}
		return nil
	}

	t.Run("compensation enabled cancels the job", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		cfg.Trigger.Compensate = true
		f := newFixtureWithConfig(t, cfg)
		f.s3.OnPutObject = failOutputs

		_, err := f.deployer.Deploy(context.Background())
		require.ErrorIs(t, err, outputsErr)
		assert.Equal(t, []string{"job-0001"}, f.batch.CancelledJobs())

		token, err := f.store.Get(context.Background(), "code-analysis", "req-1")
		require.NoError(t, err)
		assert.True(t, token.Retracted)
	})

	t.Run("compensation disabled leaves the job running", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.s3.OnPutObject = failOutputs

		_, err := f.deployer.Deploy(context.Background())
		require.ErrorIs(t, err, outputsErr)
		assert.Empty(t, f.batch.CancelledJobs())
	})
}

func TestDeployUsesConfiguredNetwork(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Compute.SubnetIDs = []string{"subnet-x"}
	cfg.Compute.SecurityGroupIDs = []string{"sg-x"}
	cfg.AWS.Region = "eu-west-1"
	f := newFixtureWithConfig(t, cfg)

	outputs, err := f.deployer.Deploy(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.ec2.Calls.GetCallCount())

	ce, ok := f.batch.ComputeEnvironment("code-analysis-compute")
	require.True(t, ok)
	assert.Equal(t, []string{"subnet-x"}, ce.ComputeResources.Subnets)

	bucket, ok := f.s3.Bucket(outputs.Bucket)
	require.True(t, ok)
	assert.Equal(t, "eu-west-1", bucket.Region)
}

func TestDeployCustomPrompts(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Staging.PromptsFile = filepath.Join(t.TempDir(), "prompts.json")
	require.NoError(t, os.WriteFile(cfg.Staging.PromptsFile,
		[]byte(`[{"prompt":"Summarise the file","type":"documentation"}]`), 0o600))
	f := newFixtureWithConfig(t, cfg)

	_, err := f.deployer.Deploy(context.Background())
	require.NoError(t, err)
	value, ok := f.ssm.Value("/code-analysis/prompt-config")
	require.True(t, ok)
	assert.JSONEq(t, `[{"prompt":"Summarise the file","type":"documentation"}]`, value)

	require.NoError(t, os.WriteFile(cfg.Staging.PromptsFile, []byte(`[{"prompt":"x","type":"poetry"}]`), 0o600))
	_, err = f.deployer.Deploy(context.Background())
	assert.ErrorIs(t, err, deployment.ErrInvalidInput)
}

func TestDestroy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.deployer.Deploy(ctx)
	require.NoError(t, err)

	require.NoError(t, f.deployer.Destroy(ctx, DestroyOptions{}))

	// Delete never submits
	assert.Equal(t, 1, f.batch.SubmitCount())
	token, err := f.store.Get(ctx, "code-analysis", "req-2")
	require.NoError(t, err)
	assert.Equal(t, deployment.EventDelete, token.EventType)
	assert.Equal(t, state.PhaseSucceeded, token.Phase)

	_, ok := f.iam.Role("code-analysis-job-execution")
	assert.False(t, ok)
	_, ok = f.iam.Role("code-analysis-submit-job")
	assert.False(t, ok)
	assert.Empty(t, f.batch.ActiveJobDefinitions())
	queue, _ := f.batch.JobQueue("code-analysis-queue")
	assert.Equal(t, batchtypes.JQStatusDeleted, queue.Status)
	ce, _ := f.batch.ComputeEnvironment("code-analysis-compute")
	assert.Equal(t, batchtypes.CEStatusDeleted, ce.Status)
	_, ok = f.ssm.Value("/code-analysis/prompt-config")
	assert.False(t, ok)

	_, ok = f.s3.Bucket(testBucket)
	assert.True(t, ok, "bucket is retained by default")

	// the submission role goes before the execution role it may pass
	var deleted []string
	for _, c := range f.iam.Calls.FilterCalls(func(c mocks.Call) bool { return c.Method == "DeleteRole" }) {
		deleted = append(deleted, aws.ToString(c.Input.(*iam.DeleteRoleInput).RoleName))
	}
	assert.Equal(t, []string{"code-analysis-submit-job", "code-analysis-job-execution"}, deleted)

	// a stack recreated after teardown starts with Create again
	outputs, err := f.deployer.Deploy(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Create", outputs.EventType)
}

func TestDestroyDeleteBucket(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.s3.PageSize = 1
	ctx := context.Background()
	_, err := f.deployer.Deploy(ctx)
	require.NoError(t, err)

	require.NoError(t, f.deployer.Destroy(ctx, DestroyOptions{DeleteBucket: true}))
	_, ok := f.s3.Bucket(testBucket)
	assert.False(t, ok)
	assert.Equal(t, 3, f.callCount(f.s3.Calls, "DeleteObjects"))
}

func TestDestroyNothingDeployed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.deployer.Destroy(context.Background(), DestroyOptions{DeleteBucket: true}))
	assert.Zero(t, f.batch.SubmitCount())
	assert.Zero(t, f.callCount(f.batch.Calls, "DeleteComputeEnvironment"))
}

func TestDestroyReportsEveryFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.deployer.Deploy(ctx)
	require.NoError(t, err)

	f.ssm.FailOn("DeleteParameter", errors.New("ssm down"))
	f.iam.FailOn("DeleteRole", errors.New("iam down"))

	err = f.deployer.Destroy(ctx, DestroyOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step parameters failed")
	assert.Contains(t, err.Error(), "step submission-role failed")
	assert.Contains(t, err.Error(), "step execution-role failed")

	// independent teardown still ran
	assert.Empty(t, f.batch.ActiveJobDefinitions())
}

func TestDeployRejectsInvalidConfigBeforeAnyCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{name: "bad stack name", mutate: func(cfg *config.Config) { cfg.Stack = "1-stack" }},
		{name: "zero memory", mutate: func(cfg *config.Config) { cfg.Compute.MemoryMiB = 0 }},
		{name: "ephemeral storage too small", mutate: func(cfg *config.Config) { cfg.Compute.EphemeralStorageGiB = 10 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			tt.mutate(cfg)
			f := newFixtureWithConfig(t, cfg)

			_, err := f.deployer.Deploy(context.Background())
			assert.ErrorIs(t, err, deployment.ErrInvalidInput)
			assert.Zero(t, f.batch.Calls.GetCallCount())
			assert.Zero(t, f.s3.Calls.GetCallCount())
			assert.Zero(t, f.iam.Calls.GetCallCount())
		})
	}
}

func TestPlan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	exec, submission, err := f.deployer.Plan(context.Background())
	require.NoError(t, err)
	require.NoError(t, policy.Validate(exec, submission, testExecARN))

	assert.Equal(t, []string{testExecARN}, submission.Document.ResourcesFor(policy.ActionPassRole))
	assert.ElementsMatch(t, []string{
		testQueueARN,
		"arn:aws:batch:us-east-1:123456789012:job-definition/code-analysis-analysis:1",
	}, submission.Document.ResourcesFor(policy.ActionSubmitJob))
	assert.Zero(t, f.iam.Calls.GetCallCount())

	arn, err := f.deployer.ExecutionRoleARN(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testExecARN, arn)
}
