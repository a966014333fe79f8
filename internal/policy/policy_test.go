package policy

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testExecRoleARN = "arn:aws:iam::123456789012:role/analysis-exec"
	testQueueARN    = "arn:aws:batch:us-east-1:123456789012:job-queue/analysis"
	testJobDefARN   = "arn:aws:batch:us-east-1:123456789012:job-definition/analysis:3"
)

func testScope() Scope {
	return Scope{
		Partition:     "aws",
		Region:        "us-east-1",
		AccountID:     "123456789012",
		Bucket:        "stg-1",
		ParameterName: "/cfg/1",
		SecretName:    "k1",
	}
}

func testTargets() SubmissionTargets {
	return SubmissionTargets{
		ExecutionRoleARN: testExecRoleARN,
		JobQueueARN:      testQueueARN,
		JobDefinitionARN: testJobDefARN,
	}
}

func buildPair(t *testing.T, scope Scope, targets SubmissionTargets) (RolePolicy, RolePolicy) {
	t.Helper()
	exec, err := ExecutionRole("analysis-exec", scope)
	require.NoError(t, err)
	submit, err := SubmissionRole("analysis-submit", scope, targets)
	require.NoError(t, err)
	return exec, submit
}

func TestExecutionRoleGrants(t *testing.T) {
	t.Parallel()

	exec, err := ExecutionRole("analysis-exec", testScope())
	require.NoError(t, err)

	assert.Equal(t, ExecutionPrincipal, exec.Principal)
	assert.Equal(t, []string{"arn:aws:qbusiness:us-east-1:123456789012:application/*"},
		exec.Document.ResourcesFor("qbusiness:ChatSync"))
	assert.Equal(t, []string{"arn:aws:logs:us-east-1:123456789012:log-group:/aws/batch/*"},
		exec.Document.ResourcesFor("logs:PutLogEvents"))
	assert.ElementsMatch(t, []string{"arn:aws:s3:::stg-1", "arn:aws:s3:::stg-1/*"},
		exec.Document.ResourcesFor("s3:PutObject"))
	assert.Equal(t, []string{"arn:aws:ssm:us-east-1:123456789012:parameter/cfg/1"},
		exec.Document.ResourcesFor("ssm:GetParameter"))
	assert.Equal(t, []string{"arn:aws:secretsmanager:us-east-1:123456789012:secret:k1-??????"},
		exec.Document.ResourcesFor("secretsmanager:GetSecretValue"))

	assert.False(t, exec.Document.Allows(ActionSubmitJob))
	assert.False(t, exec.Document.Allows(ActionPassRole))
}

func TestSubmissionRoleGrants(t *testing.T) {
	t.Parallel()

	submit, err := SubmissionRole("analysis-submit", testScope(), testTargets())
	require.NoError(t, err)

	assert.Equal(t, SubmissionPrincipal, submit.Principal)
	assert.Equal(t, []string{"arn:aws:iam::123456789012:root"}, submit.TrustedAccounts)
	assert.Equal(t, []string{"*"}, submit.Document.ResourcesFor("qbusiness:ListApplications"))
	assert.Equal(t, []string{testExecRoleARN}, submit.Document.ResourcesFor(ActionPassRole))
	assert.ElementsMatch(t, []string{testQueueARN, testJobDefARN}, submit.Document.ResourcesFor(ActionSubmitJob))
	assert.Equal(t, []string{"arn:aws:logs:us-east-1:123456789012:log-group:/aws/lambda/*"},
		submit.Document.ResourcesFor("logs:CreateLogStream"))

	for _, action := range ExecuteActions {
		assert.False(t, submit.Document.Allows(action), "submission role must not be granted %s", action)
	}
}

// The two grant sets stay partitioned for every generated scope.
func TestRolesPartitionedAcrossScopes(t *testing.T) {
	t.Parallel()

	partitions := []string{"aws", "aws-cn", "aws-us-gov"}
	regions := []string{"us-east-1", "eu-west-2", "cn-north-1"}

	for i, partition := range partitions {
		for j, region := range regions {
			scope := Scope{
				Partition:     partition,
				Region:        region,
				AccountID:     fmt.Sprintf("%012d", i*10+j+1),
				Bucket:        fmt.Sprintf("bucket-%d-%d", i, j),
				ParameterName: fmt.Sprintf("/cfg/%d", j),
				SecretName:    fmt.Sprintf("key-%d", i),
			}
			execARN := fmt.Sprintf("arn:%s:iam::%s:role/exec-%d", partition, scope.AccountID, j)
			targets := SubmissionTargets{
				ExecutionRoleARN: execARN,
				JobQueueARN:      fmt.Sprintf("arn:%s:batch:%s:%s:job-queue/q", partition, region, scope.AccountID),
				JobDefinitionARN: fmt.Sprintf("arn:%s:batch:%s:%s:job-definition/d:1", partition, region, scope.AccountID),
			}

			exec, submit := buildPair(t, scope, targets)
			require.NoError(t, Validate(exec, submit, execARN))

			for _, action := range SubmitActions {
				assert.False(t, exec.Document.Allows(action))
			}
			for _, action := range ExecuteActions {
				assert.False(t, submit.Document.Allows(action))
			}

			pass := submit.Document.ResourcesFor(ActionPassRole)
			require.Len(t, pass, 1)
			assert.Equal(t, execARN, pass[0])
			assert.False(t, isWildcard(pass[0]))
		}
	}
}

func TestValidateRejectsViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(exec, submit *RolePolicy)
		want   string
	}{
		{
			name: "execution role can submit",
			mutate: func(exec, _ *RolePolicy) {
				exec.Document.Statement = append(exec.Document.Statement, Allow("", []string{"batch:*"}, testQueueARN))
			},
			want: "is granted batch:SubmitJob",
		},
		{
			name: "execution role can pass roles",
			mutate: func(exec, _ *RolePolicy) {
				exec.Document.Statement = append(exec.Document.Statement,
					Allow("", []string{ActionPassRole}, "arn:x:role/demo"))
			},
			want: "is granted iam:PassRole",
		},
		{
			name: "submission role reads the secret",
			mutate: func(_, submit *RolePolicy) {
				submit.Document.Statement = append(submit.Document.Statement,
					Allow("", []string{"secretsmanager:GetSecretValue"}, "*"))
			},
			want: "is granted secretsmanager:GetSecretValue",
		},
		{
			name: "submission role touches staging",
			mutate: func(_, submit *RolePolicy) {
				submit.Document.Statement = append(submit.Document.Statement,
					Allow("", []string{"s3:*"}, "arn:aws:s3:::stg-1/*"))
			},
			want: "is granted s3:GetObject",
		},
		{
			name: "submission role runs tasks",
			mutate: func(_, submit *RolePolicy) {
				submit.Document.Statement = append(submit.Document.Statement, Allow("", []string{"ecs:RunTask"}, "*"))
			},
			want: "ecs:RunTask",
		},
		{
			name: "wildcard pass-role",
			mutate: func(_, submit *RolePolicy) {
				submit.Document.Statement[1].Resource = []string{"arn:aws:iam::123456789012:role/*"}
			},
			want: "is a wildcard",
		},
		{
			name: "second pass-role target",
			mutate: func(_, submit *RolePolicy) {
				submit.Document.Statement = append(submit.Document.Statement,
					Allow("", []string{"iam:Pass*"}, "arn:aws:iam::123456789012:role/other"))
			},
			want: "exactly one ARN, got 2",
		},
		{
			name: "pass-role to a different role",
			mutate: func(_, submit *RolePolicy) {
				submit.Document.Statement[1].Resource = []string{"arn:aws:iam::123456789012:role/admin"}
			},
			want: "is not the execution role",
		},
		{
			name: "wildcard submit target",
			mutate: func(_, submit *RolePolicy) {
				submit.Document.Statement[3].Resource = []string{"*"}
			},
			want: "submit-job resource \"*\" is a wildcard",
		},
		{
			name: "shared principal",
			mutate: func(exec, submit *RolePolicy) {
				submit.Principal = exec.Principal
			},
			want: "share a trust principal",
		},
		{
			name: "execution role trusts an account",
			mutate: func(exec, _ *RolePolicy) {
				exec.TrustedAccounts = []string{"arn:aws:iam::123456789012:root"}
			},
			want: "trusts account principals",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			exec, submit := buildPair(t, testScope(), testTargets())
			tt.mutate(&exec, &submit)

			err := Validate(exec, submit, testExecRoleARN)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPrivilegeBoundary)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSubmissionTargetsRejectWildcards(t *testing.T) {
	t.Parallel()

	targets := testTargets()
	targets.ExecutionRoleARN = "arn:aws:iam::123456789012:role/*"
	_, err := SubmissionRole("analysis-submit", testScope(), targets)
	assert.ErrorIs(t, err, ErrPrivilegeBoundary)

	targets = testTargets()
	targets.JobQueueARN = ""
	_, err = SubmissionRole("analysis-submit", testScope(), targets)
	assert.Error(t, err)
}

func TestScopeValidate(t *testing.T) {
	t.Parallel()

	scope := testScope()
	scope.AccountID = ""
	scope.SecretName = ""
	_, err := ExecutionRole("analysis-exec", scope)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account id, secret name")
}

func TestDocumentJSON(t *testing.T) {
	t.Parallel()

	exec, err := ExecutionRole("analysis-exec", testScope())
	require.NoError(t, err)

	rendered, err := exec.PolicyJSON()
	require.NoError(t, err)

	var decoded Document
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	assert.Equal(t, Version, decoded.Version)
	assert.Len(t, decoded.Statement, 5)

	trust, err := exec.TrustJSON()
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"Service":"ecs-tasks.amazonaws.com"},"Action":"sts:AssumeRole"}]}`,
		trust)

	_, submit := buildPair(t, testScope(), testTargets())
	trust, err = submit.TrustJSON()
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"Service":"lambda.amazonaws.com","AWS":["arn:aws:iam::123456789012:root"]},"Action":"sts:AssumeRole"}]}`,
		trust)
}

func TestActionMatches(t *testing.T) {
	t.Parallel()

	assert.True(t, actionMatches("s3:*", "s3:GetObject"))
	assert.True(t, actionMatches("*", "batch:SubmitJob"))
	assert.True(t, actionMatches("BATCH:submitjob", "batch:SubmitJob"))
	assert.True(t, actionMatches("ssm:GetParameter?", "ssm:GetParameters"))
	assert.False(t, actionMatches("ssm:GetParameter", "ssm:GetParameters"))
	assert.False(t, actionMatches("batch:List*", "batch:SubmitJob"))
}

func TestTLSOnlyBucketPolicy(t *testing.T) {
	t.Parallel()

	rendered, err := TLSOnlyBucketPolicy("aws", "stg-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"Version": "2012-10-17",
		"Statement": [{
			"Sid": "DenyInsecureTransport",
			"Effect": "Deny",
			"Principal": "*",
			"Action": "s3:*",
			"Resource": ["arn:aws:s3:::stg-1", "arn:aws:s3:::stg-1/*"],
			"Condition": {"Bool": {"aws:SecureTransport": "false"}}
		}]
	}`, rendered)

	_, err = TLSOnlyBucketPolicy("aws", "")
	assert.Error(t, err)
}
