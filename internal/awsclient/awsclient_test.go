package awsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdentity struct {
	out *sts.GetCallerIdentityOutput
	err error
}

func (f fakeIdentity) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return f.out, f.err
}

func TestIsLocalStack(t *testing.T) {
	t.Setenv(EnvUseLocalStack, "")
	t.Setenv(EnvLocalStackEndpoint, "")

	assert.True(t, IsLocalStack("http://localhost:4566"))
	assert.True(t, IsLocalStack("http://LocalStack:4566"))
	assert.False(t, IsLocalStack("https://batch.us-east-1.amazonaws.com"))
	assert.False(t, IsLocalStack(""))

	t.Setenv(EnvUseLocalStack, "true")
	assert.True(t, IsLocalStack(""))
}

func TestLoadConfigLocalStack(t *testing.T) {
	t.Setenv(EnvLocalStackEndpoint, "")

	cfg, err := LoadConfig(context.Background(), Options{Region: "eu-west-1", Endpoint: "http://localhost:4566"})
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "http://localhost:4566", aws.ToString(cfg.BaseEndpoint))

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)

	clients := NewClients(cfg)
	assert.NotNil(t, clients.Batch)
	assert.NotNil(t, clients.S3)
}

type fakeAssumeRole struct {
	mu    sync.Mutex
	roles []string
	names []string
}

func (f *fakeAssumeRole) AssumeRole(_ context.Context, in *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles = append(f.roles, aws.ToString(in.RoleArn))
	f.names = append(f.names, aws.ToString(in.RoleSessionName))
	return &sts.AssumeRoleOutput{Credentials: &ststypes.Credentials{
		AccessKeyId:     aws.String("ASIASUBMIT"),
		SecretAccessKey: aws.String("secret"),
		SessionToken:    aws.String("session"),
		Expiration:      aws.Time(time.Now().Add(time.Hour)),
	}}, nil
}

func TestSubmitClientRunsAsRole(t *testing.T) {
	t.Parallel()

	const roleARN = "arn:aws:iam::123456789012:role/analysis-submit-job"
	base := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIAOPERATOR", "secret", ""),
	}
	assumer := &fakeAssumeRole{}

	client := SubmitClient(base, assumer, roleARN)
	opts := client.Options()
	assert.Equal(t, 1, opts.RetryMaxAttempts)

	creds, err := opts.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ASIASUBMIT", creds.AccessKeyID)
	assert.Equal(t, []string{roleARN}, assumer.roles)
	assert.Equal(t, []string{SubmitSessionName}, assumer.names)

	// Cached until expiry.
	_, err = opts.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Len(t, assumer.roles, 1)

	operator, err := base.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIAOPERATOR", operator.AccessKeyID, "base config keeps the caller's credentials")
}

func TestCallerIdentity(t *testing.T) {
	t.Parallel()

	id, err := CallerIdentity(context.Background(), fakeIdentity{out: &sts.GetCallerIdentityOutput{
		Account: aws.String("123456789012"),
		Arn:     aws.String("arn:aws-cn:iam::123456789012:user/ops"),
	}})
	require.NoError(t, err)
	assert.Equal(t, "123456789012", id.AccountID)
	assert.Equal(t, "aws-cn", id.Partition)

	_, err = CallerIdentity(context.Background(), fakeIdentity{err: errors.New("expired")})
	assert.ErrorContains(t, err, "expired")

	_, err = CallerIdentity(context.Background(), fakeIdentity{out: &sts.GetCallerIdentityOutput{}})
	assert.Error(t, err)
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	denied := &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "nope"}
	notAuthorized := &smithy.GenericAPIError{Code: "ClientException", Message: "User is not authorized to perform: batch:SubmitJob"}
	missing := fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{Code: "NoSuchEntity"})

	assert.True(t, IsAccessDenied(denied))
	assert.True(t, IsAccessDenied(notAuthorized))
	assert.False(t, IsAccessDenied(missing))
	assert.False(t, IsAccessDenied(errors.New("plain")))

	assert.Equal(t, "NoSuchEntity", ErrorCode(missing))
	assert.Empty(t, ErrorCode(errors.New("plain")))
	assert.True(t, IsCode(missing, "NotFound", "NoSuchEntity"))
	assert.False(t, IsCode(missing, "NotFound"))
	assert.False(t, IsCode(errors.New("plain"), ""))
}
