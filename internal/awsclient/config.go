// Package awsclient loads AWS configuration and builds the service clients used by
// provisioning, submission and the token stores
package awsclient

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Environment variables that switch client construction to LocalStack
const (
	EnvUseLocalStack      = "BATCHANALYSIS_USE_LOCALSTACK"
	EnvLocalStackEndpoint = "LOCALSTACK_ENDPOINT"
)

// Options selects the region and an optional endpoint override
type Options struct {
	Region   string
	Endpoint string
	Profile  string
}

// IsLocalStack reports whether the endpoint or environment points at LocalStack
func IsLocalStack(endpoint string) bool {
	if endpoint != "" {
		lower := strings.ToLower(endpoint)
		if strings.Contains(lower, "localstack") || strings.Contains(lower, "localhost") || strings.Contains(lower, "127.0.0.1") {
			return true
		}
	}
	return os.Getenv(EnvUseLocalStack) == "true" || os.Getenv(EnvLocalStackEndpoint) != ""
}

// LoadConfig loads AWS configuration. LocalStack endpoints get static test credentials.
func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = os.Getenv(EnvLocalStackEndpoint)
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.Profile != "" {
		loadOptions = append(loadOptions, config.WithSharedConfigProfile(opts.Profile))
	}
	if IsLocalStack(opts.Endpoint) {
		loadOptions = append(loadOptions,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if opts.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(opts.Endpoint)
	}
	return cfg, nil
}

// Clients bundles the service clients built from one configuration
type Clients struct {
	Config         aws.Config
	Batch          *batch.Client
	DynamoDB       *dynamodb.Client
	EC2            *ec2.Client
	IAM            *iam.Client
	S3             *s3.Client
	SecretsManager *secretsmanager.Client
	SSM            *ssm.Client
	STS            *sts.Client
}

// NewClients builds every service client from cfg
func NewClients(cfg aws.Config) *Clients {
	localStack := cfg.BaseEndpoint != nil && IsLocalStack(aws.ToString(cfg.BaseEndpoint))
	return &Clients{
		Config:   cfg,
		Batch:    batch.NewFromConfig(cfg),
		DynamoDB: dynamodb.NewFromConfig(cfg),
		EC2:      ec2.NewFromConfig(cfg),
		IAM:      iam.NewFromConfig(cfg),
		S3: s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = localStack
		}),
		SecretsManager: secretsmanager.NewFromConfig(cfg),
		SSM:            ssm.NewFromConfig(cfg),
		STS:            sts.NewFromConfig(cfg),
	}
}

// SubmitSessionName names the STS sessions opened under the submission role
const SubmitSessionName = "batchanalysis-submit"

// AssumeRole returns a copy of cfg whose credentials come from assuming roleARN
// with cfg's own credentials. Credentials are fetched on first use and cached
// until they expire.
func AssumeRole(cfg aws.Config, api stscreds.AssumeRoleAPIClient, roleARN, sessionName string) aws.Config {
	provider := stscreds.NewAssumeRoleProvider(api, roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = sessionName
	})
	assumed := cfg.Copy()
	assumed.Credentials = aws.NewCredentialsCache(provider)
	return assumed
}

// SubmitClient builds the submission controller's Batch client running as roleARN.
// The controller never retries, so the SDK retryer is limited to a single attempt.
func SubmitClient(cfg aws.Config, api stscreds.AssumeRoleAPIClient, roleARN string) *batch.Client {
	return batch.NewFromConfig(AssumeRole(cfg, api, roleARN, SubmitSessionName), func(o *batch.Options) {
		o.RetryMaxAttempts = 1
	})
}
