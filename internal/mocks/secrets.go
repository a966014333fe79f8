package mocks

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Secrets is a Secrets Manager fake holding secret names
type Secrets struct {
	Faults
	Calls *CallTracker[Call]
	Names map[string]bool
}

// NewSecrets creates a Secrets fake holding the given secret names
func NewSecrets(names ...string) *Secrets {
	f := &Secrets{Calls: NewCallTracker[Call](), Names: make(map[string]bool)}
	for _, n := range names {
		f.Names[n] = true
	}
	return f
}

// DescribeSecret returns the ARN of a known secret
func (f *Secrets) DescribeSecret(_ context.Context, params *secretsmanager.DescribeSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	err := f.failure("DescribeSecret")
	f.Calls.RecordCall(NewCall("DescribeSecret", params, err))
	if err != nil {
		return nil, err
	}
	name := aws.ToString(params.SecretId)
	if !f.Names[name] {
		return nil, APIError("ResourceNotFoundException", "Secrets Manager can't find the specified secret.")
	}
	return &secretsmanager.DescribeSecretOutput{
		ARN:  aws.String("arn:aws:secretsmanager:us-east-1:123456789012:secret:" + name + "-AbCdEf"),
		Name: aws.String(name),
	}, nil
}
