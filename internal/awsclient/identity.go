package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// IdentityAPI is the subset of the STS client used to resolve the caller
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Identity is the account and partition the caller's credentials belong to
type Identity struct {
	AccountID string
	Partition string
	ARN       string
}

// CallerIdentity resolves the account id and partition of the current credentials
func CallerIdentity(ctx context.Context, api IdentityAPI) (Identity, error) {
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, fmt.Errorf("failed to get caller identity: %w", err)
	}

	id := Identity{
		AccountID: aws.ToString(out.Account),
		ARN:       aws.ToString(out.Arn),
		Partition: "aws",
	}
	if parsed, err := arn.Parse(id.ARN); err == nil {
		id.Partition = parsed.Partition
	}
	if id.AccountID == "" {
		return Identity{}, fmt.Errorf("caller identity carried no account id")
	}
	return id, nil
}
