package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"
)

// Identity is an STS fake returning a fixed caller
type Identity struct {
	Account string
	ARN     string
	Err     error
	// DeniedAssumes is how many AssumeRole calls are denied before one succeeds
	DeniedAssumes int

	mu      sync.Mutex
	assumed []string
}

// NewIdentity creates an Identity fake for account 123456789012
func NewIdentity() *Identity {
	return &Identity{Account: "123456789012", ARN: "arn:aws:iam::123456789012:user/operator"}
}

// GetCallerIdentity returns the configured caller
func (f *Identity) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.Account),
		Arn:     aws.String(f.ARN),
		UserId:  aws.String("AIDAFAKE"),
	}, nil
}

// AssumeRole records the role and returns session credentials once the denied
// attempts are used up
func (f *Identity) AssumeRole(_ context.Context, in *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.assumed = append(f.assumed, aws.ToString(in.RoleArn))
	if f.DeniedAssumes > 0 {
		f.DeniedAssumes--
		return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized to perform: sts:AssumeRole"}
	}
	return &sts.AssumeRoleOutput{Credentials: &ststypes.Credentials{
		AccessKeyId:     aws.String("ASIAFAKE"),
		SecretAccessKey: aws.String("secret"),
		SessionToken:    aws.String("session"),
		Expiration:      aws.Time(time.Now().Add(time.Hour)),
	}}, nil
}

// Assumed returns the role ARNs passed to AssumeRole in call order
func (f *Identity) Assumed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.assumed...)
}
