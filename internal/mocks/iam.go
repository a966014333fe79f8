package mocks

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
)

// Role is an IAM role held by the IAM fake
type Role struct {
	ARN      string
	Trust    string
	Policies map[string]string
}

// IAM is an in-memory IAM fake for roles and inline policies
type IAM struct {
	Faults
	Calls *CallTracker[Call]

	mu    sync.Mutex
	roles map[string]*Role
}

// NewIAM creates an IAM fake
func NewIAM() *IAM {
	return &IAM{Calls: NewCallTracker[Call](), roles: make(map[string]*Role)}
}

func (f *IAM) record(method string, input interface{}) error {
	err := f.failure(method)
	f.Calls.RecordCall(NewCall(method, input, err))
	return err
}

func noSuchEntity(name string) error {
	return APIError("NoSuchEntity", "The role with name "+name+" cannot be found.")
}

// GetRole returns a stored role
func (f *IAM) GetRole(_ context.Context, params *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	if err := f.record("GetRole", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.RoleName)
	role, ok := f.roles[name]
	if !ok {
		return nil, noSuchEntity(name)
	}
	return &iam.GetRoleOutput{Role: &types.Role{Arn: aws.String(role.ARN), RoleName: aws.String(name)}}, nil
}

// CreateRole stores a role
func (f *IAM) CreateRole(_ context.Context, params *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	if err := f.record("CreateRole", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.RoleName)
	if _, ok := f.roles[name]; ok {
		return nil, APIError("EntityAlreadyExists", "Role with name "+name+" already exists.")
	}
	role := &Role{
		ARN:      "arn:aws:iam::123456789012:role/" + name,
		Trust:    aws.ToString(params.AssumeRolePolicyDocument),
		Policies: make(map[string]string),
	}
	f.roles[name] = role
	return &iam.CreateRoleOutput{Role: &types.Role{Arn: aws.String(role.ARN), RoleName: aws.String(name)}}, nil
}

// UpdateAssumeRolePolicy replaces a role's trust policy
func (f *IAM) UpdateAssumeRolePolicy(_ context.Context, params *iam.UpdateAssumeRolePolicyInput, _ ...func(*iam.Options)) (*iam.UpdateAssumeRolePolicyOutput, error) {
	if err := f.record("UpdateAssumeRolePolicy", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.RoleName)
	role, ok := f.roles[name]
	if !ok {
		return nil, noSuchEntity(name)
	}
	role.Trust = aws.ToString(params.PolicyDocument)
	return &iam.UpdateAssumeRolePolicyOutput{}, nil
}

// PutRolePolicy stores an inline policy
func (f *IAM) PutRolePolicy(_ context.Context, params *iam.PutRolePolicyInput, _ ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error) {
	if err := f.record("PutRolePolicy", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.RoleName)
	role, ok := f.roles[name]
	if !ok {
		return nil, noSuchEntity(name)
	}
	role.Policies[aws.ToString(params.PolicyName)] = aws.ToString(params.PolicyDocument)
	return &iam.PutRolePolicyOutput{}, nil
}

// GetRolePolicy returns an inline policy
func (f *IAM) GetRolePolicy(_ context.Context, params *iam.GetRolePolicyInput, _ ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error) {
	if err := f.record("GetRolePolicy", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.RoleName)
	role, ok := f.roles[name]
	if !ok {
		return nil, noSuchEntity(name)
	}
	doc, ok := role.Policies[aws.ToString(params.PolicyName)]
	if !ok {
		return nil, APIError("NoSuchEntity", "The role policy cannot be found.")
	}
	return &iam.GetRolePolicyOutput{
		RoleName:       params.RoleName,
		PolicyName:     params.PolicyName,
		PolicyDocument: aws.String(doc),
	}, nil
}

// DeleteRolePolicy removes an inline policy
func (f *IAM) DeleteRolePolicy(_ context.Context, params *iam.DeleteRolePolicyInput, _ ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error) {
	if err := f.record("DeleteRolePolicy", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.RoleName)
	role, ok := f.roles[name]
	if !ok {
		return nil, noSuchEntity(name)
	}
	delete(role.Policies, aws.ToString(params.PolicyName))
	return &iam.DeleteRolePolicyOutput{}, nil
}

// DeleteRole removes a role; inline policies must be deleted first
func (f *IAM) DeleteRole(_ context.Context, params *iam.DeleteRoleInput, _ ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	if err := f.record("DeleteRole", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.RoleName)
	role, ok := f.roles[name]
	if !ok {
		return nil, noSuchEntity(name)
	}
	if len(role.Policies) > 0 {
		return nil, APIError("DeleteConflict", "Cannot delete entity, must delete policies first.")
	}
	delete(f.roles, name)
	return &iam.DeleteRoleOutput{}, nil
}

// Role returns a copy of a stored role
func (f *IAM) Role(name string) (Role, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[name]
	if !ok {
		return Role{}, false
	}
	policies := make(map[string]string, len(role.Policies))
	for k, v := range role.Policies {
		policies[k] = v
	}
	return Role{ARN: role.ARN, Trust: role.Trust, Policies: policies}, true
}
