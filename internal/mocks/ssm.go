package mocks

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSM is an in-memory Parameter Store fake
type SSM struct {
	Faults
	Calls *CallTracker[Call]

	mu       sync.Mutex
	values   map[string]string
	versions map[string]int64
}

// NewSSM creates an SSM fake
func NewSSM() *SSM {
	return &SSM{Calls: NewCallTracker[Call](), values: make(map[string]string), versions: make(map[string]int64)}
}

func (f *SSM) record(method string, input interface{}) error {
	err := f.failure(method)
	f.Calls.RecordCall(NewCall(method, input, err))
	return err
}

// PutParameter stores a parameter value
func (f *SSM) PutParameter(_ context.Context, params *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	if err := f.record("PutParameter", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if _, exists := f.values[name]; exists && !aws.ToBool(params.Overwrite) {
		return nil, APIError("ParameterAlreadyExists", "The parameter already exists.")
	}
	f.values[name] = aws.ToString(params.Value)
	f.versions[name]++
	return &ssm.PutParameterOutput{Version: f.versions[name]}, nil
}

// GetParameter returns a stored value
func (f *SSM) GetParameter(_ context.Context, params *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if err := f.record("GetParameter", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	value, ok := f.values[name]
	if !ok {
		return nil, APIError("ParameterNotFound", "")
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name:    aws.String(name),
		Value:   aws.String(value),
		Type:    types.ParameterTypeString,
		Version: f.versions[name],
	}}, nil
}

// DeleteParameter removes a parameter
func (f *SSM) DeleteParameter(_ context.Context, params *ssm.DeleteParameterInput, _ ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error) {
	if err := f.record("DeleteParameter", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if _, ok := f.values[name]; !ok {
		return nil, APIError("ParameterNotFound", "")
	}
	delete(f.values, name)
	return &ssm.DeleteParameterOutput{}, nil
}

// Value returns a stored value
func (f *SSM) Value(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[name]
	return v, ok
}
