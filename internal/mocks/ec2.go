package mocks

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// EC2 is a fake of a single default VPC with its subnets and default security group
type EC2 struct {
	Faults
	Calls *CallTracker[Call]

	VpcID           string
	SubnetIDs       []string
	SecurityGroupID string
}

// NewEC2 creates an EC2 fake with a default VPC
func NewEC2() *EC2 {
	return &EC2{
		Calls:           NewCallTracker[Call](),
		VpcID:           "vpc-0default",
		SubnetIDs:       []string{"subnet-0b", "subnet-0a"},
		SecurityGroupID: "sg-0default",
	}
}

func (f *EC2) record(method string, input interface{}) error {
	err := f.failure(method)
	f.Calls.RecordCall(NewCall(method, input, err))
	return err
}

func filterValue(filters []types.Filter, name string) ([]string, bool) {
	for _, filter := range filters {
		if aws.ToString(filter.Name) == name {
			return filter.Values, true
		}
	}
	return nil, false
}

func (f *EC2) matchesVpc(filters []types.Filter) bool {
	values, ok := filterValue(filters, "vpc-id")
	return !ok || contains(values, f.VpcID)
}

// DescribeVpcs returns the default VPC when it matches the filters
func (f *EC2) DescribeVpcs(_ context.Context, params *ec2.DescribeVpcsInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	if err := f.record("DescribeVpcs", params); err != nil {
		return nil, err
	}
	out := &ec2.DescribeVpcsOutput{}
	if f.VpcID == "" {
		return out, nil
	}
	if len(params.VpcIds) > 0 && !contains(params.VpcIds, f.VpcID) {
		return out, nil
	}
	if values, ok := filterValue(params.Filters, "is-default"); ok && !contains(values, "true") {
		return out, nil
	}
	out.Vpcs = []types.Vpc{{VpcId: aws.String(f.VpcID), IsDefault: aws.Bool(true)}}
	return out, nil
}

// DescribeSubnets returns the VPC's subnets
func (f *EC2) DescribeSubnets(_ context.Context, params *ec2.DescribeSubnetsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	if err := f.record("DescribeSubnets", params); err != nil {
		return nil, err
	}
	out := &ec2.DescribeSubnetsOutput{}
	if !f.matchesVpc(params.Filters) {
		return out, nil
	}
	for _, id := range f.SubnetIDs {
		out.Subnets = append(out.Subnets, types.Subnet{SubnetId: aws.String(id), VpcId: aws.String(f.VpcID)})
	}
	return out, nil
}

// DescribeSecurityGroups returns the VPC's default security group
func (f *EC2) DescribeSecurityGroups(_ context.Context, params *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	if err := f.record("DescribeSecurityGroups", params); err != nil {
		return nil, err
	}
	out := &ec2.DescribeSecurityGroupsOutput{}
	if !f.matchesVpc(params.Filters) || f.SecurityGroupID == "" {
		return out, nil
	}
	out.SecurityGroups = []types.SecurityGroup{{
		GroupId:   aws.String(f.SecurityGroupID),
		GroupName: aws.String("default"),
		VpcId:     aws.String(f.VpcID),
	}}
	return out, nil
}
