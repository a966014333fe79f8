package state

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/batchanalysis/internal/mocks"
)

// fakeDynamoDB is an in-memory table that honours the two condition expressions
// the token store issues.
type fakeDynamoDB struct {
	mu      sync.Mutex
	created bool
	items   map[string]map[string]types.AttributeValue
	calls   *mocks.CallTracker[mocks.Call]
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{
		items: make(map[string]map[string]types.AttributeValue),
		calls: mocks.NewCallTracker[mocks.Call](),
	}
}

func itemKey(item map[string]types.AttributeValue) string {
	stack := item[attrStack].(*types.AttributeValueMemberS).Value
	req := item[attrRequestID].(*types.AttributeValueMemberS).Value
	return TokenKey(stack, req)
}

func (f *fakeDynamoDB) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.RecordCall(mocks.NewCall("DescribeTable", in, nil))
	if !f.created {
		return nil, &types.ResourceNotFoundException{Message: aws.String("no table")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (f *fakeDynamoDB) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.RecordCall(mocks.NewCall("CreateTable", in, nil))
	f.created = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamoDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.RecordCall(mocks.NewCall("PutItem", in, nil))

	key := itemKey(in.Item)
	_, exists := f.items[key]
	switch aws.ToString(in.ConditionExpression) {
	case "attribute_not_exists(RequestID)":
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case "attribute_exists(RequestID)":
		if !exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.RecordCall(mocks.NewCall("GetItem", in, nil))
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamoDB) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.RecordCall(mocks.NewCall("Query", in, nil))

	stack := in.ExpressionAttributeValues[":stack"].(*types.AttributeValueMemberS).Value
	var items []map[string]types.AttributeValue
	for _, item := range f.items {
		if item[attrStack].(*types.AttributeValueMemberS).Value == stack {
			items = append(items, item)
		}
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func TestDynamoDBTokenStore(t *testing.T) {
	t.Parallel()
	runStoreContract(t, func(t *testing.T) TokenStore {
		store, err := NewDynamoDBTokenStore(context.Background(), newFakeDynamoDB(), "tokens")
		require.NoError(t, err)
		return store
	})
}

func TestDynamoDBTokenStoreCreatesTable(t *testing.T) {
	t.Parallel()

	fake := newFakeDynamoDB()
	_, err := NewDynamoDBTokenStore(context.Background(), fake, "tokens")
	require.NoError(t, err)

	methods := mocks.Methods(fake.calls.GetCalls())
	require.GreaterOrEqual(t, len(methods), 3)
	assert.Equal(t, []string{"DescribeTable", "CreateTable", "DescribeTable"}, methods[:3])

	create := fake.calls.FilterCalls(func(c mocks.Call) bool { return c.Method == "CreateTable" })[0].Input.(*dynamodb.CreateTableInput)
	assert.Equal(t, types.BillingModePayPerRequest, create.BillingMode)
	require.Len(t, create.KeySchema, 2)
	assert.Equal(t, attrStack, aws.ToString(create.KeySchema[0].AttributeName))
	assert.Equal(t, types.KeyTypeRange, create.KeySchema[1].KeyType)

	// A second store on the existing table does not recreate it.
	_, err = NewDynamoDBTokenStore(context.Background(), fake, "tokens")
	require.NoError(t, err)
	assert.Len(t, fake.calls.FilterCalls(func(c mocks.Call) bool { return c.Method == "CreateTable" }), 1)
}

func TestDynamoDBTokenStoreRequiresTable(t *testing.T) {
	t.Parallel()

	_, err := NewDynamoDBTokenStore(context.Background(), newFakeDynamoDB(), "")
	assert.Error(t, err)
}
