package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/lattiam/batchanalysis/pkg/logging"
)

// DynamoDB attribute names
const (
	attrStack     = "Stack"
	attrRequestID = "RequestID"
	attrPhase     = "Phase"
	attrCreated   = "Created"
	attrToken     = "Token"
)

// DynamoDBAPI is the subset of the DynamoDB client the token store needs
type DynamoDBAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDBTokenStore keeps tokens in a DynamoDB table keyed by stack and request id.
// Creation and update use conditional writes so concurrent triggers cannot both claim
// the same request.
type DynamoDBTokenStore struct {
	client    DynamoDBAPI
	tableName string
}

// NewDynamoDBTokenStore creates the store, creating the table when it does not exist
func NewDynamoDBTokenStore(ctx context.Context, client DynamoDBAPI, tableName string) (*DynamoDBTokenStore, error) {
	if tableName == "" {
		return nil, fmt.Errorf("table name is required")
	}
	store := &DynamoDBTokenStore{client: client, tableName: tableName}
	if err := store.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure DynamoDB table exists: %w", err)
	}
	return store, nil
}

func (d *DynamoDBTokenStore) ensureTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table: %w", err)
	}

	logging.Store.Info("Creating DynamoDB token table %s", d.tableName)

	_, err = d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrStack), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrRequestID), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrStack), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrRequestID), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return fmt.Errorf("failed to create DynamoDB table: %w", err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(d.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	}, 25*time.Second); err != nil {
		return fmt.Errorf("timeout waiting for table to become active: %w", err)
	}
	return nil
}

func (d *DynamoDBTokenStore) key(stack, requestID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrStack:     &types.AttributeValueMemberS{Value: stack},
		attrRequestID: &types.AttributeValueMemberS{Value: requestID},
	}
}

func (d *DynamoDBTokenStore) put(ctx context.Context, token Token, condition string) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	item := d.key(token.Stack, token.RequestID)
	item[attrPhase] = &types.AttributeValueMemberS{Value: string(token.Phase)}
	item[attrCreated] = &types.AttributeValueMemberN{Value: strconv.FormatInt(token.CreatedAt.UnixNano(), 10)}
	item[attrToken] = &types.AttributeValueMemberS{Value: string(data)}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String(condition),
	})
	return err
}

// Create stores a new token
func (d *DynamoDBTokenStore) Create(ctx context.Context, token Token) error {
	if err := token.ValidateKey(); err != nil {
		return err
	}
	err := d.put(ctx, token, "attribute_not_exists("+attrRequestID+")")
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return ErrTokenExists
	}
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// Update overwrites an existing token
func (d *DynamoDBTokenStore) Update(ctx context.Context, token Token) error {
	if err := token.ValidateKey(); err != nil {
		return err
	}
	err := d.put(ctx, token, "attribute_exists("+attrRequestID+")")
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return nil
}

// Get loads a token with a strongly consistent read
func (d *DynamoDBTokenStore) Get(ctx context.Context, stack, requestID string) (Token, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.key(stack, requestID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Token{}, fmt.Errorf("failed to get token: %w", err)
	}
	if len(out.Item) == 0 {
		return Token{}, ErrTokenNotFound
	}
	return decodeItem(out.Item)
}

// List returns every token of a stack
func (d *DynamoDBTokenStore) List(ctx context.Context, stack string) ([]Token, error) {
	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("#stack = :stack"),
		ExpressionAttributeNames: map[string]string{
			"#stack": attrStack,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":stack": &types.AttributeValueMemberS{Value: stack},
		},
		ConsistentRead: aws.Bool(true),
	})

	var tokens []Token
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tokens: %w", err)
		}
		for _, item := range page.Items {
			token, err := decodeItem(item)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token)
		}
	}
	sortByCreation(tokens)
	return tokens, nil
}

// Close is a no-op
func (d *DynamoDBTokenStore) Close() error {
	return nil
}

func decodeItem(item map[string]types.AttributeValue) (Token, error) {
	raw, ok := item[attrToken].(*types.AttributeValueMemberS)
	if !ok {
		return Token{}, fmt.Errorf("token item is missing the %s attribute", attrToken)
	}
	var token Token
	if err := json.Unmarshal([]byte(raw.Value), &token); err != nil {
		return Token{}, fmt.Errorf("failed to decode token: %w", err)
	}
	return token, nil
}
