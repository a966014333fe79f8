package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "batchanalysis"

// RedisTokenStore keeps tokens as JSON strings with a per-stack sorted-set index
type RedisTokenStore struct {
	redis redis.UniversalClient
}

// NewRedisTokenStore connects to the Redis URL and verifies the connection
func NewRedisTokenStore(ctx context.Context, redisURL string) (*RedisTokenStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisTokenStoreWithClient(client), nil
}

// NewRedisTokenStoreWithClient wraps an existing client
func NewRedisTokenStoreWithClient(client redis.UniversalClient) *RedisTokenStore {
	return &RedisTokenStore{redis: client}
}

func tokenKey(stack, requestID string) string {
	return fmt.Sprintf("%s:token:%s:%s", redisKeyPrefix, stack, requestID)
}

func stackIndexKey(stack string) string {
	return fmt.Sprintf("%s:tokens:%s", redisKeyPrefix, stack)
}

// Create stores a new token
func (r *RedisTokenStore) Create(ctx context.Context, token Token) error {
	if err := token.ValidateKey(); err != nil {
		return err
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	created, err := r.redis.SetNX(ctx, tokenKey(token.Stack, token.RequestID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	if !created {
		return ErrTokenExists
	}

	err = r.redis.ZAdd(ctx, stackIndexKey(token.Stack), redis.Z{
		Score:  float64(token.CreatedAt.UnixNano()),
		Member: token.RequestID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to index token: %w", err)
	}
	return nil
}

// Get loads a token
func (r *RedisTokenStore) Get(ctx context.Context, stack, requestID string) (Token, error) {
	data, err := r.redis.Get(ctx, tokenKey(stack, requestID)).Result()
	if errors.Is(err, redis.Nil) {
		return Token{}, ErrTokenNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("failed to get token: %w", err)
	}
	var token Token
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return Token{}, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return token, nil
}

// Update overwrites an existing token
func (r *RedisTokenStore) Update(ctx context.Context, token Token) error {
	if err := token.ValidateKey(); err != nil {
		return err
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	updated, err := r.redis.SetXX(ctx, tokenKey(token.Stack, token.RequestID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	if !updated {
		return ErrTokenNotFound
	}
	return nil
}

// List returns every token of a stack
func (r *RedisTokenStore) List(ctx context.Context, stack string) ([]Token, error) {
	ids, err := r.redis.ZRange(ctx, stackIndexKey(stack), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	tokens := make([]Token, 0, len(ids))
	for _, id := range ids {
		token, err := r.Get(ctx, stack, id)
		if errors.Is(err, ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	sortByCreation(tokens)
	return tokens, nil
}

// Close closes the Redis client
func (r *RedisTokenStore) Close() error {
	return r.redis.Close()
}
