package state

import (
	"context"
	"fmt"

	"github.com/lattiam/batchanalysis/pkg/logging"
)

// Token store backends
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
)

// StoreConfig selects and configures a token store backend
type StoreConfig struct {
	Backend   string
	Path      string
	TableName string
	RedisURL  string
	// DynamoDB is required for the dynamodb backend
	DynamoDB DynamoDBAPI
}

// NewTokenStore builds the configured token store
func NewTokenStore(ctx context.Context, cfg StoreConfig) (TokenStore, error) {
	logging.Store.Debug("Creating %s token store", cfg.Backend)

	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryTokenStore(), nil
	case BackendFile, "":
		return NewFileTokenStore(cfg.Path)
	case BackendDynamoDB:
		if cfg.DynamoDB == nil {
			return nil, fmt.Errorf("dynamodb token store requires a client")
		}
		return NewDynamoDBTokenStore(ctx, cfg.DynamoDB, cfg.TableName)
	case BackendRedis:
		return NewRedisTokenStore(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
	}
}
