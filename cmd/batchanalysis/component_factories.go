package main

import (
	"context"
	"fmt"

	"github.com/lattiam/batchanalysis/internal/awsclient"
	"github.com/lattiam/batchanalysis/internal/config"
	"github.com/lattiam/batchanalysis/internal/provision"
	"github.com/lattiam/batchanalysis/internal/state"
	"github.com/lattiam/batchanalysis/internal/submit"
)

// components holds what every AWS-facing command needs
type components struct {
	cfg     *config.Config
	clients *awsclient.Clients
	store   state.TokenStore
}

// newComponents loads AWS configuration and opens the configured token store
func newComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	awsCfg, err := awsclient.LoadConfig(ctx, awsclient.Options{
		Region:   cfg.AWS.Region,
		Endpoint: cfg.AWS.Endpoint,
		Profile:  cfg.AWS.Profile,
	})
	if err != nil {
		return nil, err
	}
	clients := awsclient.NewClients(awsCfg)

	store, err := createStateStore(ctx, cfg, clients)
	if err != nil {
		return nil, err
	}
	return &components{cfg: cfg, clients: clients, store: store}, nil
}

// createStateStore creates a token store based on configuration
func createStateStore(ctx context.Context, cfg *config.Config, clients *awsclient.Clients) (state.TokenStore, error) {
	store, err := state.NewTokenStore(ctx, storeConfig(cfg, clients))
	if err != nil {
		return nil, fmt.Errorf("failed to create state store: %w", err)
	}
	return store, nil
}

func storeConfig(cfg *config.Config, clients *awsclient.Clients) state.StoreConfig {
	sc := state.StoreConfig{
		Backend:   cfg.StateStore.Type,
		Path:      cfg.StateStore.Path,
		TableName: cfg.StateStore.DynamoDBTable,
		RedisURL:  cfg.StateStore.RedisURL,
	}
	if clients != nil {
		sc.DynamoDB = clients.DynamoDB
	}
	return sc
}

// deployer creates the provisioning pipeline
func (c *components) deployer() (*provision.Deployer, error) {
	d, err := provision.New(c.cfg, provision.ClientsFrom(c.clients), c.store)
	if err != nil {
		return nil, fmt.Errorf("failed to create deployer: %w", err)
	}
	return d, nil
}

// submissionRoleARN returns override, or the ARN of the stack's submission role in
// the caller's account
func submissionRoleARN(ctx context.Context, cfg *config.Config, api awsclient.IdentityAPI, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	id, err := awsclient.CallerIdentity(ctx, api)
	if err != nil {
		return "", err
	}
	return provision.RoleARN(id, provision.NewNames(cfg, id.AccountID).SubmissionRole), nil
}

// submitClient builds the controller's Batch client running as the submission role
func (c *components) submitClient(ctx context.Context, override string) (submit.BatchAPI, error) {
	roleARN, err := submissionRoleARN(ctx, c.cfg, c.clients.STS, override)
	if err != nil {
		return nil, err
	}
	return awsclient.SubmitClient(c.clients.Config, c.clients.STS, roleARN), nil
}

// Close releases the token store
func (c *components) Close() error {
	return c.store.Close()
}
