package provision

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-uuid"

	"github.com/lattiam/batchanalysis/internal/awsclient"
	"github.com/lattiam/batchanalysis/internal/config"
	"github.com/lattiam/batchanalysis/internal/deployment"
	"github.com/lattiam/batchanalysis/internal/staging"
	"github.com/lattiam/batchanalysis/internal/state"
	"github.com/lattiam/batchanalysis/internal/submit"
	"github.com/lattiam/batchanalysis/internal/trigger"
	"github.com/lattiam/batchanalysis/pkg/logging"
)

// Step names
const (
	StepParameters         = "parameters"
	StepStagingBucket      = "staging-bucket"
	StepStagingAssets      = "staging-assets"
	StepNetwork            = "network"
	StepSecret             = "secret"
	StepComputeEnvironment = "compute-environment"
	StepJobQueue           = "job-queue"
	StepExecutionRole      = "execution-role"
	StepJobDefinition      = "job-definition"
	StepSubmissionRole     = "submission-role"
	StepSubmission         = "submission"
	StepOutputs            = "outputs"
)

// DestroyOptions controls teardown
type DestroyOptions struct {
	// DeleteBucket empties and removes the staging bucket; it is retained otherwise
	DeleteBucket bool
}

// Deployer provisions and tears down one stack
type Deployer struct {
	cfg          *config.Config
	clients      Clients
	store        state.TokenStore
	logger       *logging.Logger
	newRequestID func() (string, error)

	trigger *trigger.Trigger
}

// Option configures a Deployer
type Option func(*Deployer)

// WithLogger sets the deployer's logger
func WithLogger(logger *logging.Logger) Option {
	return func(d *Deployer) {
		d.logger = logger
	}
}

// WithRequestIDGenerator replaces the deployment request id generator
func WithRequestIDGenerator(gen func() (string, error)) Option {
	return func(d *Deployer) {
		d.newRequestID = gen
	}
}

// New creates a Deployer
func New(cfg *config.Config, clients Clients, store state.TokenStore, opts ...Option) (*Deployer, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if store == nil {
		return nil, errors.New("token store is required")
	}
	if err := clients.validate(); err != nil {
		return nil, err
	}

	d := &Deployer{
		cfg:          cfg,
		clients:      clients,
		store:        store,
		logger:       logging.Provision,
		newRequestID: uuid.GenerateUUID,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Graph builds the provisioning graph
func (d *Deployer) Graph(opts DestroyOptions) *Graph {
	bucketTeardown := StepFunc(nil)
	if opts.DeleteBucket {
		bucketTeardown = d.deleteBucket
	}

	return NewGraph().MustAdd(
		Step{Name: StepParameters, Apply: d.putParameter, Destroy: d.deleteParameter},
		Step{Name: StepStagingBucket, Apply: d.ensureBucket, Destroy: bucketTeardown},
		Step{Name: StepStagingAssets, DependsOn: []string{StepStagingBucket}, Apply: d.uploadAssets},
		Step{Name: StepNetwork, Apply: d.resolveNetwork},
		Step{Name: StepSecret, Apply: d.resolveSecret},
		Step{
			Name:      StepComputeEnvironment,
			DependsOn: []string{StepNetwork},
			Apply:     d.ensureComputeEnvironment,
			Destroy:   d.deleteComputeEnvironment,
		},
		Step{
			Name:      StepJobQueue,
			DependsOn: []string{StepComputeEnvironment},
			Apply:     d.ensureJobQueue,
			Destroy:   d.deleteJobQueue,
		},
		Step{
			Name:      StepExecutionRole,
			DependsOn: []string{StepStagingBucket, StepParameters, StepSecret},
			Apply:     d.ensureExecutionRole,
			Destroy:   d.deleteExecutionRole,
		},
		Step{
			Name:      StepJobDefinition,
			DependsOn: []string{StepExecutionRole},
			Apply:     d.registerJobDefinition,
			Destroy:   d.deregisterJobDefinitions,
		},
		Step{
			Name:      StepSubmissionRole,
			DependsOn: []string{StepExecutionRole, StepJobQueue, StepJobDefinition},
			Apply:     d.ensureSubmissionRole,
			Destroy:   d.deleteSubmissionRole,
		},
		Step{
			Name:      StepSubmission,
			DependsOn: []string{StepSubmissionRole, StepStagingAssets, StepParameters, StepJobDefinition, StepJobQueue},
			Apply:     d.submit,
		},
		Step{Name: StepOutputs, DependsOn: []string{StepSubmission}, Apply: d.saveOutputs},
	)
}

func (d *Deployer) newRun(ctx context.Context) (*Run, error) {
	id, err := awsclient.CallerIdentity(ctx, d.clients.Identity)
	if err != nil {
		return nil, err
	}
	return &Run{
		Names:    NewNames(d.cfg, id.AccountID),
		Identity: id,
		Region:   d.cfg.AWS.Region,
	}, nil
}

// Deploy provisions every resource in dependency order, then fires Create on the
// first deployment of the stack and Update afterwards. A failing step stops the
// run; resources created by earlier steps are left in place.
func (d *Deployer) Deploy(ctx context.Context) (Outputs, error) {
	if err := d.cfg.ValidateDeploy(); err != nil {
		return Outputs{}, err
	}

	run, err := d.newRun(ctx)
	if err != nil {
		return Outputs{}, err
	}

	graph := d.Graph(DestroyOptions{})
	order, err := graph.Order()
	if err != nil {
		return Outputs{}, err
	}

	for i, name := range order {
		step, _ := graph.Step(name)
		d.logger.StageStart(name, i+1, len(order))
		if err := step.Apply(ctx, run); err != nil {
			err = stepError(name, err)
			d.logger.StageFailed(name, err)
			d.logger.DeploymentSummary(i, len(order))
			return run.Outputs(), err
		}
		d.logger.StageSuccess(name)
	}

	d.logger.DeploymentSummary(len(order), len(order))
	return run.Outputs(), nil
}

// Destroy fires Delete through the lifecycle trigger, then tears resources down in
// reverse dependency order. Teardown continues past failures and reports them together.
func (d *Deployer) Destroy(ctx context.Context, opts DestroyOptions) error {
	if err := d.cfg.Validate(); err != nil {
		return err
	}

	run, err := d.newRun(ctx)
	if err != nil {
		return err
	}

	if err := d.fire(ctx, run, deployment.EventDelete); err != nil {
		return err
	}

	graph := d.Graph(opts)
	order, err := graph.ReverseOrder()
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range order {
		step, _ := graph.Step(name)
		if step.Destroy == nil {
			continue
		}
		d.logger.Info("Tearing down %s", name)
		if err := step.Destroy(ctx, run); err != nil {
			err = stepError(name, err)
			d.logger.StageFailed(name, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stepError(step string, err error) error {
	if _, ok := deployment.AsError(err); ok {
		return fmt.Errorf("step %s: %w", step, err)
	}
	if awsclient.IsAccessDenied(err) {
		return deployment.PermissionDenied(deployment.PhaseProvisioning,
			fmt.Sprintf("step %s was denied by the provisioning credentials", step), err)
	}
	return fmt.Errorf("step %s failed: %w", step, err)
}

// newTrigger wires the submission controller into a lifecycle trigger gated on the
// run's provisioning results
func (d *Deployer) newTrigger(run *Run) (*trigger.Trigger, error) {
	roleARN := run.SubmissionRoleARN
	if roleARN == "" {
		roleARN = RoleARN(run.Identity, run.Names.SubmissionRole)
	}
	controller, err := submit.NewController(d.clients.SubmitAs(roleARN), submit.WithJobNamePrefix(run.Names.Stack))
	if err != nil {
		return nil, err
	}

	opts := []trigger.Option{
		trigger.WithTimeout(d.cfg.Trigger.Timeout),
		trigger.WithPreconditions(d.preconditions(run)...),
	}
	if d.cfg.Trigger.Compensate {
		opts = append(opts, trigger.WithCompensation(controller))
	}
	return trigger.New(run.Names.Stack, d.store, controller, opts...)
}

// fire sends one lifecycle event for the stack through the trigger
func (d *Deployer) fire(ctx context.Context, run *Run, eventType deployment.EventType) error {
	t, err := d.newTrigger(run)
	if err != nil {
		return err
	}
	d.trigger = t

	requestID, err := d.newRequestID()
	if err != nil {
		return fmt.Errorf("failed to generate request id: %w", err)
	}
	run.RequestID = requestID
	run.EventType = eventType

	event := deployment.LifecycleEvent{
		RequestID:     requestID,
		Type:          eventType,
		JobQueue:      deployment.JobQueueRef(run.JobQueueARN),
		JobDefinition: deployment.JobDefinitionRef(run.JobDefinitionARN),
		Parameters:    d.cfg.Parameters(run.Names.Bucket, run.PromptConfigRef),
	}

	result, err := t.Fire(ctx, event)
	run.Result = result
	return err
}

func (d *Deployer) loadPrompts() ([]staging.Prompt, error) {
	if d.cfg.Staging.PromptsFile == "" {
		return staging.DefaultPrompts(), nil
	}
	data, err := os.ReadFile(d.cfg.Staging.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	prompts, err := staging.DecodePrompts(string(data))
	if err != nil {
		return nil, deployment.NewError(deployment.CodeInvalidInput, deployment.PhaseProvisioning,
			"prompts file "+d.cfg.Staging.PromptsFile+" is invalid", err)
	}
	return prompts, nil
}
