package provision

import (
	"context"

	"github.com/lattiam/batchanalysis/internal/deployment"
	"github.com/lattiam/batchanalysis/internal/state"
	"github.com/lattiam/batchanalysis/internal/trigger"
)

// Precondition names
const (
	PreconditionJobDefinition = "job-definition"
	PreconditionRolePolicies  = "role-policies"
	PreconditionStaging       = "staging"
)

func (d *Deployer) preconditions(run *Run) []trigger.Precondition {
	return []trigger.Precondition{
		{Name: PreconditionJobDefinition, Ready: d.jobDefinitionReady(run)},
		{Name: PreconditionRolePolicies, Ready: d.rolePoliciesAttached(run)},
		{Name: PreconditionStaging, Ready: func(ctx context.Context) error {
			uploader, err := d.uploader(run)
			if err != nil {
				return err
			}
			return uploader.Populated(ctx)
		}},
	}
}

// submit fires Create for a stack that has never completed a Create and Update otherwise
func (d *Deployer) submit(ctx context.Context, run *Run) error {
	created, err := state.HasSucceededCreate(ctx, d.store, run.Names.Stack)
	if err != nil {
		return err
	}

	eventType := deployment.EventCreate
	if created {
		eventType = deployment.EventUpdate
	}

	if err := d.fire(ctx, run, eventType); err != nil {
		return err
	}
	d.logger.Info("Submitted job %s for %s request %s", run.Result.JobID, eventType, run.RequestID)
	return nil
}
