//nolint:forbidigo // CLI command needs fmt.Print* for user output
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lattiam/batchanalysis/internal/awsclient"
	"github.com/lattiam/batchanalysis/internal/deployment"
	"github.com/lattiam/batchanalysis/internal/policy"
	"github.com/lattiam/batchanalysis/internal/provision"
	"github.com/lattiam/batchanalysis/internal/staging"
	"github.com/lattiam/batchanalysis/internal/submit"
)

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withDeployer runs fn with a deployer built from the environment
func withDeployer(fn func(ctx context.Context, d *provision.Deployer) error) error {
	cfg, err := loadStandardConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	c, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	d, err := c.deployer()
	if err != nil {
		return err
	}
	return fn(ctx, d)
}

func newDeployCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Provision the pipeline and submit the analysis job",
		Long: `Provision every resource in dependency order, then fire Create on the first deployment of the
stack and Update afterwards. Each deployment submits exactly one analysis job.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeployer(func(ctx context.Context, d *provision.Deployer) error {
				outputs, err := d.Deploy(ctx)
				if err != nil {
					return err
				}
				return writeIndented(cmd.OutOrStdout(), outputs)
			})
		},
	}
}

func newDestroyCommand() *cobra.Command {
	var opts provision.DestroyOptions

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Fire Delete and tear the pipeline down",
		Long:  "Fire Delete through the lifecycle trigger, which submits nothing, then remove resources in reverse dependency order.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeployer(func(ctx context.Context, d *provision.Deployer) error {
				if err := d.Destroy(ctx, opts); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Stack destroyed")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&opts.DeleteBucket, "delete-bucket", false, "Also empty and delete the staging bucket")
	return cmd
}

type submitFlags struct {
	eventType       string
	jobQueue        string
	jobDefinition   string
	bucket          string
	promptConfigRef string
	submissionRole  string
}

func newSubmitCommand() *cobra.Command {
	var flags submitFlags

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Invoke the submission controller directly",
		Long: `Send one lifecycle event straight to the submission controller, bypassing the trigger and its
idempotency record. Create and Update submit one job; Delete submits nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSubmit(cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.eventType, "type", "t", "Create", "Event type (Create, Update, Delete)")
	cmd.Flags().StringVar(&flags.jobQueue, "job-queue", "", "Job queue ARN")
	cmd.Flags().StringVar(&flags.jobDefinition, "job-definition", "", "Job definition ARN")
	cmd.Flags().StringVar(&flags.bucket, "bucket", "", "Staging bucket (default: the stack's bucket)")
	cmd.Flags().StringVar(&flags.promptConfigRef, "prompt-config-ref", "", "Prompt configuration reference (default: the stack's parameter)")
	cmd.Flags().StringVar(&flags.submissionRole, "submission-role", "", "Role ARN to submit as (default: the stack's submission role)")
	return cmd
}

func runSubmit(out io.Writer, flags submitFlags) error {
	cfg, err := loadStandardConfig()
	if err != nil {
		return err
	}

	eventType, err := deployment.ParseEventType(flags.eventType)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	awsCfg, err := awsclient.LoadConfig(ctx, awsclient.Options{
		Region:   cfg.AWS.Region,
		Endpoint: cfg.AWS.Endpoint,
		Profile:  cfg.AWS.Profile,
	})
	if err != nil {
		return err
	}
	clients := awsclient.NewClients(awsCfg)

	if eventType.Submits() && (flags.bucket == "" || flags.promptConfigRef == "") {
		id, err := awsclient.CallerIdentity(ctx, clients.STS)
		if err != nil {
			return err
		}
		names := provision.NewNames(cfg, id.AccountID)
		if flags.bucket == "" {
			flags.bucket = names.Bucket
		}
		if flags.promptConfigRef == "" {
			flags.promptConfigRef = staging.ParameterRef(names.Parameter)
		}
	}

	roleARN, err := submissionRoleARN(ctx, cfg, clients.STS, flags.submissionRole)
	if err != nil {
		return err
	}
	controller, err := submit.NewController(awsclient.SubmitClient(awsCfg, clients.STS, roleARN), submit.WithJobNamePrefix(cfg.Stack))
	if err != nil {
		return err
	}

	result := controller.Handle(ctx, deployment.LifecycleEvent{
		Type:          eventType,
		JobQueue:      deployment.JobQueueRef(flags.jobQueue),
		JobDefinition: deployment.JobDefinitionRef(flags.jobDefinition),
		Parameters:    cfg.Parameters(flags.bucket, flags.promptConfigRef),
	})
	if err := writeIndented(out, result.Response()); err != nil {
		return err
	}
	return result.Err
}

func newPolicyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print both role policies after checking the privilege boundary",
		Long: `Render the execution role and submission role policies for the configured stack and account,
check that the grant sets stay partitioned, and print them. Nothing is created.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeployer(func(ctx context.Context, d *provision.Deployer) error {
				exec, submission, err := d.Plan(ctx)
				if err != nil {
					return err
				}
				execARN, err := d.ExecutionRoleARN(ctx)
				if err != nil {
					return err
				}
				if err := policy.Validate(exec, submission, execARN); err != nil {
					return err
				}
				return writeIndented(cmd.OutOrStdout(), policyReport(exec, submission))
			})
		},
	}
}

type rolePolicyReport struct {
	Role            string          `json:"role"`
	Principal       string          `json:"principal"`
	TrustedAccounts []string        `json:"trustedAccounts,omitempty"`
	Policy          policy.Document `json:"policy"`
}

func policyReport(exec, submission policy.RolePolicy) map[string]rolePolicyReport {
	return map[string]rolePolicyReport{
		"execution":  {Role: exec.RoleName, Principal: exec.Principal, Policy: exec.Document},
		"submission": {
			Role:            submission.RoleName,
			Principal:       submission.Principal,
			TrustedAccounts: submission.TrustedAccounts,
			Policy:          submission.Document,
		},
	}
}

func writeIndented(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
