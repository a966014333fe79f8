package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/lattiam/batchanalysis/internal/awsclient"
	"github.com/lattiam/batchanalysis/internal/deployment"
	"github.com/lattiam/batchanalysis/internal/policy"
	"github.com/lattiam/batchanalysis/internal/staging"
)

const defaultRegion = "us-east-1"

func (d *Deployer) putParameter(ctx context.Context, run *Run) error {
	prompts, err := d.loadPrompts()
	if err != nil {
		return err
	}
	value, err := staging.EncodePrompts(prompts)
	if err != nil {
		return err
	}

	out, err := d.clients.SSM.PutParameter(ctx, &ssm.PutParameterInput{
		Name:        aws.String(run.Names.Parameter),
		Value:       aws.String(value),
		Type:        ssmtypes.ParameterTypeString,
		Overwrite:   aws.Bool(true),
		Description: aws.String("Prompt configuration for the " + run.Names.Stack + " analysis job"),
	})
	if err != nil {
		return fmt.Errorf("failed to put parameter %s: %w", run.Names.Parameter, err)
	}

	run.PromptConfigRef = staging.ParameterRef(run.Names.Parameter)
	d.logger.Info("Stored %d prompts in %s (version %d)", len(prompts), run.Names.Parameter, out.Version)
	return nil
}

func (d *Deployer) deleteParameter(ctx context.Context, run *Run) error {
	_, err := d.clients.SSM.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: aws.String(run.Names.Parameter)})
	if err != nil && !awsclient.IsCode(err, "ParameterNotFound") {
		return fmt.Errorf("failed to delete parameter %s: %w", run.Names.Parameter, err)
	}
	return nil
}

// ensureBucket creates the staging bucket if needed and applies its hardening:
// public access blocked, S3-managed encryption, TLS-only access
func (d *Deployer) ensureBucket(ctx context.Context, run *Run) error {
	bucket := run.Names.Bucket

	_, err := d.clients.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	switch {
	case err == nil:
		d.logger.Debug("Staging bucket %s exists", bucket)
	case awsclient.IsCode(err, "NotFound", "NoSuchBucket"):
		input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
		if run.Region != "" && run.Region != defaultRegion {
			input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
				LocationConstraint: s3types.BucketLocationConstraint(run.Region),
			}
		}
		if _, err := d.clients.S3.CreateBucket(ctx, input); err != nil && !awsclient.IsCode(err, "BucketAlreadyOwnedByYou") {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		d.logger.Info("Created staging bucket %s", bucket)
	default:
		return fmt.Errorf("failed to look up bucket %s: %w", bucket, err)
	}

	if _, err := d.clients.S3.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: aws.String(bucket),
		PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(true),
			IgnorePublicAcls:      aws.Bool(true),
			BlockPublicPolicy:     aws.Bool(true),
			RestrictPublicBuckets: aws.Bool(true),
		},
	}); err != nil {
		return fmt.Errorf("failed to block public access on %s: %w", bucket, err)
	}

	if _, err := d.clients.S3.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: aws.String(bucket),
		ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
			Rules: []s3types.ServerSideEncryptionRule{{
				ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
					SSEAlgorithm: s3types.ServerSideEncryptionAes256,
				},
			}},
		},
	}); err != nil {
		return fmt.Errorf("failed to enable encryption on %s: %w", bucket, err)
	}

	bucketPolicy, err := policy.TLSOnlyBucketPolicy(run.Identity.Partition, bucket)
	if err != nil {
		return err
	}
	if _, err := d.clients.S3.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(bucket),
		Policy: aws.String(bucketPolicy),
	}); err != nil {
		return fmt.Errorf("failed to put bucket policy on %s: %w", bucket, err)
	}
	return nil
}

func (d *Deployer) deleteBucket(ctx context.Context, run *Run) error {
	bucket := run.Names.Bucket

	paginator := s3.NewListObjectsV2Paginator(d.clients.S3, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if awsclient.IsCode(err, "NoSuchBucket") {
				return nil
			}
			return fmt.Errorf("failed to list objects in %s: %w", bucket, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
		}
		if _, err := d.clients.S3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		}); err != nil {
			return fmt.Errorf("failed to delete objects in %s: %w", bucket, err)
		}
	}

	if _, err := d.clients.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil &&
		!awsclient.IsCode(err, "NoSuchBucket") {
		return fmt.Errorf("failed to delete bucket %s: %w", bucket, err)
	}
	return nil
}

func (d *Deployer) uploader(run *Run) (*staging.Uploader, error) {
	return staging.NewUploader(d.clients.S3, staging.UploaderConfig{
		Bucket:  run.Names.Bucket,
		Prefix:  d.cfg.Staging.ScriptPrefix,
		Workers: d.cfg.Staging.UploadWorkers,
	})
}

func (d *Deployer) uploadAssets(ctx context.Context, run *Run) error {
	uploader, err := d.uploader(run)
	if err != nil {
		return err
	}

	assets, err := staging.CollectAssets(d.cfg.Staging.ScriptsDir)
	if err != nil {
		return deployment.NewError(deployment.CodeInvalidInput, deployment.PhaseProvisioning, "script assets are unusable", err)
	}
	if !hasAsset(assets, d.cfg.Staging.Entrypoint) {
		return deployment.InvalidInput(deployment.PhaseProvisioning,
			"entrypoint %s not found in %s", d.cfg.Staging.Entrypoint, d.cfg.Staging.ScriptsDir)
	}

	result, err := uploader.Upload(ctx, assets)
	if err != nil {
		return err
	}
	run.StagedKeys = result.Keys
	return nil
}

func hasAsset(assets []staging.Asset, key string) bool {
	key = path.Clean(key)
	for _, a := range assets {
		if a.Key == key {
			return true
		}
	}
	return false
}

// saveOutputs writes the operator outputs next to the staged assets. When the write
// fails and compensation is enabled the submitted job is cancelled.
func (d *Deployer) saveOutputs(ctx context.Context, run *Run) error {
	data, err := run.Outputs().JSON()
	if err != nil {
		return err
	}

	_, err = d.clients.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(run.Names.Bucket),
		Key:         aws.String(run.Names.OutputsKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err == nil {
		return nil
	}
	err = fmt.Errorf("failed to save outputs: %w", err)

	if d.trigger == nil || run.RequestID == "" {
		return err
	}
	outcome, rbErr := d.trigger.Rollback(ctx, run.RequestID)
	if rbErr != nil {
		return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
	}
	d.logger.Warn("Rolled back request %s: retracted=%t (%s)", outcome.RequestID, outcome.Retracted, outcome.Reason)
	return err
}
