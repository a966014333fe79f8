package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gammazero/workerpool"

	"github.com/lattiam/batchanalysis/pkg/logging"
)

// DefaultScriptPrefix is the key prefix script assets are staged under
const DefaultScriptPrefix = "code-processing"

// DefaultUploadWorkers bounds concurrent uploads
const DefaultUploadWorkers = 4

// ErrNoAssets is returned when the asset directory holds no files
var ErrNoAssets = errors.New("no script assets found")

// S3API is the subset of the S3 client the uploader needs
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Asset is one script file to stage
type Asset struct {
	// Key is relative to the script prefix, always with forward slashes
	Key  string
	Body []byte
}

// UploadResult lists the object keys written
type UploadResult struct {
	Bucket string
	Keys   []string
}

// Uploader writes script assets into the staging bucket
type Uploader struct {
	client  S3API
	bucket  string
	prefix  string
	workers int
	logger  *logging.Logger
}

// UploaderConfig configures an Uploader
type UploaderConfig struct {
	Bucket  string
	Prefix  string
	Workers int
}

// NewUploader creates an uploader
func NewUploader(client S3API, cfg UploaderConfig) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultScriptPrefix
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultUploadWorkers
	}
	return &Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		workers: cfg.Workers,
		logger:  logging.Staging,
	}, nil
}

// ObjectKey returns the full key of an asset
func (u *Uploader) ObjectKey(assetKey string) string {
	return path.Join(u.prefix, assetKey)
}

// CollectAssets reads every regular file under dir
func CollectAssets(dir string) ([]Asset, error) {
	var assets []Asset
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		body, err := os.ReadFile(p) //nolint:gosec // walking an operator-provided directory
		if err != nil {
			return fmt.Errorf("failed to read asset %s: %w", rel, err)
		}
		assets = append(assets, Asset{Key: filepath.ToSlash(rel), Body: body})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect assets from %s: %w", dir, err)
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoAssets, dir)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Key < assets[j].Key })
	return assets, nil
}

// UploadDir collects and uploads every file under dir
func (u *Uploader) UploadDir(ctx context.Context, dir string) (UploadResult, error) {
	assets, err := CollectAssets(dir)
	if err != nil {
		return UploadResult{}, err
	}
	return u.Upload(ctx, assets)
}

// Upload writes assets concurrently and returns once every upload finished.
// All upload errors are reported together.
func (u *Uploader) Upload(ctx context.Context, assets []Asset) (UploadResult, error) {
	if len(assets) == 0 {
		return UploadResult{}, ErrNoAssets
	}

	pool := workerpool.New(u.workers)

	var (
		mu   sync.Mutex
		errs []error
		keys []string
	)

	for _, asset := range assets {
		asset := asset
		pool.Submit(func() {
			key := u.ObjectKey(asset.Key)
			if err := u.put(ctx, key, asset.Body); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("upload %s: %w", key, err))
				mu.Unlock()
				return
			}
			mu.Lock()
			keys = append(keys, key)
			mu.Unlock()
			u.logger.Debug("Uploaded s3://%s/%s", u.bucket, key)
		})
	}
	pool.StopWait()

	sort.Strings(keys)
	result := UploadResult{Bucket: u.bucket, Keys: keys}
	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}
	u.logger.Info("Staged %d assets under s3://%s/%s/", len(keys), u.bucket, u.prefix)
	return result, nil
}

func (u *Uploader) put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType := mime.TypeByExtension(path.Ext(key)); contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	_, err := u.client.PutObject(ctx, input)
	return err
}

// Populated reports an error unless at least one object exists under the prefix
func (u *Uploader) Populated(ctx context.Context) error {
	out, err := u.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(u.bucket),
		Prefix:  aws.String(u.prefix + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("failed to list staged assets: %w", err)
	}
	if len(out.Contents) == 0 {
		return fmt.Errorf("%w under s3://%s/%s/", ErrNoAssets, u.bucket, u.prefix)
	}
	return nil
}
