package mocks

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Bucket is a bucket held by the S3 fake
type Bucket struct {
	Region            string
	PublicAccessBlock *types.PublicAccessBlockConfiguration
	Encryption        *types.ServerSideEncryptionConfiguration
	Policy            string
	Objects           map[string][]byte
}

// S3 is an in-memory S3 fake covering bucket setup, object writes and listing
type S3 struct {
	Faults
	Calls *CallTracker[Call]
	// PageSize bounds ListObjectsV2 pages
	PageSize int
	// OnPutObject runs before an object is stored; a non-nil error fails the call
	OnPutObject func(input *s3.PutObjectInput) error

	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewS3 creates an S3 fake
func NewS3() *S3 {
	return &S3{Calls: NewCallTracker[Call](), PageSize: 1000, buckets: make(map[string]*Bucket)}
}

func (f *S3) record(method string, input interface{}) error {
	err := f.failure(method)
	f.Calls.RecordCall(NewCall(method, input, err))
	return err
}

func (f *S3) bucket(name string) (*Bucket, error) {
	b, ok := f.buckets[name]
	if !ok {
		return nil, APIError("NoSuchBucket", "The specified bucket does not exist")
	}
	return b, nil
}

// HeadBucket reports NotFound for unknown buckets
func (f *S3) HeadBucket(_ context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if err := f.record("HeadBucket", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[aws.ToString(params.Bucket)]; !ok {
		return nil, APIError("NotFound", "Not Found")
	}
	return &s3.HeadBucketOutput{}, nil
}

// CreateBucket stores an empty bucket
func (f *S3) CreateBucket(_ context.Context, params *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if err := f.record("CreateBucket", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Bucket)
	if _, ok := f.buckets[name]; ok {
		return nil, APIError("BucketAlreadyOwnedByYou", "bucket exists")
	}
	region := "us-east-1"
	if params.CreateBucketConfiguration != nil && params.CreateBucketConfiguration.LocationConstraint != "" {
		region = string(params.CreateBucketConfiguration.LocationConstraint)
	}
	f.buckets[name] = &Bucket{Region: region, Objects: make(map[string][]byte)}
	return &s3.CreateBucketOutput{Location: aws.String("/" + name)}, nil
}

// PutPublicAccessBlock stores the block configuration
func (f *S3) PutPublicAccessBlock(_ context.Context, params *s3.PutPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error) {
	if err := f.record("PutPublicAccessBlock", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	b.PublicAccessBlock = params.PublicAccessBlockConfiguration
	return &s3.PutPublicAccessBlockOutput{}, nil
}

// PutBucketEncryption stores the encryption configuration
func (f *S3) PutBucketEncryption(_ context.Context, params *s3.PutBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error) {
	if err := f.record("PutBucketEncryption", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	b.Encryption = params.ServerSideEncryptionConfiguration
	return &s3.PutBucketEncryptionOutput{}, nil
}

// PutBucketPolicy stores the bucket policy
func (f *S3) PutBucketPolicy(_ context.Context, params *s3.PutBucketPolicyInput, _ ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error) {
	if err := f.record("PutBucketPolicy", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	b.Policy = aws.ToString(params.Policy)
	return &s3.PutBucketPolicyOutput{}, nil
}

// PutObject stores an object
func (f *S3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	err := f.failure("PutObject")
	if err == nil && f.OnPutObject != nil {
		err = f.OnPutObject(params)
	}
	f.Calls.RecordCall(NewCall("PutObject", params, err))
	if err != nil {
		return nil, err
	}

	var body []byte
	if params.Body != nil {
		data, err := io.ReadAll(params.Body)
		if err != nil {
			return nil, err
		}
		body = data
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	b.Objects[aws.ToString(params.Key)] = body
	return &s3.PutObjectOutput{ETag: aws.String(`"fake"`)}, nil
}

// ListObjectsV2 lists keys under a prefix in lexical order, paging by PageSize
func (f *S3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := f.record("ListObjectsV2", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}

	var keys []string
	for key := range b.Objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) && key > aws.ToString(params.ContinuationToken) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	limit := f.PageSize
	if params.MaxKeys != nil && int(*params.MaxKeys) < limit {
		limit = int(*params.MaxKeys)
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > limit {
		keys = keys[:limit]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key), Size: aws.Int64(int64(len(b.Objects[key])))})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

// DeleteObjects removes objects
func (f *S3) DeleteObjects(_ context.Context, params *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if err := f.record("DeleteObjects", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	out := &s3.DeleteObjectsOutput{}
	if params.Delete != nil {
		for _, obj := range params.Delete.Objects {
			delete(b.Objects, aws.ToString(obj.Key))
			out.Deleted = append(out.Deleted, types.DeletedObject{Key: obj.Key})
		}
	}
	return out, nil
}

// DeleteBucket removes an empty bucket
func (f *S3) DeleteBucket(_ context.Context, params *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	if err := f.record("DeleteBucket", params); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.Bucket)
	b, err := f.bucket(name)
	if err != nil {
		return nil, err
	}
	if len(b.Objects) > 0 {
		return nil, APIError("BucketNotEmpty", "The bucket you tried to delete is not empty")
	}
	delete(f.buckets, name)
	return &s3.DeleteBucketOutput{}, nil
}

// Bucket returns a stored bucket
func (f *S3) Bucket(name string) (*Bucket, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[name]
	return b, ok
}

// Object returns a stored object body
func (f *S3) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[bucket]
	if !ok {
		return nil, false
	}
	body, ok := b.Objects[key]
	return body, ok
}
