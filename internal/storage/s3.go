package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/expotoworld/storefront/internal/apperr"
	appconfig "github.com/expotoworld/storefront/internal/config"
)

// S3Store stores objects in S3 or any S3-compatible service.
type S3Store struct {
	Client        *s3.Client
	Region        string
	PublicBaseURL string

	mu       sync.RWMutex
	policies map[string]BucketPolicy
}

// NewS3Store builds an S3 client from the storage configuration. Static
// credentials are used when provided, otherwise the default chain
// (instance role in AWS).
func NewS3Store(ctx context.Context, cfg appconfig.StorageConfig) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS default config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &S3Store{
		Client:        client,
		Region:        cfg.Region,
		PublicBaseURL: cfg.PublicBaseURL,
		policies:      map[string]BucketPolicy{},
	}, nil
}

// PublicURL returns the public-read URL of key. Without a configured public
// base the path-style S3 URL is used.
func (s *S3Store) PublicURL(bucket, key string) string {
	if s.PublicBaseURL != "" {
		return publicURL(s.PublicBaseURL, bucket, key)
	}
	return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", s.Region, bucket, escapeKey(key))
}

// Upload puts data under key and returns its public URL.
func (s *S3Store) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if policy, ok := s.policy(bucket); ok {
		if policy.FileSizeLimit > 0 && int64(len(data)) > policy.FileSizeLimit {
			return "", &apperr.UploadError{Message: fmt.Sprintf("object exceeds bucket size limit of %d bytes", policy.FileSizeLimit)}
		}
		if !policy.Allows(contentType) {
			return "", &apperr.UploadError{Message: fmt.Sprintf("content type %s not allowed in bucket %s", contentType, bucket)}
		}
	}

	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		if kind := classify(err); kind == errTransient {
			return "", &apperr.TransientError{Err: err}
		}
		return "", &apperr.UploadError{Err: err, Message: fmt.Sprintf("failed to upload file to S3: %v", err)}
	}
	return s.PublicURL(bucket, key), nil
}

// Delete removes key. S3 deletes are idempotent, so the object is checked first
// to be able to report NotFound.
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	if _, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key}); err != nil {
		return classifyErr(err, "object", key)
	}
	if _, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}); err != nil {
		return classifyErr(err, "object", key)
	}
	return nil
}

// EnsureBucket creates bucket when it is missing and applies the public-read
// policy. Size and MIME constraints are enforced by Upload since S3 buckets
// cannot carry them.
func (s *S3Store) EnsureBucket(ctx context.Context, bucket string, policy BucketPolicy) error {
	_, err := s.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucket})
	switch {
	case err == nil:
	case classify(err) == errNotFound:
		in := &s3.CreateBucketInput{Bucket: &bucket}
		if s.Region != "" && s.Region != "us-east-1" {
			in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
				LocationConstraint: s3types.BucketLocationConstraint(s.Region),
			}
		}
		if _, err := s.Client.CreateBucket(ctx, in); err != nil && !alreadyOwned(err) {
			return &apperr.UploadError{Err: err, Message: fmt.Sprintf("failed to create bucket %s: %v", bucket, err)}
		}
		if policy.Public {
			if err := s.putPublicReadPolicy(ctx, bucket); err != nil {
				return &apperr.UploadError{Err: err, Message: fmt.Sprintf("failed to make bucket %s public: %v", bucket, err)}
			}
		}
	default:
		return &apperr.UploadError{Err: err, Message: fmt.Sprintf("failed to check bucket %s: %v", bucket, err)}
	}

	s.mu.Lock()
	s.policies[bucket] = policy
	s.mu.Unlock()
	return nil
}

// List walks every object under prefix.
func (s *S3Store) List(ctx context.Context, bucket, prefix string, fn func(ObjectInfo) error) error {
	p := s3.NewListObjectsV2Paginator(s.Client, &s3.ListObjectsV2Input{
		Bucket: &bucket,
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return classifyErr(err, "bucket", bucket)
		}
		for _, o := range out.Contents {
			info := ObjectInfo{Key: aws.ToString(o.Key), Size: aws.ToInt64(o.Size)}
			if o.LastModified != nil {
				info.LastModified = *o.LastModified
			}
			if err := fn(info); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *S3Store) policy(bucket string) (BucketPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[bucket]
	return p, ok
}

func (s *S3Store) putPublicReadPolicy(ctx context.Context, bucket string) error {
	doc := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{{
			"Sid":       "PublicRead",
			"Effect":    "Allow",
			"Principal": "*",
			"Action":    []string{"s3:GetObject"},
			"Resource":  []string{fmt.Sprintf("arn:aws:s3:::%s/*", bucket)},
		}},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.Client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{Bucket: &bucket, Policy: aws.String(string(b))})
	return err
}

type errKind int

const (
	errOther errKind = iota
	errNotFound
	errTransient
)

// classify sorts SDK errors into not-found, transient and everything else.
func classify(err error) errKind {
	if err == nil {
		return errOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errTransient
	}
	var nk *s3types.NoSuchKey
	var nb *s3types.NoSuchBucket
	var nf *s3types.NotFound
	if errors.As(err, &nk) || errors.As(err, &nb) || errors.As(err, &nf) {
		return errNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return errNotFound
		case "SlowDown", "RequestTimeout", "ServiceUnavailable", "InternalError", "Throttling", "ThrottlingException":
			return errTransient
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch code := respErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return errNotFound
		case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
			return errTransient
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errTransient
	}
	return errOther
}

func classifyErr(err error, resource, id string) error {
	switch classify(err) {
	case errNotFound:
		return &apperr.NotFoundError{Resource: resource, ID: id}
	case errTransient:
		return &apperr.TransientError{Err: err}
	default:
		return &apperr.TransientError{Err: fmt.Errorf("%s %s: %w", resource, id, err)}
	}
}

func alreadyOwned(err error) bool {
	var owned *s3types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && strings.EqualFold(apiErr.ErrorCode(), "BucketAlreadyOwnedByYou")
}
