package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/expotoworld/storefront/internal/apperr"
)

// FilesystemStore keeps objects under BaseDir/<bucket>/<key>. It is the local
// development fallback; cmd/server serves BaseDir under /storage/v1/object/public.
type FilesystemStore struct {
	BaseDir       string
	PublicBaseURL string

	mu       sync.RWMutex
	policies map[string]BucketPolicy
}

func NewFilesystemStore(baseDir, publicBaseURL string) *FilesystemStore {
	return &FilesystemStore{
		BaseDir:       baseDir,
		PublicBaseURL: publicBaseURL,
		policies:      map[string]BucketPolicy{},
	}
}

func (s *FilesystemStore) PublicURL(bucket, key string) string {
	return publicURL(s.PublicBaseURL, bucket, key)
}

func (s *FilesystemStore) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &apperr.TransientError{Err: err}
	}
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return "", &apperr.UploadError{Err: err, Message: err.Error()}
	}
	if _, err := os.Stat(dir); err != nil {
		return "", &apperr.UploadError{Err: err, Message: fmt.Sprintf("bucket %s does not exist", bucket)}
	}
	if policy, ok := s.policy(bucket); ok {
		if policy.FileSizeLimit > 0 && int64(len(data)) > policy.FileSizeLimit {
			return "", &apperr.UploadError{Message: fmt.Sprintf("object exceeds bucket size limit of %d bytes", policy.FileSizeLimit)}
		}
		if !policy.Allows(contentType) {
			return "", &apperr.UploadError{Message: fmt.Sprintf("content type %s not allowed in bucket %s", contentType, bucket)}
		}
	}

	path, err := s.objectPath(bucket, key)
	if err != nil {
		return "", &apperr.UploadError{Err: err, Message: err.Error()}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &apperr.UploadError{Err: err, Message: fmt.Sprintf("failed to create directory: %v", err)}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &apperr.UploadError{Err: err, Message: fmt.Sprintf("failed to save file: %v", err)}
	}
	return s.PublicURL(bucket, key), nil
}

func (s *FilesystemStore) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return &apperr.TransientError{Err: err}
	}
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return &apperr.NotFoundError{Resource: "object", ID: key}
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &apperr.NotFoundError{Resource: "object", ID: key}
		}
		return &apperr.TransientError{Err: err}
	}
	return nil
}

func (s *FilesystemStore) EnsureBucket(ctx context.Context, bucket string, policy BucketPolicy) error {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return &apperr.UploadError{Err: err, Message: err.Error()}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &apperr.UploadError{Err: err, Message: fmt.Sprintf("failed to create bucket %s: %v", bucket, err)}
	}
	s.mu.Lock()
	s.policies[bucket] = policy
	s.mu.Unlock()
	return nil
}

func (s *FilesystemStore) List(ctx context.Context, bucket, prefix string, fn func(ObjectInfo) error) error {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return err
	}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()})
	})
	if errors.Is(err, fs.ErrNotExist) {
		return &apperr.NotFoundError{Resource: "bucket", ID: bucket}
	}
	return err
}

func (s *FilesystemStore) policy(bucket string) (BucketPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[bucket]
	return p, ok
}

func (s *FilesystemStore) bucketDir(bucket string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	return filepath.Join(s.BaseDir, bucket), nil
}

// objectPath rejects keys that would escape the bucket directory.
func (s *FilesystemStore) objectPath(bucket, key string) (string, error) {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return "", err
	}
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid object key %q", key)
		}
	}
	return filepath.Join(dir, filepath.FromSlash(key)), nil
}
