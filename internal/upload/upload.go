// Package upload validates incoming image files and stores them through the
// storage gateway.
package upload

import (
	"context"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/singleflight"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/models"
	"github.com/expotoworld/storefront/internal/storage"
)

// MaxFileSize is the largest accepted upload.
const MaxFileSize int64 = 10 << 20

// AllowedTypes is the image MIME whitelist, also applied to the bucket.
var AllowedTypes = []string{"image/jpeg", "image/png", "image/webp", "image/avif", "image/gif"}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// File is an incoming upload.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Gateway validates files and hands them to the blob store.
type Gateway struct {
	store   storage.Store
	bucket  string
	maxSize int64
	now     func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	ensured map[string]bool
}

// NewGateway returns a gateway writing to bucket. maxSize <= 0 means MaxFileSize.
func NewGateway(store storage.Store, bucket string, maxSize int64) *Gateway {
	if maxSize <= 0 || maxSize > MaxFileSize {
		maxSize = MaxFileSize
	}
	return &Gateway{
		store:   store,
		bucket:  bucket,
		maxSize: maxSize,
		now:     time.Now,
		ensured: map[string]bool{},
	}
}

// Bucket returns the target bucket name.
func (g *Gateway) Bucket() string { return g.bucket }

// HandleUpload validates f, ensures the bucket and stores the bytes under a
// collision-free key.
func (g *Gateway) HandleUpload(ctx context.Context, f File) (models.UploadResult, error) {
	if f.Body == nil {
		return models.UploadResult{}, apperr.Validation("file", "no file provided")
	}
	if f.Size > g.maxSize {
		return models.UploadResult{}, tooLarge(g.maxSize)
	}

	// Read one byte past the limit so an understated Size is still caught.
	data, err := io.ReadAll(io.LimitReader(f.Body, g.maxSize+1))
	if err != nil {
		return models.UploadResult{}, &apperr.UploadError{Err: err, Message: fmt.Sprintf("failed to read upload: %v", err)}
	}
	if int64(len(data)) > g.maxSize {
		return models.UploadResult{}, tooLarge(g.maxSize)
	}
	if len(data) == 0 {
		return models.UploadResult{}, apperr.Validation("file", "file is empty")
	}

	contentType := DetectContentType(f.ContentType, data)
	if !allowed(contentType) {
		return models.UploadResult{}, apperr.Validation("content_type",
			"content type %q not allowed; accepted: %s", contentType, strings.Join(AllowedTypes, ", "))
	}

	if err := g.ensureBucket(ctx); err != nil {
		return models.UploadResult{}, err
	}

	key := g.objectKey(f.Name)
	url, err := g.store.Upload(ctx, g.bucket, key, data, contentType)
	if err != nil {
		return models.UploadResult{}, err
	}
	return models.UploadResult{URL: url, Key: key, Size: int64(len(data)), Bucket: g.bucket}, nil
}

// ensureBucket creates the bucket once per process. Concurrent first uploads
// share a single call; a failure is not cached.
func (g *Gateway) ensureBucket(ctx context.Context) error {
	g.mu.Lock()
	done := g.ensured[g.bucket]
	g.mu.Unlock()
	if done {
		return nil
	}

	_, err, _ := g.group.Do(g.bucket, func() (interface{}, error) {
		g.mu.Lock()
		done := g.ensured[g.bucket]
		g.mu.Unlock()
		if done {
			return nil, nil
		}
		policy := storage.BucketPolicy{
			Public:           true,
			FileSizeLimit:    g.maxSize,
			AllowedMIMETypes: AllowedTypes,
		}
		if err := g.store.EnsureBucket(ctx, g.bucket, policy); err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.ensured[g.bucket] = true
		g.mu.Unlock()
		return nil, nil
	})
	return err
}

func (g *Gateway) objectKey(name string) string {
	return strconv.FormatInt(g.now().UnixNano(), 10) + "-" + NormalizeFilename(name)
}

// NormalizeFilename replaces every character outside [A-Za-z0-9._-] with '_'.
// Path separators are replaced too, so the result is always one key segment.
func NormalizeFilename(name string) string {
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if strings.Trim(name, "._") == "" {
		return "file"
	}
	return name
}

// DetectContentType returns the declared media type without parameters, or
// the sniffed type when none (or a generic one) was declared.
func DetectContentType(declared string, data []byte) string {
	ct := strings.ToLower(strings.TrimSpace(declared))
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	if ct == "image/jpg" || ct == "image/pjpeg" {
		ct = "image/jpeg"
	}
	if ct == "" || ct == "application/octet-stream" {
		ct = mimetype.Detect(data).String()
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			ct = mt
		}
	}
	return ct
}

func allowed(ct string) bool {
	for _, t := range AllowedTypes {
		if t == ct {
			return true
		}
	}
	return false
}

func tooLarge(limit int64) error {
	return apperr.Validation("size", "file exceeds the %d MiB limit", limit>>20)
}
