// Package storage is the blob store gateway: upload bytes under a key, resolve
// public URLs, delete by key, and map public URLs back to keys. It holds no
// catalog logic.
package storage

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// publicMarker is the path segment preceding "<bucket>/<key>" in public URLs.
const publicMarker = "/object/public/"

// BucketPolicy describes the constraints a bucket is created with.
type BucketPolicy struct {
	Public           bool
	FileSizeLimit    int64
	AllowedMIMETypes []string
}

// Allows reports whether contentType is accepted by the policy. An empty
// whitelist accepts everything.
func (p BucketPolicy) Allows(contentType string) bool {
	if len(p.AllowedMIMETypes) == 0 {
		return true
	}
	for _, t := range p.AllowedMIMETypes {
		if strings.EqualFold(t, contentType) {
			return true
		}
	}
	return false
}

// ObjectInfo is a listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is implemented by every blob backend.
//
// Delete returns an *apperr.NotFoundError when the object does not exist and an
// *apperr.TransientError for failures worth retrying. Upload failures are
// *apperr.UploadError.
type Store interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, bucket, key string) error
	PublicURL(bucket, key string) string
	EnsureBucket(ctx context.Context, bucket string, policy BucketPolicy) error
	List(ctx context.Context, bucket, prefix string, fn func(ObjectInfo) error) error
}

// ResolveKeyFromPublicURL derives the object key from a URL previously issued
// for bucket. The current shape is ".../object/public/<bucket>/<key>"; the
// legacy path-style shape "<host>/<bucket>/<key>" is accepted as a fallback
// when the bucket is the first path segment.
// It returns "" when neither matches, in which case no blob deletion should
// be attempted.
func ResolveKeyFromPublicURL(bucket, rawURL string) string {
	if bucket == "" || strings.TrimSpace(rawURL) == "" {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	p := u.Path

	// A URL in the public shape belongs to whichever bucket follows the marker.
	if i := strings.Index(p, publicMarker); i >= 0 {
		rest := p[i+len(publicMarker):]
		if !strings.HasPrefix(rest, bucket+"/") {
			return ""
		}
		return strings.TrimPrefix(rest[len(bucket)+1:], "/")
	}
	if strings.HasPrefix(p, "/"+bucket+"/") {
		return strings.TrimPrefix(p[len(bucket)+2:], "/")
	}
	return ""
}

// publicURL joins base, bucket and key into the public URL shape.
func publicURL(base, bucket, key string) string {
	return strings.TrimRight(base, "/") + publicMarker + bucket + "/" + escapeKey(key)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
