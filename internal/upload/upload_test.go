package upload

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/storage"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func pngOfSize(n int) []byte {
	b := make([]byte, n)
	copy(b, pngMagic)
	return b
}

type countingStore struct {
	storage.Store
	ensures   atomic.Int32
	ensureErr error
}

func (c *countingStore) EnsureBucket(ctx context.Context, bucket string, policy storage.BucketPolicy) error {
	c.ensures.Add(1)
	time.Sleep(10 * time.Millisecond)
	if c.ensureErr != nil {
		return c.ensureErr
	}
	return c.Store.EnsureBucket(ctx, bucket, policy)
}

func newTestGateway(t *testing.T) (*Gateway, *storage.FilesystemStore) {
	t.Helper()
	fs := storage.NewFilesystemStore(t.TempDir(), "http://localhost:8080/storage/v1")
	return NewGateway(fs, "product-images", 0), fs
}

func validationField(t *testing.T, err error) string {
	t.Helper()
	var v *apperr.ValidationError
	require.True(t, errors.As(err, &v), "expected ValidationError, got %v", err)
	return v.Field
}

func TestHandleUploadAcceptsPNG(t *testing.T) {
	g, fs := newTestGateway(t)
	g.now = func() time.Time { return time.Unix(0, 1700000000000000000) }
	data := pngOfSize(2 << 20)

	res, err := g.HandleUpload(context.Background(), File{
		Name: "my shoe (1).png", ContentType: "image/png", Size: int64(len(data)), Body: bytes.NewReader(data),
	})
	require.NoError(t, err)
	assert.Equal(t, "1700000000000000000-my_shoe__1_.png", res.Key)
	assert.Equal(t, int64(2<<20), res.Size)
	assert.Equal(t, "product-images", res.Bucket)

	key := storage.ResolveKeyFromPublicURL("product-images", res.URL)
	require.Equal(t, res.Key, key)
	stored, err := os.ReadFile(filepath.Join(fs.BaseDir, "product-images", key))
	require.NoError(t, err)
	assert.Len(t, stored, 2<<20)
}

func TestHandleUploadRejectsLargeFile(t *testing.T) {
	g, _ := newTestGateway(t)
	data := pngOfSize(11 << 20)

	_, err := g.HandleUpload(context.Background(), File{Name: "big.png", ContentType: "image/png", Size: int64(len(data)), Body: bytes.NewReader(data)})
	assert.Equal(t, "size", validationField(t, err))

	// Declared size understates the body.
	_, err = g.HandleUpload(context.Background(), File{Name: "big.png", ContentType: "image/png", Size: 10, Body: bytes.NewReader(data)})
	assert.Equal(t, "size", validationField(t, err))
}

func TestHandleUploadRejectsTextPlain(t *testing.T) {
	g, fs := newTestGateway(t)
	data := []byte("hello world")

	_, err := g.HandleUpload(context.Background(), File{Name: "notes.txt", ContentType: "text/plain; charset=utf-8", Size: int64(len(data)), Body: bytes.NewReader(data)})
	assert.Equal(t, "content_type", validationField(t, err))

	_, statErr := os.Stat(filepath.Join(fs.BaseDir, "product-images"))
	assert.True(t, os.IsNotExist(statErr), "bucket must not be created for a rejected file")
}

func TestHandleUploadSniffsGenericType(t *testing.T) {
	g, _ := newTestGateway(t)
	data := pngOfSize(1024)

	res, err := g.HandleUpload(context.Background(), File{Name: "blob", ContentType: "application/octet-stream", Size: 1024, Body: bytes.NewReader(data)})
	require.NoError(t, err)
	assert.Contains(t, res.Key, "-blob")
}

func TestHandleUploadEmptyFile(t *testing.T) {
	g, _ := newTestGateway(t)
	_, err := g.HandleUpload(context.Background(), File{Name: "a.png", ContentType: "image/png", Body: bytes.NewReader(nil)})
	assert.Equal(t, "file", validationField(t, err))
}

func TestEnsureBucketOncePerProcess(t *testing.T) {
	fs := storage.NewFilesystemStore(t.TempDir(), "http://localhost/storage/v1")
	cs := &countingStore{Store: fs}
	g := NewGateway(cs, "product-images", 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data := pngOfSize(64)
			_, err := g.HandleUpload(context.Background(), File{Name: "a.png", ContentType: "image/png", Size: 64, Body: bytes.NewReader(data)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), cs.ensures.Load())
}

func TestEnsureBucketFailureNotCached(t *testing.T) {
	fs := storage.NewFilesystemStore(t.TempDir(), "http://localhost/storage/v1")
	cs := &countingStore{Store: fs, ensureErr: &apperr.UploadError{Message: "quota exceeded"}}
	g := NewGateway(cs, "product-images", 0)
	data := pngOfSize(64)

	_, err := g.HandleUpload(context.Background(), File{Name: "a.png", ContentType: "image/png", Size: 64, Body: bytes.NewReader(data)})
	var upErr *apperr.UploadError
	require.ErrorAs(t, err, &upErr)

	cs.ensureErr = nil
	_, err = g.HandleUpload(context.Background(), File{Name: "a.png", ContentType: "image/png", Size: 64, Body: bytes.NewReader(data)})
	require.NoError(t, err)
	assert.Equal(t, int32(2), cs.ensures.Load())
}

func TestNormalizeFilename(t *testing.T) {
	cases := map[string]string{
		"photo.jpg":           "photo.jpg",
		"my photo (2).JPG":    "my_photo__2_.JPG",
		"ünïcode.png":         "_n_code.png",
		"a/b.png":             "a_b.png",
		"../../etc/passwd":    ".._.._etc_passwd",
		`C:\Users\me\a b.gif`: "C__Users_me_a_b.gif",
		"":                    "file",
		"..":                  "file",
		"/":                   "file",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeFilename(in), in)
	}
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", DetectContentType("image/jpg", nil))
	assert.Equal(t, "image/png", DetectContentType("IMAGE/PNG; foo=bar", nil))
	assert.Equal(t, "image/png", DetectContentType("", pngMagic))
	assert.Equal(t, "text/plain", DetectContentType("", []byte("just text")))
}
