package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/logging"
	"github.com/expotoworld/storefront/internal/models"
	"github.com/expotoworld/storefront/internal/storage"
)

// ImageManager records, flags and deletes product images.
type ImageManager struct {
	images  ImageStore
	pending PendingStore
	blobs   storage.Store
	bucket  string

	// RetryBackoff delays the next attempt after a failed blob deletion.
	RetryBackoff time.Duration
}

func NewImageManager(images ImageStore, pending PendingStore, blobs storage.Store, bucket string) *ImageManager {
	return &ImageManager{
		images:       images,
		pending:      pending,
		blobs:        blobs,
		bucket:       bucket,
		RetryBackoff: DefaultRetryBackoff,
	}
}

// RecordImages inserts image rows for uploaded files. At most one descriptor
// may be flagged main; it replaces the product's current main image.
func (m *ImageManager) RecordImages(ctx context.Context, productID int, descs []models.ImageDescriptor) ([]models.ProductImage, error) {
	if productID <= 0 {
		return nil, apperr.Validation("product_id", "invalid product id %d", productID)
	}
	if len(descs) == 0 {
		return nil, apperr.Validation("images", "at least one image is required")
	}
	mains := 0
	for i := range descs {
		descs[i].URL = strings.TrimSpace(descs[i].URL)
		if descs[i].URL == "" {
			return nil, apperr.Validation("url", "image %d is missing a url", i)
		}
		if descs[i].DisplayOrder != nil && *descs[i].DisplayOrder < 0 {
			return nil, apperr.Validation("display_order", "image %d has a negative display order", i)
		}
		if descs[i].IsMain {
			mains++
		}
	}
	if mains > 1 {
		return nil, apperr.Validation("is_main", "at most one image may be main")
	}
	return m.images.InsertImages(ctx, productID, descs)
}

// SetMainImage makes imageID the product's only main image.
func (m *ImageManager) SetMainImage(ctx context.Context, productID, imageID int) error {
	if productID <= 0 {
		return apperr.Validation("product_id", "invalid product id %d", productID)
	}
	if imageID <= 0 {
		return apperr.Validation("image_id", "invalid image id %d", imageID)
	}
	return m.images.SetMainImage(ctx, productID, imageID)
}

// DeleteImage removes an image row and its blob.
//
// The row is first tombstoned and its blob key queued in one transaction.
// The blob delete that follows is best effort: a missing object counts as
// deleted, any other failure is logged and left queued for the reconciler.
// The row is removed last. Calling DeleteImage again after a partial failure
// resumes from the tombstone. A deleted main image is not replaced.
func (m *ImageManager) DeleteImage(ctx context.Context, productID, imageID int) error {
	if productID <= 0 {
		return apperr.Validation("product_id", "invalid product id %d", productID)
	}
	if imageID <= 0 {
		return apperr.Validation("image_id", "invalid image id %d", imageID)
	}

	img, key, err := m.images.TombstoneImage(ctx, productID, imageID, m.bucket, func(url string) string {
		return storage.ResolveKeyFromPublicURL(m.bucket, url)
	})
	if err != nil {
		return err
	}

	if key == "" {
		logging.Warn("image url does not resolve to a blob key", map[string]interface{}{
			"product_id": productID, "image_id": imageID, "url": img.URL,
		})
	} else {
		m.deleteBlob(ctx, key, imageID)
	}

	return m.images.DeleteImageRow(ctx, productID, imageID)
}

func (m *ImageManager) deleteBlob(ctx context.Context, key string, imageID int) {
	err := m.blobs.Delete(ctx, m.bucket, key)
	if err != nil && !apperr.IsNotFound(err) {
		logging.Warn("blob delete failed, left queued", map[string]interface{}{
			"bucket": m.bucket, "key": key, "image_id": imageID, "error": err,
		})
		if derr := m.pending.DeferPendingDeletion(ctx, m.bucket, key, err.Error(), m.RetryBackoff); derr != nil {
			logging.Warn("failed to defer pending deletion", map[string]interface{}{"key": key, "error": derr})
		}
		return
	}
	if rerr := m.pending.ResolvePendingDeletion(ctx, m.bucket, key); rerr != nil {
		logging.Warn("failed to dequeue pending deletion", map[string]interface{}{"key": key, "error": rerr})
	}
}

// DeleteImageRecord removes an image row only; the blob is left for the
// orphan audit.
func (m *ImageManager) DeleteImageRecord(ctx context.Context, imageID int) error {
	if imageID <= 0 {
		return apperr.Validation("id", "invalid image id %d", imageID)
	}
	return m.images.DeleteImageRecord(ctx, imageID)
}

// ListImages returns a product's images in display order.
func (m *ImageManager) ListImages(ctx context.Context, productID int) ([]models.ProductImage, error) {
	if productID <= 0 {
		return nil, apperr.Validation("product_id", "invalid product id %d", productID)
	}
	return m.images.ListImages(ctx, productID)
}

// ReorderImages assigns new display positions.
func (m *ImageManager) ReorderImages(ctx context.Context, productID int, order []models.ImageOrder) error {
	if productID <= 0 {
		return apperr.Validation("product_id", "invalid product id %d", productID)
	}
	if len(order) == 0 {
		return apperr.Validation("images", "no images to reorder")
	}
	seen := make(map[int]struct{}, len(order))
	for _, o := range order {
		if o.ImageID <= 0 {
			return apperr.Validation("image_id", "invalid image id %d", o.ImageID)
		}
		if o.DisplayOrder < 0 {
			return apperr.Validation("display_order", "negative display order for image %d", o.ImageID)
		}
		if _, dup := seen[o.ImageID]; dup {
			return apperr.Validation("image_id", "image %d listed twice", o.ImageID)
		}
		seen[o.ImageID] = struct{}{}
	}
	return m.images.ReorderImages(ctx, productID, order)
}

// MainImage returns the image shown by default: the flagged main image, or
// the first image in display order when none is flagged.
func MainImage(images []models.ProductImage) (models.ProductImage, bool) {
	if len(images) == 0 {
		return models.ProductImage{}, false
	}
	for _, img := range images {
		if img.IsMain {
			return img, true
		}
	}
	return images[0], true
}
