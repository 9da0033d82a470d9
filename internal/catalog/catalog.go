// Package catalog keeps a product's category/unit associations and its image
// collection consistent across the relational store and the blob store.
//
// Both backends are injected as interfaces; internal/db and internal/storage
// provide the production implementations.
package catalog

import (
	"context"
	"time"

	"github.com/expotoworld/storefront/internal/models"
)

// DefaultRetryBackoff is how long a failed blob deletion waits before the next attempt.
const DefaultRetryBackoff = 15 * time.Minute

// RelationStore persists products and their junction rows.
type RelationStore interface {
	// ReplaceProductRelations updates the scalar fields and makes the junction
	// rows equal the given sets atomically. categoryIDs is normalized and
	// non-empty; categoryIDs[0] becomes the primary category.
	ReplaceProductRelations(ctx context.Context, productID int, fields models.ProductFields, categoryIDs, unitIDs []int) error
	ProductRelations(ctx context.Context, productID int) (models.ProductRelations, error)
}

// ImageStore persists product image rows.
type ImageStore interface {
	InsertImages(ctx context.Context, productID int, descs []models.ImageDescriptor) ([]models.ProductImage, error)
	SetMainImage(ctx context.Context, productID, imageID int) error
	// TombstoneImage marks the row deleted and queues the blob key returned by
	// resolveKey (if any) in the same transaction.
	TombstoneImage(ctx context.Context, productID, imageID int, bucket string, resolveKey func(url string) string) (models.ProductImage, string, error)
	DeleteImageRow(ctx context.Context, productID, imageID int) error
	DeleteImageRecord(ctx context.Context, imageID int) error
	ListImages(ctx context.Context, productID int) ([]models.ProductImage, error)
	ReorderImages(ctx context.Context, productID int, order []models.ImageOrder) error
}

// PendingStore is the queue of blob keys awaiting deletion.
type PendingStore interface {
	EnqueuePendingDeletion(ctx context.Context, p models.PendingDeletion) error
	DuePendingDeletions(ctx context.Context, limit int) ([]models.PendingDeletion, error)
	ResolvePendingDeletion(ctx context.Context, bucket, key string) error
	DeferPendingDeletion(ctx context.Context, bucket, key, cause string, backoff time.Duration) error
	PurgeTombstones(ctx context.Context, olderThan time.Time) (int64, error)
	LiveImageURLs(ctx context.Context) ([]string, error)
}
