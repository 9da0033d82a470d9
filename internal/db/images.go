package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/models"
	"github.com/jackc/pgx/v5"
)

const imageColumns = `image_id, product_id, url, COALESCE(alt_text, ''), is_main, display_order, created_at, deleted_at`

func scanImage(row pgx.Row) (models.ProductImage, error) {
	var img models.ProductImage
	err := row.Scan(&img.ID, &img.ProductID, &img.URL, &img.AltText, &img.IsMain, &img.DisplayOrder, &img.CreatedAt, &img.DeletedAt)
	return img, err
}

// lockProduct takes the product row lock that serializes image mutations.
func lockProduct(ctx context.Context, tx pgx.Tx, productID int) error {
	var id int
	err := tx.QueryRow(ctx, `SELECT product_id FROM products WHERE product_id = $1 FOR UPDATE`, productID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("product", productID)
	}
	if err != nil {
		return apperr.Unknown(err)
	}
	return nil
}

// InsertImages records descs against a product in one transaction. A
// descriptor without an explicit display order is appended after the current
// last image. A main descriptor demotes the current main image.
func (db *Database) InsertImages(ctx context.Context, productID int, descs []models.ImageDescriptor) ([]models.ProductImage, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Unknown(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := lockProduct(ctx, tx, productID); err != nil {
		return nil, err
	}

	for _, d := range descs {
		if d.IsMain {
			if _, err := tx.Exec(ctx, `
                UPDATE product_images SET is_main = false
                WHERE product_id = $1 AND is_main AND deleted_at IS NULL
            `, productID); err != nil {
				return nil, apperr.Unknown(err)
			}
			break
		}
	}

	var next int
	if err := tx.QueryRow(ctx, `
        SELECT COALESCE(MAX(display_order), 0)
        FROM product_images
        WHERE product_id = $1 AND deleted_at IS NULL
    `, productID).Scan(&next); err != nil {
		return nil, apperr.Unknown(err)
	}

	images := make([]models.ProductImage, 0, len(descs))
	for _, d := range descs {
		order := next + 1
		if d.DisplayOrder != nil {
			order = *d.DisplayOrder
		}
		if order > next {
			next = order
		}
		img, err := scanImage(tx.QueryRow(ctx, `
            INSERT INTO product_images (product_id, url, alt_text, is_main, display_order)
            VALUES ($1, $2, NULLIF($3, ''), $4, $5)
            RETURNING `+imageColumns,
			productID, d.URL, d.AltText, d.IsMain, order,
		))
		if err != nil {
			return nil, apperr.Unknown(fmt.Errorf("failed to insert product image: %w", err))
		}
		images = append(images, img)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Unknown(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return images, nil
}

// SetMainImage flags imageID as the product's only main image. Demote and
// promote commit together under the product row lock.
func (db *Database) SetMainImage(ctx context.Context, productID, imageID int) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return apperr.Unknown(fmt.Errorf("failed to start transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := lockProduct(ctx, tx, productID); err != nil {
		return err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM product_images
            WHERE product_id = $1 AND image_id = $2 AND deleted_at IS NULL
        )
    `, productID, imageID).Scan(&exists); err != nil {
		return apperr.Unknown(err)
	}
	if !exists {
		return apperr.NotFound("image", imageID)
	}

	if _, err := tx.Exec(ctx, `
        UPDATE product_images SET is_main = false
        WHERE product_id = $1 AND is_main AND image_id <> $2
    `, productID, imageID); err != nil {
		return apperr.Unknown(fmt.Errorf("failed to unset main flags: %w", err))
	}
	result, err := tx.Exec(ctx, `
        UPDATE product_images SET is_main = true
        WHERE product_id = $1 AND image_id = $2 AND deleted_at IS NULL
    `, productID, imageID)
	if err != nil {
		return apperr.Unknown(fmt.Errorf("failed to set main image: %w", err))
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("image", imageID)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Unknown(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// TombstoneImage marks the image deleted and, when resolveKey yields a blob
// key for its URL, queues that key for deletion in the same transaction. It
// takes the same product lock as SetMainImage. An already tombstoned row is
// returned as-is so an interrupted delete can resume.
func (db *Database) TombstoneImage(ctx context.Context, productID, imageID int, bucket string, resolveKey func(url string) string) (models.ProductImage, string, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return models.ProductImage{}, "", apperr.Unknown(fmt.Errorf("failed to start transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := lockProduct(ctx, tx, productID); err != nil {
		if apperr.IsNotFound(err) {
			return models.ProductImage{}, "", apperr.NotFound("image", imageID)
		}
		return models.ProductImage{}, "", err
	}

	img, err := scanImage(tx.QueryRow(ctx, `
        SELECT `+imageColumns+`
        FROM product_images
        WHERE product_id = $1 AND image_id = $2
        FOR UPDATE
    `, productID, imageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return img, "", apperr.NotFound("image", imageID)
	}
	if err != nil {
		return img, "", apperr.Unknown(err)
	}

	if img.DeletedAt == nil {
		if err := tx.QueryRow(ctx, `
            UPDATE product_images SET deleted_at = now(), is_main = false
            WHERE image_id = $1
            RETURNING deleted_at
        `, imageID).Scan(&img.DeletedAt); err != nil {
			return img, "", apperr.Unknown(err)
		}
		img.IsMain = false
	}

	key := resolveKey(img.URL)
	if key != "" {
		if _, err := tx.Exec(ctx, `
            INSERT INTO media_pending_deletion (bucket, object_key, image_id)
            VALUES ($1, $2, $3)
            ON CONFLICT (bucket, object_key) DO NOTHING
        `, bucket, key, imageID); err != nil {
			return img, "", apperr.Unknown(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return img, "", apperr.Unknown(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return img, key, nil
}

// DeleteImageRow removes a tombstoned image row. A row that is already gone
// counts as deleted.
func (db *Database) DeleteImageRow(ctx context.Context, productID, imageID int) error {
	_, err := db.Pool.Exec(ctx, `
        DELETE FROM product_images
        WHERE product_id = $1 AND image_id = $2 AND deleted_at IS NOT NULL
    `, productID, imageID)
	if err != nil {
		return apperr.Unknown(fmt.Errorf("failed to delete product image: %w", err))
	}
	return nil
}

// DeleteImageRecord removes an image row by id without touching the blob store.
func (db *Database) DeleteImageRecord(ctx context.Context, imageID int) error {
	result, err := db.Pool.Exec(ctx, `DELETE FROM product_images WHERE image_id = $1`, imageID)
	if err != nil {
		return apperr.Unknown(fmt.Errorf("failed to delete product image: %w", err))
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("image", imageID)
	}
	return nil
}

// ListImages returns the live images of a product in display order.
func (db *Database) ListImages(ctx context.Context, productID int) ([]models.ProductImage, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT `+imageColumns+`
        FROM product_images
        WHERE product_id = $1 AND deleted_at IS NULL
        ORDER BY display_order, image_id
    `, productID)
	if err != nil {
		return nil, apperr.Unknown(fmt.Errorf("failed to query product images: %w", err))
	}
	defer rows.Close()

	images := []models.ProductImage{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, apperr.Unknown(fmt.Errorf("failed to scan product image: %w", err))
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unknown(fmt.Errorf("error iterating product images: %w", err))
	}
	return images, nil
}

// ReorderImages applies display positions in one transaction. Every image must
// be a live image of the product.
func (db *Database) ReorderImages(ctx context.Context, productID int, order []models.ImageOrder) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return apperr.Unknown(fmt.Errorf("failed to start transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := lockProduct(ctx, tx, productID); err != nil {
		return err
	}
	for _, o := range order {
		result, err := tx.Exec(ctx, `
            UPDATE product_images SET display_order = $3
            WHERE product_id = $1 AND image_id = $2 AND deleted_at IS NULL
        `, productID, o.ImageID, o.DisplayOrder)
		if err != nil {
			return apperr.Unknown(fmt.Errorf("failed to update image display order: %w", err))
		}
		if result.RowsAffected() == 0 {
			return apperr.NotFound("image", o.ImageID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Unknown(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}
