package db

import (
	"context"
	"fmt"
	"time"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/models"
	"github.com/jackc/pgx/v5"
)

// EnqueuePendingDeletion queues a blob key. Queuing a key twice is a no-op.
func (db *Database) EnqueuePendingDeletion(ctx context.Context, p models.PendingDeletion) error {
	notBefore := p.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now().UTC()
	}
	_, err := db.Pool.Exec(ctx, `
        INSERT INTO media_pending_deletion (bucket, object_key, image_id, not_before)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (bucket, object_key) DO NOTHING
    `, p.Bucket, p.ObjectKey, p.ImageID, notBefore)
	if err != nil {
		return apperr.Unknown(fmt.Errorf("failed to enqueue pending deletion: %w", err))
	}
	return nil
}

// DuePendingDeletions returns up to limit queued keys whose not_before has passed.
func (db *Database) DuePendingDeletions(ctx context.Context, limit int) ([]models.PendingDeletion, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT bucket, object_key, image_id, requested_at, not_before, attempts, last_error, last_checked_at
        FROM media_pending_deletion
        WHERE not_before <= now()
        ORDER BY not_before ASC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, apperr.Unknown(err)
	}
	due, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PendingDeletion, error) {
		var p models.PendingDeletion
		err := row.Scan(&p.Bucket, &p.ObjectKey, &p.ImageID, &p.RequestedAt, &p.NotBefore, &p.Attempts, &p.LastError, &p.CheckedAt)
		return p, err
	})
	if err != nil {
		return nil, apperr.Unknown(err)
	}
	return due, nil
}

// ResolvePendingDeletion removes a key from the queue.
func (db *Database) ResolvePendingDeletion(ctx context.Context, bucket, key string) error {
	if _, err := db.Pool.Exec(ctx, `DELETE FROM media_pending_deletion WHERE bucket = $1 AND object_key = $2`, bucket, key); err != nil {
		return apperr.Unknown(err)
	}
	return nil
}

// DeferPendingDeletion records a failed attempt and pushes the key back by backoff.
func (db *Database) DeferPendingDeletion(ctx context.Context, bucket, key, cause string, backoff time.Duration) error {
	_, err := db.Pool.Exec(ctx, `
        UPDATE media_pending_deletion
        SET not_before = now() + make_interval(secs => $3),
            attempts = attempts + 1,
            last_error = NULLIF($4, ''),
            last_checked_at = now()
        WHERE bucket = $1 AND object_key = $2
    `, bucket, key, backoff.Seconds(), cause)
	if err != nil {
		return apperr.Unknown(err)
	}
	return nil
}

// PurgeTombstones deletes image rows tombstoned before olderThan. Such rows
// belong to deletes that stopped after the blob phase.
func (db *Database) PurgeTombstones(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.Pool.Exec(ctx, `DELETE FROM product_images WHERE deleted_at IS NOT NULL AND deleted_at < $1`, olderThan)
	if err != nil {
		return 0, apperr.Unknown(err)
	}
	return result.RowsAffected(), nil
}

// LiveImageURLs returns the URL of every image row that is not tombstoned.
func (db *Database) LiveImageURLs(ctx context.Context) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `SELECT url FROM product_images WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, apperr.Unknown(err)
	}
	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperr.Unknown(err)
	}
	return urls, nil
}
