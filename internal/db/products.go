package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgForeignKeyViolation = "23503"

// GetProduct returns one product by id.
func (db *Database) GetProduct(ctx context.Context, productID int) (models.Product, error) {
	var p models.Product
	err := db.Pool.QueryRow(ctx, `
        SELECT product_id, name, COALESCE(slug, ''), COALESCE(sku, ''), price, sale_price, stock,
               COALESCE(brand, ''), is_active, is_featured, primary_category_id, created_at, updated_at
        FROM products
        WHERE product_id = $1
    `, productID).Scan(
		&p.ID, &p.Name, &p.Slug, &p.SKU, &p.Price, &p.SalePrice, &p.Stock,
		&p.Brand, &p.IsActive, &p.IsFeatured, &p.PrimaryCategoryID, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, apperr.NotFound("product", productID)
	}
	if err != nil {
		return p, apperr.Unknown(err)
	}
	return p, nil
}

// ReplaceProductRelations updates the product's scalar fields and makes its
// category and unit rows equal categoryIDs and unitIDs. categoryIDs must be
// normalized and non-empty; its first element becomes primary_category_id.
//
// Everything runs in one transaction holding the product row lock, so
// concurrent replaces for the same product serialize and a failure leaves the
// previous state intact.
func (db *Database) ReplaceProductRelations(ctx context.Context, productID int, fields models.ProductFields, categoryIDs, unitIDs []int) error {
	if len(categoryIDs) == 0 {
		return apperr.Validation("category_ids", "at least one category is required")
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return apperr.Unknown(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	var locked int
	err = tx.QueryRow(ctx, `SELECT product_id FROM products WHERE product_id = $1 FOR UPDATE`, productID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("product", productID)
	}
	if err != nil {
		return apperr.Unknown(err)
	}

	_, err = tx.Exec(ctx, `
        UPDATE products
        SET
            name = $2,
            slug = NULLIF($3, ''),
            sku = NULLIF($4, ''),
            price = $5,
            sale_price = $6,
            stock = $7,
            brand = NULLIF($8, ''),
            is_active = $9,
            is_featured = $10,
            primary_category_id = $11,
            updated_at = CURRENT_TIMESTAMP
        WHERE product_id = $1
    `,
		productID,
		fields.Name,
		fields.Slug,
		fields.SKU,
		fields.Price,
		fields.SalePrice,
		fields.Stock,
		fields.Brand,
		fields.IsActive,
		fields.IsFeatured,
		categoryIDs[0],
	)
	if err != nil {
		return mapWriteErr(err, "category_ids")
	}

	if err := replaceSet(ctx, tx, "product_categories", "category_id", productID, categoryIDs); err != nil {
		return mapWriteErr(err, "category_ids")
	}
	if err := replaceSet(ctx, tx, "product_units", "unit_id", productID, unitIDs); err != nil {
		return mapWriteErr(err, "unit_ids")
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Unknown(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// replaceSet applies a set diff to a junction table: rows outside ids are
// deleted and missing ones inserted. Rows already present are left alone.
func replaceSet(ctx context.Context, tx pgx.Tx, table, column string, productID int, ids []int) error {
	if ids == nil {
		ids = []int{}
	}
	del := fmt.Sprintf(`DELETE FROM %s WHERE product_id = $1 AND NOT (%s = ANY($2::int[]))`, table, column)
	if _, err := tx.Exec(ctx, del, productID, ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	ins := fmt.Sprintf(`
        INSERT INTO %s (product_id, %s)
        SELECT $1, id FROM unnest($2::int[]) AS id
        ON CONFLICT DO NOTHING
    `, table, column)
	_, err := tx.Exec(ctx, ins, productID, ids)
	return err
}

// ProductRelations reads the current association state of a product.
func (db *Database) ProductRelations(ctx context.Context, productID int) (models.ProductRelations, error) {
	rel := models.ProductRelations{ProductID: productID, CategoryIDs: []int{}, UnitIDs: []int{}}
	err := db.Pool.QueryRow(ctx, `SELECT primary_category_id FROM products WHERE product_id = $1`, productID).
		Scan(&rel.PrimaryCategoryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return rel, apperr.NotFound("product", productID)
	}
	if err != nil {
		return rel, apperr.Unknown(err)
	}

	if rel.CategoryIDs, err = db.idSet(ctx, `SELECT category_id FROM product_categories WHERE product_id = $1 ORDER BY category_id`, productID); err != nil {
		return rel, err
	}
	if rel.UnitIDs, err = db.idSet(ctx, `SELECT unit_id FROM product_units WHERE product_id = $1 ORDER BY unit_id`, productID); err != nil {
		return rel, err
	}
	return rel, nil
}

func (db *Database) idSet(ctx context.Context, query string, productID int) ([]int, error) {
	rows, err := db.Pool.Query(ctx, query, productID)
	if err != nil {
		return nil, apperr.Unknown(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, apperr.Unknown(err)
	}
	if ids == nil {
		ids = []int{}
	}
	return ids, nil
}

// mapWriteErr turns a foreign key violation into a ValidationError on field;
// any other backend error is passed through with its raw message.
func mapWriteErr(err error, field string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return apperr.Validation(field, "references a missing row (%s)", pgErr.ConstraintName)
	}
	return apperr.Unknown(err)
}
