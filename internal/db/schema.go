package db

import (
	"context"
	"fmt"
	"log"
)

// schemaStatements create the catalog tables this service owns. Every
// statement is idempotent so Init can run on each startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		category_id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		parent_id INTEGER REFERENCES categories(category_id) ON DELETE SET NULL,
		is_active BOOLEAN NOT NULL DEFAULT true
	);`,
	`CREATE TABLE IF NOT EXISTS units (
		unit_id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true
	);`,
	`CREATE TABLE IF NOT EXISTS products (
		product_id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT,
		sku TEXT,
		price NUMERIC(12,2) NOT NULL DEFAULT 0,
		sale_price NUMERIC(12,2),
		stock INTEGER NOT NULL DEFAULT 0,
		brand TEXT,
		is_active BOOLEAN NOT NULL DEFAULT true,
		is_featured BOOLEAN NOT NULL DEFAULT false,
		primary_category_id INTEGER REFERENCES categories(category_id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS product_categories (
		product_id INTEGER NOT NULL REFERENCES products(product_id) ON DELETE CASCADE,
		category_id INTEGER NOT NULL REFERENCES categories(category_id) ON DELETE CASCADE,
		PRIMARY KEY (product_id, category_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_product_categories_category ON product_categories(category_id);`,
	`CREATE TABLE IF NOT EXISTS product_units (
		product_id INTEGER NOT NULL REFERENCES products(product_id) ON DELETE CASCADE,
		unit_id INTEGER NOT NULL REFERENCES units(unit_id) ON DELETE CASCADE,
		PRIMARY KEY (product_id, unit_id)
	);`,
	`CREATE TABLE IF NOT EXISTS product_images (
		image_id SERIAL PRIMARY KEY,
		product_id INTEGER NOT NULL REFERENCES products(product_id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		alt_text TEXT,
		is_main BOOLEAN NOT NULL DEFAULT false,
		display_order INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`ALTER TABLE product_images ADD COLUMN IF NOT EXISTS deleted_at TIMESTAMPTZ;`,
	`CREATE INDEX IF NOT EXISTS idx_product_images_product ON product_images(product_id, display_order);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_product_images_one_main
		ON product_images(product_id) WHERE is_main AND deleted_at IS NULL;`,
	`CREATE TABLE IF NOT EXISTS media_pending_deletion (
		bucket TEXT NOT NULL,
		object_key TEXT NOT NULL,
		image_id INTEGER,
		requested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		not_before TIMESTAMPTZ NOT NULL DEFAULT now(),
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		last_checked_at TIMESTAMPTZ,
		PRIMARY KEY (bucket, object_key)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_media_pending_due ON media_pending_deletion(not_before);`,
}

// Init creates/verifies the catalog schema. Safe to call at startup.
func (db *Database) Init(ctx context.Context) error {
	if db == nil || db.Pool == nil {
		return fmt.Errorf("nil pool")
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, s := range schemaStatements {
		if _, err := tx.Exec(ctx, s); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}

	log.Println("[STOREFRONT-DB] Catalog schema verified")
	return nil
}
