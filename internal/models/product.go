package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID                int              `json:"id" db:"product_id"`
	Name              string           `json:"name" db:"name"`
	Slug              string           `json:"slug" db:"slug"`
	SKU               string           `json:"sku" db:"sku"`
	Price             decimal.Decimal  `json:"price" db:"price"`
	SalePrice         *decimal.Decimal `json:"sale_price" db:"sale_price"`
	Stock             int              `json:"stock" db:"stock"`
	Brand             string           `json:"brand" db:"brand"`
	IsActive          bool             `json:"active" db:"is_active"`
	IsFeatured        bool             `json:"featured" db:"is_featured"`
	PrimaryCategoryID *int             `json:"primary_category_id" db:"primary_category_id"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// ProductFields holds the scalar columns an admin edit may overwrite.
// primary_category_id is absent on purpose: it is derived from the submitted
// category set and written only by the relation coordinator.
type ProductFields struct {
	Name       string           `json:"name" binding:"required"`
	Slug       string           `json:"slug"`
	SKU        string           `json:"sku"`
	Price      decimal.Decimal  `json:"price"`
	SalePrice  *decimal.Decimal `json:"sale_price"`
	Stock      int              `json:"stock"`
	Brand      string           `json:"brand"`
	IsActive   bool             `json:"active"`
	IsFeatured bool             `json:"featured"`
}

// ProductRelations is the current association state of a product.
type ProductRelations struct {
	ProductID         int   `json:"product_id"`
	PrimaryCategoryID *int  `json:"primary_category_id"`
	CategoryIDs       []int `json:"category_ids"`
	UnitIDs           []int `json:"unit_ids"`
}

// Category represents a product category. Categories form a tree through ParentID.
type Category struct {
	ID       int    `json:"id" db:"category_id"`
	Name     string `json:"name" db:"name"`
	ParentID *int   `json:"parent_id" db:"parent_id"`
	IsActive bool   `json:"active" db:"is_active"`
}

// Unit represents a sales unit (piece, kg, box...).
type Unit struct {
	ID       int    `json:"id" db:"unit_id"`
	Name     string `json:"name" db:"name"`
	IsActive bool   `json:"active" db:"is_active"`
}
