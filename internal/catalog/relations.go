package catalog

import (
	"context"
	"math"
	"strings"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/models"
)

// Coordinator rewrites a product's category and unit associations.
type Coordinator struct {
	store RelationStore
}

func NewCoordinator(store RelationStore) *Coordinator {
	return &Coordinator{store: store}
}

// ReplaceProductRelations updates the product's scalar fields and replaces its
// category and unit sets. Omitted ids are removed. Duplicates collapse keeping
// the first occurrence, and the first category becomes the primary category.
//
// Input is validated before anything is written.
func (c *Coordinator) ReplaceProductRelations(ctx context.Context, productID int, fields models.ProductFields, categoryIDs, unitIDs []int) error {
	if productID <= 0 || productID > MaxID {
		return apperr.Validation("id", "invalid product id %d", productID)
	}
	if strings.TrimSpace(fields.Name) == "" {
		return apperr.Validation("name", "name is required")
	}
	if fields.Price.IsNegative() {
		return apperr.Validation("price", "price must not be negative")
	}
	if fields.SalePrice != nil && fields.SalePrice.IsNegative() {
		return apperr.Validation("sale_price", "sale price must not be negative")
	}

	cats, err := normalizeIDs("category_ids", categoryIDs)
	if err != nil {
		return err
	}
	if len(cats) == 0 {
		return apperr.Validation("category_ids", "at least one category is required")
	}
	units, err := normalizeIDs("unit_ids", unitIDs)
	if err != nil {
		return err
	}

	return c.store.ReplaceProductRelations(ctx, productID, fields, cats, units)
}

// ProductRelations returns the current association state, for callers that
// need to re-read before retrying a failed replace.
func (c *Coordinator) ProductRelations(ctx context.Context, productID int) (models.ProductRelations, error) {
	if productID <= 0 {
		return models.ProductRelations{}, apperr.Validation("id", "invalid product id %d", productID)
	}
	return c.store.ProductRelations(ctx, productID)
}

// MaxID is the largest id the integer key columns hold.
const MaxID = math.MaxInt32

// normalizeIDs drops duplicates preserving first occurrence.
func normalizeIDs(field string, ids []int) ([]int, error) {
	out := make([]int, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 || id > MaxID {
			return nil, apperr.Validation(field, "invalid id %d", id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
