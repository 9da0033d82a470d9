package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/models"
)

// IDList decodes a JSON array of ids. Elements may be integers or strings
// holding an integer; anything else is rejected.
type IDList []int

func (l *IDList) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*l = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("expected an array of integer ids")
	}
	ids := make([]int, 0, len(raw))
	for _, r := range raw {
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(r))
		dec.UseNumber()
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("invalid id %s", r)
		}
		switch t := v.(type) {
		case json.Number:
			n = t
		case string:
			n = json.Number(strings.TrimSpace(t))
		default:
			return fmt.Errorf("invalid id %s", r)
		}
		id, err := strconv.Atoi(n.String())
		if err != nil {
			return fmt.Errorf("invalid id %s: not an integer", r)
		}
		ids = append(ids, id)
	}
	*l = ids
	return nil
}

type updateProductRequest struct {
	models.ProductFields
	CategoryIDs IDList `json:"category_ids"`
	UnitIDs     IDList `json:"unit_ids"`
}

// UpdateProduct handles PUT /products/:id
func (h *Handler) UpdateProduct(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	productID, err := intParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("body", "Invalid request body: %v", err))
		return
	}

	if err := h.relations.ReplaceProductRelations(ctx, productID, req.ProductFields, req.CategoryIDs, req.UnitIDs); err != nil {
		respondError(c, err)
		return
	}

	rel, err := h.relations.ProductRelations(ctx, productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":             "Product updated successfully",
		"product_id":          productID,
		"primary_category_id": rel.PrimaryCategoryID,
		"category_ids":        rel.CategoryIDs,
		"unit_ids":            rel.UnitIDs,
	})
}

// GetProductRelations handles GET /products/:id/relations
func (h *Handler) GetProductRelations(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	productID, err := intParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	rel, err := h.relations.ProductRelations(ctx, productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rel)
}
