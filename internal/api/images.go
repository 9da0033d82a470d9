package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/models"
)

type imageActionRequest struct {
	Action string          `json:"action" binding:"required"`
	Data   json.RawMessage `json:"data" binding:"required"`
}

type insertImagesData struct {
	ProductID int                      `json:"product_id"`
	Images    []models.ImageDescriptor `json:"images"`
}

type deleteImageData struct {
	ImageID int `json:"image_id"`
}

// ImageAction handles POST /products/images. "insert" records uploaded images;
// "delete" removes one row without touching the blob store.
func (h *Handler) ImageAction(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	var req imageActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("body", "Invalid request body: %v", err))
		return
	}

	switch req.Action {
	case "insert":
		var data insertImagesData
		if err := json.Unmarshal(req.Data, &data); err != nil {
			respondError(c, apperr.Validation("data", "invalid insert payload: %v", err))
			return
		}
		images, err := h.images.RecordImages(ctx, data.ProductID, data.Images)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"images": images})
	case "delete":
		var data deleteImageData
		if err := json.Unmarshal(req.Data, &data); err != nil {
			respondError(c, apperr.Validation("data", "invalid delete payload: %v", err))
			return
		}
		if err := h.images.DeleteImageRecord(ctx, data.ImageID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Image record deleted successfully"})
	default:
		respondError(c, apperr.Validation("action", "unknown action %q", req.Action))
	}
}

// GetProductImages handles GET /products/:id/images
func (h *Handler) GetProductImages(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	productID, err := intParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	images, err := h.images.ListImages(ctx, productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, images)
}

// ReorderProductImages handles PUT /products/:id/images/reorder
func (h *Handler) ReorderProductImages(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	productID, err := intParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	var req struct {
		ImageOrders []models.ImageOrder `json:"image_orders"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("body", "Invalid request body: %v", err))
		return
	}

	if err := h.images.ReorderImages(ctx, productID, req.ImageOrders); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Images reordered successfully"})
}

// DeleteProductImage handles DELETE /products/:id/images/:imageId
func (h *Handler) DeleteProductImage(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	productID, err := intParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	imageID, err := intParam(c, "imageId")
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.images.DeleteImage(ctx, productID, imageID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Image deleted successfully"})
}

// SetMainImage handles PATCH /products/:id/images/main
func (h *Handler) SetMainImage(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	productID, err := intParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	var req struct {
		ImageID int `json:"image_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("image_id", "Invalid request body: %v", err))
		return
	}

	if err := h.images.SetMainImage(ctx, productID, req.ImageID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Main image set successfully", "image_id": req.ImageID})
}
