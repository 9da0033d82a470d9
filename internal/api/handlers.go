package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/catalog"
	"github.com/expotoworld/storefront/internal/logging"
	"github.com/expotoworld/storefront/internal/models"
	"github.com/expotoworld/storefront/internal/upload"
)

const requestTimeout = 10 * time.Second

// RelationService is the relation replacement coordinator.
type RelationService interface {
	ReplaceProductRelations(ctx context.Context, productID int, fields models.ProductFields, categoryIDs, unitIDs []int) error
	ProductRelations(ctx context.Context, productID int) (models.ProductRelations, error)
}

// ImageService is the image lifecycle manager.
type ImageService interface {
	RecordImages(ctx context.Context, productID int, descs []models.ImageDescriptor) ([]models.ProductImage, error)
	SetMainImage(ctx context.Context, productID, imageID int) error
	DeleteImage(ctx context.Context, productID, imageID int) error
	DeleteImageRecord(ctx context.Context, imageID int) error
	ListImages(ctx context.Context, productID int) ([]models.ProductImage, error)
	ReorderImages(ctx context.Context, productID int, order []models.ImageOrder) error
}

// UploadService is the upload gateway.
type UploadService interface {
	HandleUpload(ctx context.Context, f upload.File) (models.UploadResult, error)
}

// ReconcileService runs one media reconciliation pass.
type ReconcileService interface {
	Reconcile(ctx context.Context, prefix string) (catalog.ReconcileResult, error)
}

// HealthChecker reports backend health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler provides the catalog HTTP handlers.
type Handler struct {
	db         HealthChecker
	relations  RelationService
	images     ImageService
	uploads    UploadService
	reconciler ReconcileService

	// MaxUploadBytes bounds the multipart request body of POST /upload.
	MaxUploadBytes int64
}

// NewHandler creates a new handler instance
func NewHandler(db HealthChecker, relations RelationService, images ImageService, uploads UploadService, reconciler ReconcileService) *Handler {
	return &Handler{
		db:             db,
		relations:      relations,
		images:         images,
		uploads:        uploads,
		reconciler:     reconciler,
		MaxUploadBytes: upload.MaxFileSize,
	}
}

// Health handles GET /health and /ready
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "Database not initialized"})
		return
	}
	if err := h.db.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "Database connection failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "storefront-catalog",
	})
}

// respondError writes err as {"error": msg} with the status its type maps to.
// Backend messages are passed through unchanged.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.Error("request failed", map[string]interface{}{
			"request_id": logging.RequestID(c),
			"path":       c.FullPath(),
			"error":      err,
		})
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// intParam parses a positive integer path parameter.
func intParam(c *gin.Context, name string) (int, error) {
	raw := c.Param(name)
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 || id > catalog.MaxID {
		return 0, apperr.Validation(name, "invalid %s %q", name, raw)
	}
	return id, nil
}
