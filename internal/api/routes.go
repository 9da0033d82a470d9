package api

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the catalog endpoints on v1. Every route requires an
// Admin JWT; reconcile additionally requires the maintenance token.
func (h *Handler) RegisterRoutes(v1 *gin.RouterGroup, jwtSecret, maintenanceToken string) {
	admin := v1.Group("")
	admin.Use(AuthMiddleware(jwtSecret), AdminMiddleware())
	{
		admin.PUT("/products/:id", h.UpdateProduct)
		admin.GET("/products/:id/relations", h.GetProductRelations)

		admin.POST("/products/images", h.ImageAction)
		admin.GET("/products/:id/images", h.GetProductImages)
		admin.PUT("/products/:id/images/reorder", h.ReorderProductImages)
		admin.PATCH("/products/:id/images/main", h.SetMainImage)
		admin.DELETE("/products/:id/images/:imageId", h.DeleteProductImage)

		admin.POST("/upload", h.Upload)

		admin.POST("/admin/reconcile", MaintenanceMiddleware(maintenanceToken), h.AdminReconcile)
	}
}
