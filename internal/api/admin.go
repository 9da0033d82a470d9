package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// AdminReconcile handles POST /admin/reconcile: one orphan audit plus a drain
// of the pending deletion queue. Optional query param: prefix.
func (h *Handler) AdminReconcile(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	if h.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciler not configured"})
		return
	}

	res, err := h.reconciler.Reconcile(ctx, strings.TrimSpace(c.Query("prefix")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "reconcile complete", "result": res})
}
