package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/upload"
)

// multipartOverhead is the allowance for multipart framing on top of the file.
const multipartOverhead = 1 << 20

// Upload handles POST /upload (multipart field "file").
func (h *Handler) Upload(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(c, apperr.Validation("size", "file exceeds the %d MiB limit", h.MaxUploadBytes>>20))
			return
		}
		respondError(c, apperr.Validation("file", "No file provided"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, &apperr.UploadError{Err: err, Message: "Failed to open uploaded file"})
		return
	}
	defer file.Close()

	res, err := h.uploads.HandleUpload(ctx, upload.File{
		Name:        fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Body:        file,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
