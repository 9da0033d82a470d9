package main

import (
	"context"
	"errors"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/models"
)

var errDatabaseUnavailable = &apperr.UnknownError{Err: errors.New("database not initialized")}

// unavailableCatalog answers catalog routes while the database is down so the
// process can still serve /live and uploads.
type unavailableCatalog struct{}

func (unavailableCatalog) ReplaceProductRelations(context.Context, int, models.ProductFields, []int, []int) error {
	return errDatabaseUnavailable
}

func (unavailableCatalog) ProductRelations(context.Context, int) (models.ProductRelations, error) {
	return models.ProductRelations{}, errDatabaseUnavailable
}

func (unavailableCatalog) RecordImages(context.Context, int, []models.ImageDescriptor) ([]models.ProductImage, error) {
	return nil, errDatabaseUnavailable
}

func (unavailableCatalog) SetMainImage(context.Context, int, int) error {
	return errDatabaseUnavailable
}

func (unavailableCatalog) DeleteImage(context.Context, int, int) error { return errDatabaseUnavailable }

func (unavailableCatalog) DeleteImageRecord(context.Context, int) error {
	return errDatabaseUnavailable
}

func (unavailableCatalog) ListImages(context.Context, int) ([]models.ProductImage, error) {
	return nil, errDatabaseUnavailable
}

func (unavailableCatalog) ReorderImages(context.Context, int, []models.ImageOrder) error {
	return errDatabaseUnavailable
}
