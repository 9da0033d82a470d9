package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/models"
)

func newMockDatabase(t *testing.T) (*Database, pgxmock.PgxPoolIface) {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return &Database{Pool: pool}, pool
}

func shoeFields() models.ProductFields {
	return models.ProductFields{Name: "Trail Shoe", Price: decimal.RequireFromString("89.90"), Stock: 4, IsActive: true}
}

// expectProductUpdate covers the product lock and the scalar update, with the
// first category as primary.
func expectProductUpdate(pool pgxmock.PgxPoolIface, productID, primary int) {
	pool.ExpectBegin()
	pool.ExpectQuery("SELECT product_id FROM products").
		WithArgs(productID).
		WillReturnRows(pgxmock.NewRows([]string{"product_id"}).AddRow(productID))
	pool.ExpectExec("UPDATE products").
		WithArgs(productID, "Trail Shoe", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), 4, pgxmock.AnyArg(), true, false, primary).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func TestReplaceProductRelationsDiffsJunctionRows(t *testing.T) {
	db, pool := newMockDatabase(t)

	// Stored categories {3, 5}; 3 is removed, 9 added, 5 untouched.
	expectProductUpdate(pool, 42, 5)
	pool.ExpectExec("DELETE FROM product_categories").
		WithArgs(42, []int{5, 9}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	pool.ExpectExec("INSERT INTO product_categories").
		WithArgs(42, []int{5, 9}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("DELETE FROM product_units").
		WithArgs(42, []int{}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	pool.ExpectCommit()

	err := db.ReplaceProductRelations(context.Background(), 42, shoeFields(), []int{5, 9}, nil)
	require.NoError(t, err)
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestReplaceProductRelationsRollsBackOnInsertError(t *testing.T) {
	db, pool := newMockDatabase(t)

	expectProductUpdate(pool, 42, 5)
	pool.ExpectExec("DELETE FROM product_categories").
		WithArgs(42, []int{5, 9}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	pool.ExpectExec("INSERT INTO product_categories").
		WithArgs(42, []int{5, 9}).
		WillReturnError(errors.New("connection reset by peer"))
	pool.ExpectRollback()

	err := db.ReplaceProductRelations(context.Background(), 42, shoeFields(), []int{5, 9}, []int{1})
	require.Error(t, err)
	assert.False(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "connection reset by peer")
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestReplaceProductRelationsMapsForeignKeyViolation(t *testing.T) {
	db, pool := newMockDatabase(t)

	expectProductUpdate(pool, 42, 5)
	pool.ExpectExec("DELETE FROM product_categories").
		WithArgs(42, []int{5}).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	pool.ExpectExec("INSERT INTO product_categories").
		WithArgs(42, []int{5}).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	pool.ExpectExec("DELETE FROM product_units").
		WithArgs(42, []int{77}).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	pool.ExpectExec("INSERT INTO product_units").
		WithArgs(42, []int{77}).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "product_units_unit_id_fkey"})
	pool.ExpectRollback()

	err := db.ReplaceProductRelations(context.Background(), 42, shoeFields(), []int{5}, []int{77})
	require.True(t, apperr.IsValidation(err), "got %v", err)

	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "unit_ids", verr.Field)
	assert.Contains(t, err.Error(), "product_units_unit_id_fkey")
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestReplaceProductRelationsMissingProduct(t *testing.T) {
	db, pool := newMockDatabase(t)

	pool.ExpectBegin()
	pool.ExpectQuery("SELECT product_id FROM products").
		WithArgs(404).
		WillReturnRows(pgxmock.NewRows([]string{"product_id"}))
	pool.ExpectRollback()

	err := db.ReplaceProductRelations(context.Background(), 404, shoeFields(), []int{5}, nil)
	assert.True(t, apperr.IsNotFound(err), "got %v", err)
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestReplaceProductRelationsRequiresCategory(t *testing.T) {
	db, pool := newMockDatabase(t)

	err := db.ReplaceProductRelations(context.Background(), 42, shoeFields(), nil, []int{1})
	assert.True(t, apperr.IsValidation(err))
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestProductRelationsReadsSortedSets(t *testing.T) {
	db, pool := newMockDatabase(t)

	primary := 5
	pool.ExpectQuery("SELECT primary_category_id FROM products").
		WithArgs(42).
		WillReturnRows(pgxmock.NewRows([]string{"primary_category_id"}).AddRow(&primary))
	pool.ExpectQuery("SELECT category_id FROM product_categories").
		WithArgs(42).
		WillReturnRows(pgxmock.NewRows([]string{"category_id"}).AddRow(5).AddRow(9))
	pool.ExpectQuery("SELECT unit_id FROM product_units").
		WithArgs(42).
		WillReturnRows(pgxmock.NewRows([]string{"unit_id"}))

	rel, err := db.ProductRelations(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, rel.PrimaryCategoryID)
	assert.Equal(t, 5, *rel.PrimaryCategoryID)
	assert.Equal(t, []int{5, 9}, rel.CategoryIDs)
	assert.Equal(t, []int{}, rel.UnitIDs)
	require.NoError(t, pool.ExpectationsWereMet())
}
