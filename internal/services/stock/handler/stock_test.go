package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bbsm-garage/internal/database/dbtest"
	"bbsm-garage/internal/database/models"
	gerrors "bbsm-garage/internal/errors"
	"bbsm-garage/internal/utils"
)

func newTestStockHandler(t *testing.T) (*StockHandler, func() int64) {
	db := dbtest.New(t)
	h := NewStockHandler(db, NewLedger(nil), NewStockCache(nil, nil), 3)
	n := 0
	return h, func() int64 {
		n++
		return dbtest.SeedTenant(t, db, "Garage "+string(rune('A'+n)))
	}
}

func TestStockHandler_CreateBooksOpeningBalance(t *testing.T) {
	h, newTenant := newTestStockHandler(t)
	tenant := newTenant()
	ctx := context.Background()

	stock, err := h.CreateStock(ctx, tenant, 7, CreateStockRequest{Name: "  Oil Filter ", Quantity: 12})
	require.NoError(t, err)
	assert.Equal(t, "Oil Filter", stock.Name)
	assert.Equal(t, int32(12), stock.Quantity)

	movements, err := h.ListMovements(ctx, tenant, stock.ID, utils.Pagination{})
	require.NoError(t, err)
	require.Len(t, movements.Movements, 1)
	assert.Equal(t, int32(12), movements.Movements[0].Quantity)
	assert.Equal(t, models.ReferenceTypeManual, movements.Movements[0].ReferenceType)
	assert.Equal(t, int64(7), movements.Movements[0].CreatedBy)

	empty, err := h.CreateStock(ctx, tenant, 7, CreateStockRequest{Name: "Fuse"})
	require.NoError(t, err)
	assert.Equal(t, int32(0), empty.Quantity)
}

func TestStockHandler_CreateValidates(t *testing.T) {
	h, newTenant := newTestStockHandler(t)
	tenant := newTenant()

	_, err := h.CreateStock(context.Background(), tenant, 1, CreateStockRequest{Name: " "})
	assert.ErrorIs(t, err, gerrors.ErrInvariantViolation)

	_, err = h.CreateStock(context.Background(), tenant, 1, CreateStockRequest{Name: "Bulb", Quantity: -1})
	assert.ErrorIs(t, err, gerrors.ErrInvariantViolation)
}

func TestStockHandler_AdjustStock(t *testing.T) {
	h, newTenant := newTestStockHandler(t)
	tenant := newTenant()
	other := newTenant()
	ctx := context.Background()

	stock, err := h.CreateStock(ctx, tenant, 1, CreateStockRequest{Name: "Battery", Quantity: 2})
	require.NoError(t, err)

	updated, err := h.AdjustStock(ctx, tenant, stock.ID, 1, AdjustStockRequest{Delta: -2})
	require.NoError(t, err)
	assert.Equal(t, int32(0), updated.Quantity)

	_, err = h.AdjustStock(ctx, tenant, stock.ID, 1, AdjustStockRequest{Delta: -1})
	assert.ErrorIs(t, err, gerrors.ErrInsufficientStock)

	_, err = h.AdjustStock(ctx, tenant, stock.ID, 1, AdjustStockRequest{Delta: 0})
	assert.ErrorIs(t, err, gerrors.ErrInvariantViolation)

	_, err = h.AdjustStock(ctx, other, stock.ID, 1, AdjustStockRequest{Delta: 5})
	assert.ErrorIs(t, err, gerrors.ErrNotFound)

	got, err := h.GetStock(ctx, tenant, stock.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), got.Quantity)
}

func TestStockHandler_ListStock(t *testing.T) {
	h, newTenant := newTestStockHandler(t)
	tenant := newTenant()
	other := newTenant()
	ctx := context.Background()

	for _, req := range []CreateStockRequest{
		{Name: "Tyre 17\"", Quantity: 4},
		{Name: "Brake Fluid", Quantity: 1},
		{Name: "Tyre 15\"", Quantity: 9},
	} {
		_, err := h.CreateStock(ctx, tenant, 1, req)
		require.NoError(t, err)
	}
	_, err := h.CreateStock(ctx, other, 1, CreateStockRequest{Name: "Tyre 16\"", Quantity: 2})
	require.NoError(t, err)

	all, err := h.ListStock(ctx, tenant, ListStockRequest{})
	require.NoError(t, err)
	require.Len(t, all.Stocks, 3)
	assert.Equal(t, "Brake Fluid", all.Stocks[0].Name)
	assert.Equal(t, int32(3), all.Pagination.TotalCount)
	assert.Empty(t, all.Pagination.NextPageToken)

	tyres, err := h.ListStock(ctx, tenant, ListStockRequest{Search: "tyre"})
	require.NoError(t, err)
	assert.Len(t, tyres.Stocks, 2)

	below := int32(5)
	low, err := h.ListStock(ctx, tenant, ListStockRequest{Below: &below})
	require.NoError(t, err)
	assert.Len(t, low.Stocks, 2)

	page, err := h.ListStock(ctx, tenant, ListStockRequest{Pagination: utils.Pagination{PageSize: 2}})
	require.NoError(t, err)
	assert.Len(t, page.Stocks, 2)
	assert.Equal(t, "2", page.Pagination.NextPageToken)

	last, err := h.ListStock(ctx, tenant, ListStockRequest{Pagination: utils.Pagination{PageSize: 2, PageToken: "2"}})
	require.NoError(t, err)
	assert.Len(t, last.Stocks, 1)

	beyond, err := h.ListStock(ctx, tenant, ListStockRequest{Pagination: utils.Pagination{PageSize: 2, PageToken: "5"}})
	require.NoError(t, err)
	assert.Empty(t, beyond.Stocks)
}

func TestStockHandler_UpdateAndDelete(t *testing.T) {
	h, newTenant := newTestStockHandler(t)
	tenant := newTenant()
	other := newTenant()
	ctx := context.Background()

	stock, err := h.CreateStock(ctx, tenant, 1, CreateStockRequest{Name: "Belt", Quantity: 3})
	require.NoError(t, err)

	name := "Timing Belt"
	info := "OEM part"
	updated, err := h.UpdateStockDetails(ctx, tenant, stock.ID, UpdateStockRequest{Name: &name, Info: &info})
	require.NoError(t, err)
	assert.Equal(t, "Timing Belt", updated.Name)
	require.NotNil(t, updated.Info)
	assert.Equal(t, "OEM part", *updated.Info)
	assert.Equal(t, int32(3), updated.Quantity)

	_, err = h.UpdateStockDetails(ctx, other, stock.ID, UpdateStockRequest{Name: &name})
	assert.ErrorIs(t, err, gerrors.ErrNotFound)

	assert.ErrorIs(t, h.DeleteStock(ctx, other, stock.ID), gerrors.ErrNotFound)
	require.NoError(t, h.DeleteStock(ctx, tenant, stock.ID))

	_, err = h.GetStock(ctx, tenant, stock.ID)
	assert.ErrorIs(t, err, gerrors.ErrNotFound)
	_, err = h.ListMovements(ctx, tenant, stock.ID, utils.Pagination{})
	assert.ErrorIs(t, err, gerrors.ErrNotFound)
}

func TestStockHandler_GetQuantity(t *testing.T) {
	h, newTenant := newTestStockHandler(t)
	tenant, other := newTenant(), newTenant()
	ctx := context.Background()

	stock, err := h.CreateStock(ctx, tenant, 1, CreateStockRequest{Name: "Spark Plug", Quantity: 8})
	require.NoError(t, err)
	_, err = h.AdjustStock(ctx, tenant, stock.ID, 1, AdjustStockRequest{Delta: -3})
	require.NoError(t, err)

	qty, err := h.GetQuantity(ctx, tenant, stock.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(5), qty)

	_, err = h.GetQuantity(ctx, other, stock.ID)
	assert.ErrorIs(t, err, gerrors.ErrNotFound)
}
