package handler

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"bbsm-garage/internal/database/dbtest"
	"bbsm-garage/internal/database/models"
	gerrors "bbsm-garage/internal/errors"
	"bbsm-garage/internal/metrics"
	"bbsm-garage/internal/services/reconcile"
	stockhandler "bbsm-garage/internal/services/stock/handler"
)

type storeFixture struct {
	db      *gorm.DB
	store   *CardHandler
	metrics *metrics.Metrics
	tenant  int64
}

func newStoreFixture(t *testing.T) *storeFixture {
	return newStoreFixtureOn(t, dbtest.New(t), 3)
}

// newConcurrentStoreFixture runs on several connections. Racing
// transactions lose to SQLite's write lock and are retried, so the attempt
// budget is generous.
func newConcurrentStoreFixture(t *testing.T) *storeFixture {
	return newStoreFixtureOn(t, dbtest.NewConcurrent(t, 8), 50)
}

func newStoreFixtureOn(t *testing.T, db *gorm.DB, maxAttempts int) *storeFixture {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	ledger := stockhandler.NewLedger(m)
	cache := stockhandler.NewStockCache(nil, m)

	return &storeFixture{
		db:      db,
		store:   NewCardHandler(db, reconcile.NewEngine(ledger, m), cache, nil, m, maxAttempts),
		metrics: m,
		tenant:  dbtest.SeedTenant(t, db, "Bengkel Maju"),
	}
}

// race starts n goroutines together and returns their errors.
func race(n int, fn func(i int) error) []error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

// tally counts successes and stock rejections, failing on anything else.
func tally(t *testing.T, errs []error) (succeeded, rejected int) {
	t.Helper()
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case gerrors.CodeOf(err) == gerrors.ErrCodeInsufficientStock:
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return succeeded, rejected
}

func fromStock(stockID int64, units int32, price string) WorkItemInput {
	id := stockID
	return WorkItemInput{UnitCount: units, UnitPrice: decimal.RequireFromString(price), StockRecordID: &id}
}

func manual(name string, units int32, price string) WorkItemInput {
	return WorkItemInput{UnitCount: units, PartName: name, UnitPrice: decimal.RequireFromString(price)}
}

func (f *storeFixture) create(t *testing.T, kind string, items ...WorkItemInput) *models.ServiceRecord {
	t.Helper()
	record, err := f.store.CreateRecord(context.Background(), f.tenant, 1, kind, CreateRecordRequest{
		RecordDetails: RecordDetails{CustomerName: "Budi", PlateNumber: "B 1234 XYZ"},
		WorkItems:     items,
	})
	require.NoError(t, err)
	return record
}

func TestCardHandler_ExampleScenarios(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	p1 := dbtest.SeedStock(t, f.db, f.tenant, "P1", 5)

	// 1. create consumes 3 of 5
	card := f.create(t, models.KindCard, fromStock(p1, 3, "10"))
	assert.Equal(t, int32(2), dbtest.Quantity(t, f.db, p1))
	require.Len(t, card.WorkItems, 1)
	assert.Equal(t, "P1", card.WorkItems[0].PartName)

	// 2. needs 3 more, only 2 on hand
	_, err := f.store.ReplaceWorkItems(ctx, f.tenant, card.ID, 1, models.KindCard, []WorkItemInput{fromStock(p1, 6, "10")})
	require.ErrorIs(t, err, gerrors.ErrInsufficientStock)
	shortage, ok := gerrors.ShortageOf(err)
	require.True(t, ok)
	assert.Equal(t, p1, shortage.StockRecordID)
	assert.Equal(t, int32(2), shortage.Available)
	assert.Equal(t, int32(3), shortage.Requested)
	assert.Equal(t, int32(2), dbtest.Quantity(t, f.db, p1))

	unchanged, err := f.store.GetRecord(ctx, f.tenant, card.ID, models.KindCard)
	require.NoError(t, err)
	require.Len(t, unchanged.WorkItems, 1)
	assert.Equal(t, int32(3), unchanged.WorkItems[0].UnitCount)

	// 3. down to 1 unit gives 2 back
	_, err = f.store.ReplaceWorkItems(ctx, f.tenant, card.ID, 1, models.KindCard, []WorkItemInput{fromStock(p1, 1, "10")})
	require.NoError(t, err)
	assert.Equal(t, int32(4), dbtest.Quantity(t, f.db, p1))

	// 4. delete restores everything
	require.NoError(t, f.store.DeleteRecord(ctx, f.tenant, card.ID, 1, models.KindCard))
	assert.Equal(t, int32(5), dbtest.Quantity(t, f.db, p1))

	_, err = f.store.GetRecord(ctx, f.tenant, card.ID, models.KindCard)
	assert.ErrorIs(t, err, gerrors.ErrNotFound)

	var leftover int64
	require.NoError(t, f.db.Model(&models.WorkItem{}).Where("service_record_id = ?", card.ID).Count(&leftover).Error)
	assert.Zero(t, leftover)
}

func TestCardHandler_ConcurrentLastUnit(t *testing.T) {
	f := newConcurrentStoreFixture(t)
	p1 := dbtest.SeedStock(t, f.db, f.tenant, "P1", 1)

	errs := race(2, func(int) error {
		_, err := f.store.CreateRecord(context.Background(), f.tenant, 1, models.KindCard, CreateRecordRequest{
			RecordDetails: RecordDetails{CustomerName: "Customer"},
			WorkItems:     []WorkItemInput{fromStock(p1, 1, "5")},
		})
		return err
	})

	succeeded, rejected := tally(t, errs)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, int32(0), dbtest.Quantity(t, f.db, p1))

	var records int64
	require.NoError(t, f.db.Model(&models.ServiceRecord{}).Count(&records).Error)
	assert.Equal(t, int64(1), records)
}

func TestCardHandler_ConcurrentConsumersNeverGoNegative(t *testing.T) {
	f := newConcurrentStoreFixture(t)
	p1 := dbtest.SeedStock(t, f.db, f.tenant, "P1", 7)

	errs := race(10, func(int) error {
		_, err := f.store.CreateRecord(context.Background(), f.tenant, 1, models.KindCard, CreateRecordRequest{
			RecordDetails: RecordDetails{CustomerName: "Customer"},
			WorkItems:     []WorkItemInput{fromStock(p1, 2, "5")},
		})
		return err
	})

	succeeded, rejected := tally(t, errs)
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, rejected)
	assert.Equal(t, int32(1), dbtest.Quantity(t, f.db, p1))

	var records int64
	require.NoError(t, f.db.Model(&models.ServiceRecord{}).Count(&records).Error)
	assert.Equal(t, int64(3), records)
}

func TestCardHandler_ConcurrentReplacementsConserveStock(t *testing.T) {
	f := newConcurrentStoreFixture(t)
	ctx := context.Background()
	p1 := dbtest.SeedStock(t, f.db, f.tenant, "P1", 10)

	cards := make([]*models.ServiceRecord, 4)
	for i := range cards {
		cards[i] = f.create(t, models.KindCard, fromStock(p1, 1, "5"))
	}
	require.Equal(t, int32(6), dbtest.Quantity(t, f.db, p1))

	// each card asks for 2 more units; only 6 remain
	errs := race(len(cards), func(i int) error {
		_, err := f.store.ReplaceWorkItems(ctx, f.tenant, cards[i].ID, 1, models.KindCard, []WorkItemInput{fromStock(p1, 3, "5")})
		return err
	})

	succeeded, rejected := tally(t, errs)
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 1, rejected)

	var used int64
	require.NoError(t, f.db.Model(&models.WorkItem{}).
		Where("stock_record_id = ?", p1).
		Select("COALESCE(SUM(unit_count), 0)").
		Scan(&used).Error)
	assert.Equal(t, int64(10), used+int64(dbtest.Quantity(t, f.db, p1)))
	assert.Equal(t, int32(0), dbtest.Quantity(t, f.db, p1))
}

func TestCardHandler_IdempotentReplace(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	p1 := dbtest.SeedStock(t, f.db, f.tenant, "P1", 10)

	items := []WorkItemInput{fromStock(p1, 2, "12.50"), manual("Labour", 1, "50")}
	card := f.create(t, models.KindCard, items...)
	before := dbtest.MovementCount(t, f.db, p1)

	replaced, err := f.store.ReplaceWorkItems(ctx, f.tenant, card.ID, 1, models.KindCard, items)
	require.NoError(t, err)

	assert.Equal(t, before, dbtest.MovementCount(t, f.db, p1))
	assert.Equal(t, int32(8), dbtest.Quantity(t, f.db, p1))
	assert.True(t, replaced.TotalAmount.Equal(decimal.RequireFromString("75")))
}

func TestCardHandler_Conservation(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	p1 := dbtest.SeedStock(t, f.db, f.tenant, "P1", 20)
	p2 := dbtest.SeedStock(t, f.db, f.tenant, "P2", 20)

	a := f.create(t, models.KindCard, fromStock(p1, 3, "1"), fromStock(p2, 1, "1"))
	b := f.create(t, models.KindQuote, fromStock(p1, 4, "1"))

	_, err := f.store.ReplaceWorkItems(ctx, f.tenant, a.ID, 1, models.KindCard, []WorkItemInput{fromStock(p1, 1, "1"), fromStock(p2, 5, "1")})
	require.NoError(t, err)
	_, err = f.store.ReplaceWorkItems(ctx, f.tenant, b.ID, 1, models.KindQuote, []WorkItemInput{manual("P1 bought outside", 4, "1"), fromStock(p2, 2, "1")})
	require.NoError(t, err)

	// net usage: p1 = 1, p2 = 5 + 2
	assert.Equal(t, int32(19), dbtest.Quantity(t, f.db, p1))
	assert.Equal(t, int32(13), dbtest.Quantity(t, f.db, p2))

	require.NoError(t, f.store.DeleteRecord(ctx, f.tenant, a.ID, 1, models.KindCard))
	require.NoError(t, f.store.DeleteRecord(ctx, f.tenant, b.ID, 1, models.KindQuote))
	assert.Equal(t, int32(20), dbtest.Quantity(t, f.db, p1))
	assert.Equal(t, int32(20), dbtest.Quantity(t, f.db, p2))
}

func TestCardHandler_TenantIsolation(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	intruder := dbtest.SeedTenant(t, f.db, "Intruder Garage")
	p1 := dbtest.SeedStock(t, f.db, f.tenant, "P1", 5)
	card := f.create(t, models.KindCard, fromStock(p1, 2, "1"))

	_, err := f.store.GetRecord(ctx, intruder, card.ID, models.KindCard)
	assert.ErrorIs(t, err, gerrors.ErrNotFound)

	_, err = f.store.ReplaceWorkItems(ctx, intruder, card.ID, 1, models.KindCard, nil)
	assert.ErrorIs(t, err, gerrors.ErrNotFound)

	assert.ErrorIs(t, f.store.DeleteRecord(ctx, intruder, card.ID, 1, models.KindCard), gerrors.ErrNotFound)

	name := "Hijacked"
	_, err = f.store.UpdateRecordDetails(ctx, intruder, card.ID, models.KindCard, UpdateRecordRequest{CustomerName: &name})
	assert.ErrorIs(t, err, gerrors.ErrNotFound)

	// stock of another tenant cannot be consumed either
	_, err = f.store.CreateRecord(ctx, intruder, 1, models.KindCard, CreateRecordRequest{
		RecordDetails: RecordDetails{CustomerName: "Sneaky"},
		WorkItems:     []WorkItemInput{fromStock(p1, 1, "1")},
	})
	assert.ErrorIs(t, err, gerrors.ErrNotFound)

	assert.Equal(t, int32(3), dbtest.Quantity(t, f.db, p1))
	list, err := f.store.ListRecords(ctx, intruder, "", ListRecordsRequest{})
	require.NoError(t, err)
	assert.Empty(t, list.Records)
}

func TestCardHandler_KindScoping(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	quote := f.create(t, models.KindQuote, manual("Inspection", 1, "20"))

	_, err := f.store.GetRecord(ctx, f.tenant, quote.ID, models.KindCard)
	assert.ErrorIs(t, err, gerrors.ErrNotFound)
	assert.ErrorIs(t, f.store.DeleteRecord(ctx, f.tenant, quote.ID, 1, models.KindCard), gerrors.ErrNotFound)

	card, err := f.store.ConvertQuoteToCard(ctx, f.tenant, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.KindCard, card.Kind)
	require.Len(t, card.WorkItems, 1)

	_, err = f.store.ConvertQuoteToCard(ctx, f.tenant, quote.ID)
	assert.ErrorIs(t, err, gerrors.ErrNotFound)
}

func TestCardHandler_InvalidItemsPersistNothing(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	p1 := dbtest.SeedStock(t, f.db, f.tenant, "P1", 5)
	id := p1
	yes, no := true, false

	cases := map[string]WorkItemInput{
		"zero units":            {UnitCount: 0, PartName: "X"},
		"negative price":        {UnitCount: 1, PartName: "X", UnitPrice: decimal.NewFromInt(-1)},
		"sourced without id":    {UnitCount: 1, PartName: "X", SourcedFromStock: &yes},
		"manual with id":        {UnitCount: 1, PartName: "X", StockRecordID: &id, SourcedFromStock: &no},
		"manual without a name": {UnitCount: 1},
	}
	for name, item := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.store.CreateRecord(ctx, f.tenant, 1, models.KindCard, CreateRecordRequest{
				RecordDetails: RecordDetails{CustomerName: "Budi"},
				WorkItems:     []WorkItemInput{fromStock(p1, 1, "1"), item},
			})
			assert.ErrorIs(t, err, gerrors.ErrInvariantViolation)
		})
	}

	_, err := f.store.CreateRecord(ctx, f.tenant, 1, models.KindCard, CreateRecordRequest{})
	assert.ErrorIs(t, err, gerrors.ErrInvariantViolation)

	_, err = f.store.CreateRecord(ctx, f.tenant, 1, "invoice", CreateRecordRequest{RecordDetails: RecordDetails{CustomerName: "Budi"}})
	assert.ErrorIs(t, err, gerrors.ErrInvariantViolation)

	var records int64
	require.NoError(t, f.db.Model(&models.ServiceRecord{}).Count(&records).Error)
	assert.Zero(t, records)
	assert.Equal(t, int32(5), dbtest.Quantity(t, f.db, p1))
}

func TestCardHandler_FailedReplaceRollsBackEverything(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	p1 := dbtest.SeedStock(t, f.db, f.tenant, "P1", 5)
	p2 := dbtest.SeedStock(t, f.db, f.tenant, "P2", 1)
	card := f.create(t, models.KindCard, fromStock(p1, 1, "3"))

	_, err := f.store.ReplaceWorkItems(ctx, f.tenant, card.ID, 1, models.KindCard, []WorkItemInput{
		fromStock(p1, 4, "3"),
		fromStock(p2, 2, "3"),
	})
	require.ErrorIs(t, err, gerrors.ErrInsufficientStock)

	assert.Equal(t, int32(4), dbtest.Quantity(t, f.db, p1))
	assert.Equal(t, int32(1), dbtest.Quantity(t, f.db, p2))

	got, err := f.store.GetRecord(ctx, f.tenant, card.ID, models.KindCard)
	require.NoError(t, err)
	require.Len(t, got.WorkItems, 1)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(3)))

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ReconciliationsTotal.WithLabelValues(reconcile.OpReplace, metrics.OutcomeRejected)))
}

func TestCardHandler_DeletedStockDegradesAndSkipsRestock(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	p1 := dbtest.SeedStock(t, f.db, f.tenant, "Old Pad", 5)
	card := f.create(t, models.KindCard, fromStock(p1, 2, "30"))
	require.NoError(t, f.db.Delete(&models.StockRecord{}, p1).Error)

	replaced, err := f.store.ReplaceWorkItems(ctx, f.tenant, card.ID, 1, models.KindCard, []WorkItemInput{fromStock(p1, 2, "30")})
	require.NoError(t, err)
	require.Len(t, replaced.WorkItems, 1)
	assert.False(t, replaced.WorkItems[0].SourcedFromStock)
	assert.Nil(t, replaced.WorkItems[0].StockRecordID)
	assert.Equal(t, "Old Pad", replaced.WorkItems[0].PartName)

	other := f.create(t, models.KindCard, manual("Labour", 1, "10"))
	require.NoError(t, f.db.Model(&models.WorkItem{}).
		Where("service_record_id = ?", other.ID).
		Updates(map[string]interface{}{"stock_record_id": p1, "sourced_from_stock": true}).Error)

	require.NoError(t, f.store.DeleteRecord(ctx, f.tenant, other.ID, 1, models.KindCard))
	assert.GreaterOrEqual(t, testutil.ToFloat64(f.metrics.RestockSkippedTotal), float64(1))
}

func TestCardHandler_TotalsAndDetails(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	p1 := dbtest.SeedStock(t, f.db, f.tenant, "Oil", 10)

	card := f.create(t, models.KindCard, fromStock(p1, 3, "45000.50"), manual("Labour", 2, "100000"))
	require.Len(t, card.WorkItems, 2)
	assert.Equal(t, int32(1), card.WorkItems[0].Position)
	assert.True(t, card.WorkItems[0].LineTotal.Equal(decimal.RequireFromString("135001.50")))
	assert.True(t, card.TotalAmount.Equal(decimal.RequireFromString("335001.50")))

	mileage := int64(42000)
	plate := "  D 9 AB "
	updated, err := f.store.UpdateRecordDetails(ctx, f.tenant, card.ID, models.KindCard, UpdateRecordRequest{Mileage: &mileage, PlateNumber: &plate})
	require.NoError(t, err)
	require.NotNil(t, updated.Mileage)
	assert.Equal(t, int64(42000), *updated.Mileage)
	assert.Equal(t, "D 9 AB", updated.PlateNumber)
	assert.Equal(t, int32(7), dbtest.Quantity(t, f.db, p1))

	list, err := f.store.ListRecords(ctx, f.tenant, models.KindCard, ListRecordsRequest{Search: "d 9"})
	require.NoError(t, err)
	require.Len(t, list.Records, 1)
	assert.Len(t, list.Records[0].WorkItems, 2)
}

func TestCardHandler_OversizedItemsAreRejected(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	p1 := dbtest.SeedStock(t, f.db, f.tenant, "P1", 5)

	cases := map[string][]WorkItemInput{
		"units wrap past int32":  {fromStock(p1, math.MaxInt32, "0"), fromStock(p1, math.MaxInt32, "0")},
		"part name too long":     {manual(strings.Repeat("x", 256), 1, "1")},
		"line total too large":   {manual("Engine", 10, "1000000000000000")},
		"record total too large": {manual("Engine", 1, "6000000000000000"), manual("Gearbox", 1, "6000000000000000")},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.store.CreateRecord(ctx, f.tenant, 1, models.KindCard, CreateRecordRequest{
				RecordDetails: RecordDetails{CustomerName: "Budi"},
				WorkItems:     items,
			})
			assert.ErrorIs(t, err, gerrors.ErrInvariantViolation)
		})
	}

	card := f.create(t, models.KindCard, manual(strings.Repeat("é", 255), 1, "1"))
	_, err := f.store.ReplaceWorkItems(ctx, f.tenant, card.ID, 1, models.KindCard,
		[]WorkItemInput{fromStock(p1, math.MaxInt32, "0"), fromStock(p1, 2, "0")})
	assert.ErrorIs(t, err, gerrors.ErrInvariantViolation)

	assert.Equal(t, int32(5), dbtest.Quantity(t, f.db, p1))
	assert.Zero(t, dbtest.MovementCount(t, f.db, p1))
}
