package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colorstock/backend/internal/cache"
	"colorstock/backend/internal/domain"
	"colorstock/backend/internal/store"
	"colorstock/backend/internal/store/memory"
)

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin})
}

func sellerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: "seller-1", Role: domain.RoleSeller})
}

type fixture struct {
	svc   *Service
	repo  *memory.Store
	cat   domain.Category
	black domain.Color
	white domain.Color
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repo := memory.New()
	svc := New(repo, opts...)
	ctx := adminCtx()

	cat, err := svc.CreateCategory(ctx, domain.CategoryRequest{Name: "Camisetas"})
	require.NoError(t, err)
	black, err := svc.CreateColor(ctx, domain.ColorRequest{Name: "Negro", Hex: "#000000"})
	require.NoError(t, err)
	white, err := svc.CreateColor(ctx, domain.ColorRequest{Name: "Blanco", Hex: "#ffffff"})
	require.NoError(t, err)

	return &fixture{svc: svc, repo: repo, cat: cat, black: black, white: white}
}

// product creates a one-variant product priced at cost 5, sell 8.
func (f *fixture) product(t *testing.T, name string, amount int) domain.Product {
	t.Helper()
	p, err := f.svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:       name,
		CategoryID: f.cat.ID,
		Variants: []domain.VariantInput{{
			ColorID:   f.black.ID,
			Amount:    amount,
			PriceCost: decimal.NewFromInt(5),
			PriceSell: decimal.NewFromInt(8),
		}},
	})
	require.NoError(t, err)
	require.Len(t, p.Variants, 1)
	return p
}

func (f *fixture) amount(t *testing.T, productID string, variantID string) int {
	t.Helper()
	p, err := f.repo.FindProduct(context.Background(), productID)
	require.NoError(t, err)
	v, ok := p.Variant(variantID)
	require.True(t, ok)
	return v.Amount
}

func cart(items ...domain.CartItem) domain.SaleCreateRequest {
	return domain.SaleCreateRequest{Items: items}
}

func line(p domain.Product, qty int) domain.CartItem {
	return domain.CartItem{ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: qty}
}

func TestCreateSaleComputesTotalsAndDecrementsStock(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Camiseta Basica", 10)

	sale, err := f.svc.CreateSale(sellerCtx(), cart(line(p, 3)))
	require.NoError(t, err)

	assert.NotEmpty(t, sale.ID)
	assert.False(t, sale.CreatedAt.IsZero())
	assert.True(t, sale.TotalAmount.Equal(decimal.NewFromInt(24)), "total %s", sale.TotalAmount)
	assert.True(t, sale.TotalProfit.Equal(decimal.NewFromInt(9)), "profit %s", sale.TotalProfit)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "Camiseta Basica", sale.Items[0].Name)
	assert.True(t, sale.Items[0].PriceAtSale.Equal(decimal.NewFromInt(8)))
	assert.True(t, sale.Items[0].PriceCostAtSale.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 7, f.amount(t, p.ID, p.Variants[0].ID))

	stored, err := f.svc.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.ID, stored.ID)
}

func TestCreateSaleSnapshotSurvivesPriceChanges(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Taza", 10)

	sale, err := f.svc.CreateSale(sellerCtx(), cart(line(p, 1)))
	require.NoError(t, err)

	_, err = f.svc.UpdateProduct(adminCtx(), p.ID, domain.ProductUpdateRequest{
		Variants: []domain.VariantInput{{
			ID:        p.Variants[0].ID,
			ColorID:   f.black.ID,
			Amount:    9,
			PriceCost: decimal.NewFromInt(6),
			PriceSell: decimal.NewFromInt(20),
		}},
	})
	require.NoError(t, err)

	stored, err := f.svc.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.True(t, stored.Items[0].PriceAtSale.Equal(decimal.NewFromInt(8)))
	assert.True(t, stored.TotalAmount.Equal(decimal.NewFromInt(8)))
}

func TestCreateSaleInsufficientStockLeavesStockUntouched(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Gorra", 2)

	_, err := f.svc.CreateSale(sellerCtx(), cart(line(p, 5)))
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	var stockErr *store.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "Gorra", stockErr.ProductName)
	assert.Equal(t, 2, stockErr.Available)
	assert.Contains(t, err.Error(), "Gorra")
	assert.Contains(t, err.Error(), "2 available")

	assert.Equal(t, 2, f.amount(t, p.ID, p.Variants[0].ID))
	report, err := f.svc.ListSales(context.Background(), "", "")
	require.NoError(t, err)
	assert.Zero(t, report.Count)
}

func TestCreateSaleRejectsWholeCartWhenLaterLineFails(t *testing.T) {
	f := newFixture(t)
	first := f.product(t, "Bolso", 10)
	second := f.product(t, "Llavero", 1)

	_, err := f.svc.CreateSale(sellerCtx(), cart(line(first, 4), line(second, 3)))
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	assert.Equal(t, 10, f.amount(t, first.ID, first.Variants[0].ID))
	assert.Equal(t, 1, f.amount(t, second.ID, second.Variants[0].ID))
}

func TestCreateSaleSumsDuplicateLines(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Mochila", 5)

	_, err := f.svc.CreateSale(sellerCtx(), cart(line(p, 3), line(p, 3)))
	var stockErr *store.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 6, stockErr.Requested)
	assert.Equal(t, 5, f.amount(t, p.ID, p.Variants[0].ID))

	sale, err := f.svc.CreateSale(sellerCtx(), cart(line(p, 2), line(p, 3)))
	require.NoError(t, err)
	assert.Len(t, sale.Items, 2)
	assert.Equal(t, 0, f.amount(t, p.ID, p.Variants[0].ID))
}

func TestCreateSaleReportsMissingProductAndVariant(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Sudadera", 5)

	_, err := f.svc.CreateSale(sellerCtx(), cart(domain.CartItem{ProductID: "nope", VariantID: p.Variants[0].ID, Quantity: 1}))
	assert.True(t, store.IsNotFoundEntity(err, "product"), "got %v", err)

	_, err = f.svc.CreateSale(sellerCtx(), cart(domain.CartItem{ProductID: p.ID, VariantID: "nope", Quantity: 1}))
	assert.True(t, store.IsNotFoundEntity(err, "variant"), "got %v", err)
}

func TestCreateSaleValidatesInput(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Bufanda", 5)

	cases := map[string]domain.SaleCreateRequest{
		"empty cart":    {Items: []domain.CartItem{}},
		"nil cart":      {},
		"zero quantity": cart(domain.CartItem{ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: 0}),
		"negative":      cart(domain.CartItem{ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: -2}),
		"no product id": cart(domain.CartItem{VariantID: p.Variants[0].ID, Quantity: 1}),
		"huge quantity": cart(domain.CartItem{ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: math.MaxInt}),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateSale(sellerCtx(), req)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.ErrorIs(t, err, store.ErrInvalidInput)
		})
	}
	assert.Equal(t, 5, f.amount(t, p.ID, p.Variants[0].ID))
}

func TestCreateSaleSellsInactiveProducts(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Descatalogado", 3)
	_, err := f.svc.SetProductActive(adminCtx(), p.ID, false)
	require.NoError(t, err)

	_, err = f.svc.CreateSale(sellerCtx(), cart(line(p, 1)))
	assert.NoError(t, err)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Edicion Limitada", 7)

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.CreateSale(sellerCtx(), cart(line(p, 1))); err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
			} else if !errors.Is(err, store.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, sold)
	assert.Equal(t, 0, f.amount(t, p.ID, p.Variants[0].ID))
}

func TestDeleteSaleRestoresStock(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Camiseta", 10)

	sale, err := f.svc.CreateSale(sellerCtx(), cart(line(p, 3)))
	require.NoError(t, err)
	require.Equal(t, 7, f.amount(t, p.ID, p.Variants[0].ID))

	result, err := f.svc.DeleteSale(adminCtx(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Restored)
	assert.Zero(t, result.Skipped)
	assert.Equal(t, 10, f.amount(t, p.ID, p.Variants[0].ID))

	_, err = f.svc.GetSale(context.Background(), sale.ID)
	assert.True(t, store.IsNotFoundEntity(err, "sale"))
}

func TestDeleteSaleTwiceDoesNotRestoreTwice(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Taza", 10)
	sale, err := f.svc.CreateSale(sellerCtx(), cart(line(p, 4)))
	require.NoError(t, err)

	_, err = f.svc.DeleteSale(adminCtx(), sale.ID)
	require.NoError(t, err)
	_, err = f.svc.DeleteSale(adminCtx(), sale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 10, f.amount(t, p.ID, p.Variants[0].ID))
}

func TestDeleteSaleSkipsRemovedProducts(t *testing.T) {
	f := newFixture(t)
	kept := f.product(t, "Gorra", 5)
	gone := f.product(t, "Pulsera", 5)

	sale, err := f.svc.CreateSale(sellerCtx(), cart(line(kept, 2), line(gone, 1)))
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteProduct(adminCtx(), gone.ID))

	result, err := f.svc.DeleteSale(adminCtx(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Restored)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 5, f.amount(t, kept.ID, kept.Variants[0].ID))
}

func TestDeleteSaleRequiresElevatedRole(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Calcetines", 5)
	sale, err := f.svc.CreateSale(sellerCtx(), cart(line(p, 1)))
	require.NoError(t, err)

	_, err = f.svc.DeleteSale(sellerCtx(), sale.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.DeleteSale(context.Background(), sale.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	developer := WithActor(context.Background(), domain.Actor{UserID: "dev-1", Role: domain.RoleDeveloper})
	_, err = f.svc.DeleteSale(developer, sale.ID)
	assert.NoError(t, err)
}

func TestListSalesEmptyRangeReturnsZeros(t *testing.T) {
	f := newFixture(t)

	report, err := f.svc.ListSales(context.Background(), "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.NotNil(t, report.Sales)
	assert.Empty(t, report.Sales)
	assert.Zero(t, report.Count)
	assert.True(t, report.TotalRevenue.IsZero())
	assert.True(t, report.TotalProfit.IsZero())
}

func TestListSalesFiltersAndSortsNewestFirst(t *testing.T) {
	clock := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	f := newFixture(t, WithClock(now))
	p := f.product(t, "Camiseta", 100)

	for _, at := range []time.Time{
		time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC),
		time.Date(2024, 3, 11, 0, 0, 1, 0, time.UTC),
	} {
		mu.Lock()
		clock = at
		mu.Unlock()
		_, err := f.svc.CreateSale(sellerCtx(), cart(line(p, 1)))
		require.NoError(t, err)
	}

	report, err := f.svc.ListSales(context.Background(), "2024-03-10", "2024-03-10")
	require.NoError(t, err)
	require.Equal(t, 2, report.Count)
	assert.True(t, report.Sales[0].CreatedAt.After(report.Sales[1].CreatedAt))
	assert.True(t, report.TotalRevenue.Equal(decimal.NewFromInt(16)))
	assert.True(t, report.TotalProfit.Equal(decimal.NewFromInt(6)))

	all, err := f.svc.ListSales(context.Background(), "2024-03-10", "")
	require.NoError(t, err)
	assert.Equal(t, 4, all.Count)
	for i := 1; i < len(all.Sales); i++ {
		assert.False(t, all.Sales[i].CreatedAt.After(all.Sales[i-1].CreatedAt))
	}
}

func TestListSalesRejectsBadDates(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListSales(context.Background(), "yesterday", "2024-01-01")
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = f.svc.ListSales(context.Background(), "2024-02-01", "2024-01-01")
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestParseSalesWindow(t *testing.T) {
	window, err := ParseSalesWindow("2024-03-10", "2024-03-10")
	require.NoError(t, err)
	require.NotNil(t, window)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), window.From)
	assert.True(t, window.Contains(time.Date(2024, 3, 10, 23, 59, 59, 999, time.UTC)))
	assert.False(t, window.Contains(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)))

	window, err = ParseSalesWindow("2024-03-10T08:00:00Z", "2024-03-10T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC), window.To)

	window, err = ParseSalesWindow("", "2024-03-10")
	require.NoError(t, err)
	assert.Nil(t, window)
}

type recordingCache struct {
	mu          sync.Mutex
	entries     map[cache.Slot]domain.SalesReport
	invalidated int
}

func (c *recordingCache) slot(key string) cache.Slot {
	return cache.Slot(fmt.Sprintf("%d:%s", c.invalidated, key))
}

func (c *recordingCache) Get(_ context.Context, key string) (*domain.SalesReport, cache.Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := c.slot(key)
	r, ok := c.entries[slot]
	if !ok {
		return nil, slot, nil
	}
	return &r, slot, nil
}

func (c *recordingCache) Set(_ context.Context, slot cache.Slot, value *domain.SalesReport, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[slot] = *value
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
	return nil
}

func TestReportCacheIsInvalidatedByLedgerChanges(t *testing.T) {
	rc := &recordingCache{entries: map[cache.Slot]domain.SalesReport{}}
	f := newFixture(t, WithReportCache(rc, time.Minute))
	p := f.product(t, "Camiseta", 10)

	first, err := f.svc.ListSales(context.Background(), "", "")
	require.NoError(t, err)
	assert.Zero(t, first.Count)

	sale, err := f.svc.CreateSale(sellerCtx(), cart(line(p, 1)))
	require.NoError(t, err)
	afterCreate, err := f.svc.ListSales(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, afterCreate.Count)

	_, err = f.svc.DeleteSale(adminCtx(), sale.ID)
	require.NoError(t, err)
	afterDelete, err := f.svc.ListSales(context.Background(), "", "")
	require.NoError(t, err)
	assert.Zero(t, afterDelete.Count)
	assert.Equal(t, 2, rc.invalidated)
}

// saleAfterQuery commits a sale once, right after the next ledger query
// returns, so the report being built is already out of date.
type saleAfterQuery struct {
	*memory.Store
	sell func()
}

func (r *saleAfterQuery) QuerySales(ctx context.Context, window *domain.DateRange) ([]domain.Sale, error) {
	sales, err := r.Store.QuerySales(ctx, window)
	if sell := r.sell; sell != nil {
		r.sell = nil
		sell()
	}
	return sales, err
}

func TestListSalesDoesNotCacheReportInvalidatedMidQuery(t *testing.T) {
	mr := miniredis.RunT(t)
	reports := cache.NewRedisReportCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = reports.Close() })

	f := newFixture(t, WithReportCache(reports, time.Minute))
	p := f.product(t, "Camiseta", 10)
	racing := &saleAfterQuery{Store: f.repo}
	reader := New(racing, WithReportCache(reports, time.Minute))
	racing.sell = func() {
		_, err := f.svc.CreateSale(sellerCtx(), cart(line(p, 1)))
		require.NoError(t, err)
	}

	stale, err := reader.ListSales(context.Background(), "", "")
	require.NoError(t, err)
	assert.Zero(t, stale.Count)

	fresh, err := reader.ListSales(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Count)
	assert.True(t, fresh.TotalRevenue.Equal(decimal.NewFromInt(8)))
}

func TestCreateSaleQuantityBoundsKeepSummedLinesInRange(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Calcetin", 5)

	_, err := f.svc.CreateSale(sellerCtx(), cart(line(p, 1000001)))
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "must be at most 1000000", vErr.Fields["items[0].quantity"])

	_, err = f.svc.CreateSale(sellerCtx(), cart(line(p, 1000000), line(p, 1000000)))
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 5, f.amount(t, p.ID, p.Variants[0].ID))
}
