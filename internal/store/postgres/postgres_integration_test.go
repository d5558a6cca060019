//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"colorstock/backend/internal/domain"
	"colorstock/backend/internal/store"
)

// setupStore connects to COLORSTOCK_TEST_DATABASE_URL when set and otherwise
// starts a throwaway postgres container.
func setupStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	databaseURL := os.Getenv("COLORSTOCK_TEST_DATABASE_URL")
	if databaseURL == "" {
		pgContainer, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("colorstock_test"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

		databaseURL, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx, "up"))
	_, err = s.db.ExecContext(ctx, `TRUNCATE sales, product_variants, products, colors, categories, users`)
	require.NoError(t, err)
	return s
}

func seedProduct(t *testing.T, s *Store, name string, amount int) *domain.Product {
	t.Helper()
	ctx := context.Background()

	category, err := s.CreateCategory(ctx, domain.Category{Name: "cat-" + name, IsActive: true})
	require.NoError(t, err)
	color, err := s.CreateColor(ctx, domain.Color{Name: "color-" + name, IsActive: true})
	require.NoError(t, err)
	product, err := s.CreateProduct(ctx, domain.Product{
		Name:          name,
		CategoryID:    category.ID,
		MinStockAlert: domain.DefaultMinStockAlert,
		IsActive:      true,
		Variants: []domain.Variant{{
			ColorID:   color.ID,
			Amount:    amount,
			PriceCost: decimal.NewFromInt(5),
			PriceSell: decimal.NewFromInt(8),
		}},
	})
	require.NoError(t, err)
	require.Len(t, product.Variants, 1)
	return product
}

func TestAdjustVariantAmountIsConditional(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "Camiseta", 2)
	variantID := product.Variants[0].ID

	_, err := s.AdjustVariantAmount(ctx, product.ID, variantID, -5)
	var stockErr *store.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, "Camiseta", stockErr.ProductName)

	updated, err := s.AdjustVariantAmount(ctx, product.ID, variantID, -2)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Variants[0].Amount)

	_, err = s.AdjustVariantAmount(ctx, product.ID, "0190a0b0-0000-7000-8000-000000000000", 1)
	assert.True(t, store.IsNotFoundEntity(err, "variant"))
}

func TestCatalogWritesDoNotOverwriteStock(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "Gorra", 10)
	stale := product.Clone()

	_, err := s.AdjustVariantAmount(ctx, product.ID, product.Variants[0].ID, -3)
	require.NoError(t, err)

	stale.Name = "Gorra Plana"
	updated, err := s.UpdateProduct(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, "Gorra Plana", updated.Name)
	assert.Equal(t, 7, updated.Variants[0].Amount)

	off, err := s.SetProductActive(ctx, product.ID, false)
	require.NoError(t, err)
	assert.False(t, off.IsActive)
	assert.Equal(t, 7, off.Variants[0].Amount)
}

func TestAtomicallyRollsBackStockAndLedger(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "Taza", 10)
	variantID := product.Variants[0].ID

	boom := errors.New("boom")
	err := s.Atomically(ctx, func(tx store.Tx) error {
		if _, err := tx.AdjustVariantAmount(ctx, product.ID, variantID, -3); err != nil {
			return err
		}
		if _, err := tx.AppendSale(ctx, domain.Sale{
			Items: []domain.SaleLineItem{{ProductID: product.ID, VariantID: variantID, Name: "Taza", Quantity: 3,
				PriceAtSale: decimal.NewFromInt(8), PriceCostAtSale: decimal.NewFromInt(5)}},
			TotalAmount: decimal.NewFromInt(24),
			TotalProfit: decimal.NewFromInt(9),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	reloaded, err := s.FindProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, reloaded.Variants[0].Amount)

	sales, err := s.QuerySales(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestSaleLedgerRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "Gorra", 10)

	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.AppendSale(ctx, domain.Sale{
			Items: []domain.SaleLineItem{{ProductID: product.ID, VariantID: product.Variants[0].ID, Name: "Gorra", Quantity: 1,
				PriceAtSale: decimal.RequireFromString("8.50"), PriceCostAtSale: decimal.NewFromInt(5)}},
			TotalAmount: decimal.RequireFromString("8.50"),
			TotalProfit: decimal.RequireFromString("3.50"),
			CreatedAt:   base.Add(time.Duration(i) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}

	all, err := s.QuerySales(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))
	assert.True(t, all[0].Items[0].PriceAtSale.Equal(decimal.RequireFromString("8.50")))

	window := &domain.DateRange{From: base, To: base.Add(24 * time.Hour)}
	windowed, err := s.QuerySales(ctx, window)
	require.NoError(t, err)
	assert.Len(t, windowed, 2)

	removed, err := s.RemoveSale(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, all[0].ID, removed.ID)

	_, err = s.RemoveSale(ctx, all[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "Bolso", 5)
	variantID := product.Variants[0].ID

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Atomically(ctx, func(tx store.Tx) error {
				_, err := tx.AdjustVariantAmount(ctx, product.ID, variantID, -1)
				return err
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	reloaded, err := s.FindProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.Variants[0].Amount)
}

func TestCatalogConstraints(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "Mochila", 1)

	_, err := s.CreateProduct(ctx, domain.Product{Name: "MOCHILA", CategoryID: product.CategoryID, IsActive: true})
	assert.ErrorIs(t, err, store.ErrConflict)

	err = s.DeleteCategory(ctx, product.CategoryID)
	assert.ErrorIs(t, err, store.ErrConflict)

	found, err := s.FindProductByName(ctx, "mochila")
	require.NoError(t, err)
	assert.Equal(t, product.ID, found.ID)

	listed, err := s.ListProducts(ctx, domain.ProductFilter{NameContains: "chi"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Len(t, listed[0].Variants, 1)

	count, err := s.CountProductsByColor(ctx, product.Variants[0].ColorID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
