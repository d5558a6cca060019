package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colorstock/backend/internal/domain"
	"colorstock/backend/internal/xid"
)

func newTestRedisCache(t *testing.T) (*RedisReportCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	base := NewRedisReportCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = base.Close() })
	require.NoError(t, base.Ping(context.Background()))
	return base.WithPrefix("colorstock-test:" + xid.New()), mr
}

func sampleReport() *domain.SalesReport {
	return &domain.SalesReport{
		Sales:        []domain.Sale{},
		TotalRevenue: decimal.NewFromInt(24),
		TotalProfit:  decimal.NewFromInt(9),
		Count:        1,
	}
}

func TestNoopReportCacheNeverHits(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	ctx := context.Background()

	got, slot, err := c.Get(ctx, "all")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, c.Set(ctx, slot, &domain.SalesReport{Count: 1}, time.Minute))
	got, _, err = c.Get(ctx, "all")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, c.Invalidate(ctx))
}

func TestRedisReportCacheInvalidateBumpsGeneration(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	miss, slot, err := c.Get(ctx, "all")
	require.NoError(t, err)
	require.Nil(t, miss)
	require.NotEmpty(t, slot)

	report := sampleReport()
	require.NoError(t, c.Set(ctx, slot, report, time.Minute))

	got, _, err := c.Get(ctx, "all")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.TotalRevenue.Equal(report.TotalRevenue))
	assert.Equal(t, 1, got.Count)

	require.NoError(t, c.Invalidate(ctx))
	got, newSlot, err := c.Get(ctx, "all")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NotEqual(t, slot, newSlot)
}

func TestRedisReportCacheSetAfterInvalidateIsUnreachable(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	_, slot, err := c.Get(ctx, "all")
	require.NoError(t, err)

	// A ledger change lands between the lookup and the write.
	require.NoError(t, c.Invalidate(ctx))
	require.NoError(t, c.Set(ctx, slot, sampleReport(), time.Minute))

	got, _, err := c.Get(ctx, "all")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisReportCacheEntriesExpire(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	_, slot, err := c.Get(ctx, "all")
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, slot, sampleReport(), 30*time.Second))
	assert.True(t, mr.Exists(string(slot)))

	mr.FastForward(31 * time.Second)

	got, _, err := c.Get(ctx, "all")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisReportCacheReportsConnectionErrors(t *testing.T) {
	c, mr := newTestRedisCache(t)
	mr.Close()

	got, slot, err := c.Get(context.Background(), "all")
	assert.Error(t, err)
	assert.Nil(t, got)
	assert.Empty(t, slot)
}
