package cache

import (
	"context"
	"time"

	"colorstock/backend/internal/domain"
)

// Slot is where a freshly computed report goes. It is resolved by Get and
// pinned to the cache generation seen at that moment, so a report computed
// across an Invalidate is written where no later Get will find it.
type Slot string

// ReportCache stores computed sales reports. Invalidate drops every entry at
// once; callers use it after any ledger change.
type ReportCache interface {
	// Get returns the cached report for key, or nil on a miss, together with
	// the slot Set must use for that key.
	Get(ctx context.Context, key string) (*domain.SalesReport, Slot, error)
	Set(ctx context.Context, slot Slot, value *domain.SalesReport, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.SalesReport, Slot, error) {
	return nil, "", nil
}

func (NoopReportCache) Set(_ context.Context, _ Slot, _ *domain.SalesReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context) error {
	return nil
}
