package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"colorstock/backend/internal/domain"
)

const dateLayout = "2006-01-02"

// ListSales returns sales newest first with revenue and profit totals. The
// window applies only when both bounds are given; a date-only end bound
// covers that whole day.
func (s *Service) ListSales(ctx context.Context, startDate string, endDate string) (domain.SalesReport, error) {
	window, err := ParseSalesWindow(startDate, endDate)
	if err != nil {
		return domain.SalesReport{}, err
	}

	key := reportKey(window)
	// The slot is resolved before querying; an invalidation that lands while
	// the query runs leaves this report unreachable.
	cached, slot, err := s.reports.Get(ctx, key)
	if err != nil {
		s.log.Error(s.log.WithField(ctx, "cache_key", key), "report cache read failed", err)
		slot = ""
	}
	if cached != nil {
		s.metrics.ReportCache(true)
		return *cached, nil
	}
	s.metrics.ReportCache(false)

	sales, err := s.repo.QuerySales(ctx, window)
	if err != nil {
		return domain.SalesReport{}, err
	}
	report := BuildReport(sales)

	if slot != "" {
		if err := s.reports.Set(ctx, slot, &report, s.reportTTL); err != nil {
			s.log.Error(s.log.WithField(ctx, "cache_key", key), "report cache write failed", err)
		}
	}
	return report, nil
}

// BuildReport totals sales; an empty input yields zero totals and an empty list.
func BuildReport(sales []domain.Sale) domain.SalesReport {
	report := domain.SalesReport{
		Sales:        make([]domain.Sale, 0, len(sales)),
		TotalRevenue: decimal.Zero,
		TotalProfit:  decimal.Zero,
	}
	for _, sale := range sales {
		report.Sales = append(report.Sales, sale)
		report.TotalRevenue = report.TotalRevenue.Add(sale.TotalAmount)
		report.TotalProfit = report.TotalProfit.Add(sale.TotalProfit)
	}
	report.Count = len(report.Sales)
	return report
}

// ParseSalesWindow accepts YYYY-MM-DD or RFC3339 bounds. It returns nil when
// either bound is missing.
func ParseSalesWindow(startDate string, endDate string) (*domain.DateRange, error) {
	startDate = strings.TrimSpace(startDate)
	endDate = strings.TrimSpace(endDate)

	var from, to time.Time
	var err error
	if startDate != "" {
		if from, err = parseBound(startDate, false); err != nil {
			return nil, &ValidationError{Message: "invalid date", Fields: map[string]string{"startDate": err.Error()}}
		}
	}
	if endDate != "" {
		if to, err = parseBound(endDate, true); err != nil {
			return nil, &ValidationError{Message: "invalid date", Fields: map[string]string{"endDate": err.Error()}}
		}
	}
	if startDate == "" || endDate == "" {
		return nil, nil
	}
	if from.After(to) {
		return nil, invalid("startDate must not be after endDate")
	}
	return &domain.DateRange{From: from, To: to}, nil
}

func parseBound(value string, endOfDay bool) (time.Time, error) {
	if day, err := time.ParseInLocation(dateLayout, value, time.UTC); err == nil {
		if endOfDay {
			return day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
		}
		return day, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be YYYY-MM-DD or RFC3339")
	}
	return ts.UTC(), nil
}

func reportKey(window *domain.DateRange) string {
	if window == nil {
		return "all"
	}
	return fmt.Sprintf("%d-%d", window.From.UnixNano(), window.To.UnixNano())
}
