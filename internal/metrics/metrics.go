package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors the server exports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	httpDuration  *prometheus.HistogramVec
	salesCreated  prometheus.Counter
	salesDeleted  prometheus.Counter
	saleRejected  *prometheus.CounterVec
	revenue       prometheus.Counter
	stockAdjusted *prometheus.CounterVec
	reportCache   *prometheus.CounterVec
}

// New registers the collectors on the provided registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		salesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sales_created_total",
			Help: "Sales committed to the ledger.",
		}),
		salesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sales_deleted_total",
			Help: "Sales removed from the ledger with stock restored.",
		}),
		saleRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sales_rejected_total",
			Help: "Sale attempts rejected before commit.",
		}, []string{"reason"}),
		revenue: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sales_revenue_total",
			Help: "Revenue of committed sales in currency units.",
		}),
		stockAdjusted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_adjustments_total",
			Help: "Variant stock movements by source.",
		}, []string{"source"}),
		reportCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_cache_requests_total",
			Help: "Sales report cache lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.httpDuration, m.salesCreated, m.salesDeleted, m.saleRejected, m.revenue, m.stockAdjusted, m.reportCache)
	return m
}

func (m *Metrics) ObserveHTTP(method string, route string, status int, duration time.Duration) {
	if m == nil || m.httpDuration == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, normalizeLabel(route), strconv.Itoa(status)).Observe(duration.Seconds())
}

func (m *Metrics) SaleCreated(revenue float64) {
	if m == nil || m.salesCreated == nil {
		return
	}
	m.salesCreated.Inc()
	if revenue > 0 {
		m.revenue.Add(revenue)
	}
}

func (m *Metrics) SaleDeleted() {
	if m == nil || m.salesDeleted == nil {
		return
	}
	m.salesDeleted.Inc()
}

func (m *Metrics) SaleRejected(reason string) {
	if m == nil || m.saleRejected == nil {
		return
	}
	m.saleRejected.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) StockAdjusted(source string) {
	if m == nil || m.stockAdjusted == nil {
		return
	}
	m.stockAdjusted.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) ReportCache(hit bool) {
	if m == nil || m.reportCache == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.reportCache.WithLabelValues(result).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
