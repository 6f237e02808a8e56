package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingQuotesTotal counts pricing runs by result (ok, coupon_rejected, error).
	PricingQuotesTotal *prometheus.CounterVec
	// ShippingResolutionTotal counts resolutions by outcome (digital, zone, default, fallback).
	ShippingResolutionTotal *prometheus.CounterVec
	// FreeShippingAppliedTotal counts waived shipping charges by cause (threshold, coupon).
	FreeShippingAppliedTotal *prometheus.CounterVec
	// ZoneFetchTotal counts zone data loads by source and result.
	ZoneFetchTotal *prometheus.CounterVec
	// ZoneFetchLatency records zone data load latency in milliseconds.
	ZoneFetchLatency *prometheus.HistogramVec
	// CouponApplyTotal counts coupon application attempts by result.
	CouponApplyTotal *prometheus.CounterVec
	// RateLimitedTotal counts requests rejected by the rate limiter per route.
	RateLimitedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises the pricing collectors once per
// process. Until it runs the helpers below are no-ops.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		counter := func(name, help string, labels ...string) *prometheus.CounterVec {
			return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      name,
				Help:      help,
			}, labels))
		}

		PricingQuotesTotal = counter("pricing_quotes_total", "Count of pricing runs by result.", "result")
		ShippingResolutionTotal = counter("shipping_resolution_total", "Count of shipping resolutions by outcome.", "outcome")
		FreeShippingAppliedTotal = counter("free_shipping_applied_total", "Count of waived shipping charges by cause.", "cause")
		ZoneFetchTotal = counter("zone_fetch_total", "Count of shipping zone loads by source and result.", "source", "result")
		CouponApplyTotal = counter("coupon_apply_total", "Count of coupon application attempts by result.", "result")
		RateLimitedTotal = counter("rate_limited_total", "Count of requests rejected by the rate limiter.", "route")
		ZoneFetchLatency = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "zone_fetch_duration_ms",
			Help:      "Latency of shipping zone loads in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"source"}))
	})
}

// IncCounter increments vec when the domain metrics are registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// ObserveHistogram records value when the domain metrics are registered.
func ObserveHistogram(vec *prometheus.HistogramVec, value float64, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Observe(value)
}
