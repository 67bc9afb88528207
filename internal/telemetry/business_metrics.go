package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for the recurring billing cycle.
// Methods are safe to call on a nil receiver so components can run without metrics.
type BusinessMetrics struct {
	// Order lifecycle
	OrdersCreated   *prometheus.CounterVec
	OrdersRefreshed *prometheus.CounterVec
	OrdersCanceled  *prometheus.CounterVec
	OrdersClosed    *prometheus.CounterVec
	OrdersRenewed   *prometheus.CounterVec
	OrderValue      *prometheus.HistogramVec

	// Payments and dunning
	PaymentAttempts  *prometheus.CounterVec
	PaymentDeclined  *prometheus.CounterVec
	DunningGiveUps   *prometheus.CounterVec
	RevenueCollected *prometheus.CounterVec

	// Subscriptions
	SubscriptionStateChanges *prometheus.CounterVec

	// Background jobs
	JobsEnqueued  *prometheus.CounterVec
	JobsProcessed *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec

	// External API performance
	GatewayLatency *prometheus.HistogramVec
}

// NewBusinessMetrics creates and registers all business metrics on reg.
// A nil reg registers on the default registry.
func NewBusinessMetrics(namespace string, reg prometheus.Registerer) *BusinessMetrics {
	if namespace == "" {
		namespace = "recurring"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	subsystem := "business"

	m := &BusinessMetrics{
		// =======================================================================
		// Order Lifecycle
		// =======================================================================
		OrdersCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "recurring_orders_created_total",
				Help:      "Total recurring orders created",
			},
			[]string{"source"}, // source: ensure, renew
		),
		OrdersRefreshed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "recurring_orders_refreshed_total",
				Help:      "Total recurring order refreshes that changed the order",
			},
			[]string{"billing_type"},
		),
		OrdersCanceled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "recurring_orders_canceled_total",
				Help:      "Total recurring orders canceled because no charges remained",
			},
			[]string{"billing_type"},
		),
		OrdersClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "recurring_orders_closed_total",
				Help:      "Total recurring orders completed",
			},
			[]string{"currency"},
		),
		OrdersRenewed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "recurring_orders_renewed_total",
				Help:      "Total renewals into the next billing period",
			},
			[]string{"outcome"}, // outcome: created, existing, inactive
		),
		OrderValue: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "recurring_order_value",
				Help:      "Closed recurring order totals in major currency units",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"currency"},
		),

		// =======================================================================
		// Payments and Dunning
		// =======================================================================
		PaymentAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_attempts_total",
				Help:      "Total capture attempts sent to the payment gateway",
			},
			[]string{"gateway"},
		),
		PaymentDeclined: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_declined_total",
				Help:      "Total declined captures handled by dunning",
			},
			[]string{"outcome"}, // outcome: retry, give_up
		),
		DunningGiveUps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dunning_exhausted_total",
				Help:      "Total orders marked failed after dunning was exhausted",
			},
			[]string{"unpaid_state"},
		),
		RevenueCollected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "revenue_collected_minor_units_total",
				Help:      "Total captured revenue in minor currency units",
			},
			[]string{"currency"},
		),

		// =======================================================================
		// Subscriptions
		// =======================================================================
		SubscriptionStateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscription_state_changes_total",
				Help:      "Total subscription state changes applied by the billing engine",
			},
			[]string{"to_state"},
		),

		// =======================================================================
		// Background Jobs
		// =======================================================================
		JobsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_enqueued_total",
				Help:      "Total background jobs enqueued",
			},
			[]string{"job_type"},
		),
		JobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_processed_total",
				Help:      "Total background jobs successfully processed",
			},
			[]string{"job_type"},
		),
		JobsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_failed_total",
				Help:      "Total background job attempts that failed",
			},
			[]string{"job_type", "final"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_duration_seconds",
				Help:      "Background job execution duration",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"job_type"},
		),

		// =======================================================================
		// External API Performance
		// =======================================================================
		GatewayLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gateway_api_duration_seconds",
				Help:      "Payment gateway call duration",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"gateway", "operation"},
		),
	}

	return m
}

func (m *BusinessMetrics) OrderCreated(source string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(source).Inc()
}

func (m *BusinessMetrics) OrderRefreshed(billingType string) {
	if m == nil {
		return
	}
	m.OrdersRefreshed.WithLabelValues(billingType).Inc()
}

func (m *BusinessMetrics) OrderCanceled(billingType string) {
	if m == nil {
		return
	}
	m.OrdersCanceled.WithLabelValues(billingType).Inc()
}

// OrderClosed records a completed order and the revenue it collected.
func (m *BusinessMetrics) OrderClosed(currency string, total float64, minorUnits int64) {
	if m == nil {
		return
	}
	m.OrdersClosed.WithLabelValues(currency).Inc()
	m.OrderValue.WithLabelValues(currency).Observe(total)
	if minorUnits > 0 {
		m.RevenueCollected.WithLabelValues(currency).Add(float64(minorUnits))
	}
}

func (m *BusinessMetrics) OrderRenewed(outcome string) {
	if m == nil {
		return
	}
	m.OrdersRenewed.WithLabelValues(outcome).Inc()
}

// PaymentAttempt records one gateway capture and its latency.
func (m *BusinessMetrics) PaymentAttempt(gateway string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PaymentAttempts.WithLabelValues(gateway).Inc()
	m.GatewayLatency.WithLabelValues(gateway, "capture").Observe(elapsed.Seconds())
}

func (m *BusinessMetrics) Declined(outcome string) {
	if m == nil {
		return
	}
	m.PaymentDeclined.WithLabelValues(outcome).Inc()
}

func (m *BusinessMetrics) DunningExhausted(unpaidState string) {
	if m == nil {
		return
	}
	m.DunningGiveUps.WithLabelValues(unpaidState).Inc()
}

func (m *BusinessMetrics) SubscriptionStateChanged(to string) {
	if m == nil {
		return
	}
	m.SubscriptionStateChanges.WithLabelValues(to).Inc()
}

func (m *BusinessMetrics) JobEnqueued(jobType string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(jobType).Inc()
}

// JobFinished records the outcome and duration of one job attempt.
func (m *BusinessMetrics) JobFinished(jobType string, elapsed time.Duration, failed, final bool) {
	if m == nil {
		return
	}
	m.JobDuration.WithLabelValues(jobType).Observe(elapsed.Seconds())
	if !failed {
		m.JobsProcessed.WithLabelValues(jobType).Inc()
		return
	}
	finalLabel := "false"
	if final {
		finalLabel = "true"
	}
	m.JobsFailed.WithLabelValues(jobType, finalLabel).Inc()
}
