package observability

import (
	"time"

	"github.com/autolavaggio/kiosk-controller/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the kiosk controller.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	payments       *prometheus.CounterVec
	scans          *prometheus.CounterVec
	externalErrors *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	cycles         prometheus.Counter
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		payments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_payments_total",
				Help: "Payment captures by terminal outcome.",
			},
			[]string{"status"},
		),
		scans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_scans_total",
				Help: "QR token validations by reason.",
			},
			[]string{"reason"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_external_errors_total",
				Help: "Total errors from external collaborators.",
			},
			[]string{"service"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kiosk_cycle_duration_seconds",
				Help:    "Duration of one workflow cycle, selection to receipt.",
				Buckets: []float64{5, 15, 30, 60, 120, 300},
			},
		),
		cycles: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kiosk_cycles_completed_total",
				Help: "Workflow cycles that reached the receipt screen.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// IncrPayment increments the payment counter with the terminal outcome.
func (m *Metrics) IncrPayment(status domain.TransactionStatus) {
	m.payments.WithLabelValues(string(status)).Inc()
}

// IncrScan increments the scan counter with the validation reason.
func (m *Metrics) IncrScan(reason domain.ValidationReason) {
	m.scans.WithLabelValues(string(reason)).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// RecordCycle records a completed workflow cycle and its duration.
func (m *Metrics) RecordCycle(d time.Duration) {
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// GetKioskSnapshot returns a snapshot of the controller counters suitable
// for the GET /v1/maintenance/metrics endpoint.
func (m *Metrics) GetKioskSnapshot() *domain.KioskMetrics {
	return &domain.KioskMetrics{
		PaymentsApproved:  int64(getCounterValue(m.payments, string(domain.PaymentSuccess))),
		PaymentsCancelled: int64(getCounterValue(m.payments, string(domain.PaymentCancelled))),
		PaymentsFailed:    int64(getCounterValue(m.payments, string(domain.PaymentError))),
		ValidScans:        int64(getCounterValue(m.scans, string(domain.ReasonValid))),
		RejectedScans: int64(getCounterValue(m.scans, string(domain.ReasonAlreadyUsed)) +
			getCounterValue(m.scans, string(domain.ReasonNotFound)) +
			getCounterValue(m.scans, string(domain.ReasonMissingToken)) +
			getCounterValue(m.scans, string(domain.ReasonRequestFailed)) +
			getCounterValue(m.scans, string(domain.ReasonOther))),
		PersistenceErrors: int64(getCounterValue(m.externalErrors, "supabase")),
		PrintErrors:       int64(getCounterValue(m.externalErrors, "printer")),
		CyclesCompleted:   int64(getSingleCounterValue(m.cycles)),
		CollectedAt:       time.Now(),
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func getSingleCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
