package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "registry"

// Ledger collects per-transaction counters for a ledger node.
type Ledger struct {
	transactions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	upgrades     *prometheus.CounterVec
	contracts    prometheus.Gauge
	journaled    prometheus.Counter
}

// NewLedger registers the collectors on reg.
func NewLedger(reg prometheus.Registerer) *Ledger {
	m := &Ledger{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Ledger transactions by kind, entry point and outcome.",
		}, []string{"kind", "method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Time spent executing a ledger transaction under the ledger lock.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		}, []string{"kind"}),
		upgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upgrades_total",
			Help:      "change_contract attempts by outcome.",
		}, []string{"outcome"}),
		contracts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "contracts",
			Help:      "Contract instances currently held in ledger state.",
		}),
		journaled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journaled_transactions_total",
			Help:      "Transactions appended to the commit log.",
		}),
	}
	reg.MustRegister(m.transactions, m.duration, m.upgrades, m.contracts, m.journaled)
	return m
}

func (m *Ledger) ObserveTransaction(kind, method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(kind, method, outcome).Inc()
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
	if method == "change_contract" {
		m.upgrades.WithLabelValues(outcome).Inc()
	}
}

func (m *Ledger) SetContracts(n int) {
	if m == nil {
		return
	}
	m.contracts.Set(float64(n))
}

func (m *Ledger) Journaled() {
	if m == nil {
		return
	}
	m.journaled.Inc()
}

// Handler serves the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
