package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tableside"

var (
	once sync.Once

	reservationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_created_total",
			Help:      "Count of reservations and waiting-list entries created by kind.",
		},
		[]string{"kind"},
	)

	checkIns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkins_total",
			Help:      "Count of check-in attempts by outcome.",
		},
		[]string{"outcome"},
	)

	holds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_total",
			Help:      "Count of table hold attempts by outcome.",
		},
		[]string{"outcome"},
	)

	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Count of payment attempts by outcome.",
		},
		[]string{"outcome"},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Count of reconciler sweep runs by task and result.",
		},
		[]string{"task", "result"},
	)

	sweepItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Count of items processed by reconciler sweeps.",
		},
		[]string{"task", "outcome"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent in one reconciler sweep.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"task"},
	)

	tablesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tables_by_state",
			Help:      "Number of active tables in each state.",
		},
		[]string{"state"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Count of notifications by kind and status.",
		},
		[]string{"kind", "status"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			reservationsCreated, checkIns, holds, payments,
			sweepRuns, sweepItems, sweepDuration,
			tablesByState, notifications,
		)
	})
}

func IncReservationCreated(kind string) {
	reservationsCreated.WithLabelValues(kind).Inc()
}

func IncCheckIn(outcome string) {
	checkIns.WithLabelValues(outcome).Inc()
}

func IncHold(outcome string) {
	holds.WithLabelValues(outcome).Inc()
}

func IncPayment(outcome string) {
	payments.WithLabelValues(outcome).Inc()
}

// ObserveSweep records one sweep run.
func ObserveSweep(task, result string, took time.Duration) {
	sweepRuns.WithLabelValues(task, result).Inc()
	sweepDuration.WithLabelValues(task).Observe(took.Seconds())
}

func AddSweepItems(task, outcome string, n int) {
	if n <= 0 {
		return
	}
	sweepItems.WithLabelValues(task, outcome).Add(float64(n))
}

// SetTablesByState replaces the per-state gauge values.
func SetTablesByState(counts map[string]int) {
	for _, state := range []string{"FREE", "RESERVED", "OCCUPIED"} {
		tablesByState.WithLabelValues(state).Set(float64(counts[state]))
	}
}

func IncNotification(kind, status string) {
	notifications.WithLabelValues(kind, status).Inc()
}
